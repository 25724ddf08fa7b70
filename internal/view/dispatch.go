package view

import (
	"log/slog"
	"strings"

	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/tools"
)

// Transition returns the state after frame f. Only a tool result shaped as a
// show_panel action can change anything; every other frame, including text
// that mentions a panel or ticker, leaves s as it is.
func Transition(s State, f stream.Frame) (State, bool) {
	action, ok := showPanel(f)
	if !ok {
		return s, false
	}

	next := s
	if p, ok := LookupPanel(action.Panel); ok {
		next.ActivePanel = p
	}
	if sym := normalizeSymbol(action.Symbol); sym != "" {
		next.ActiveSymbol = sym
	}
	return next, next != s
}

// Dispatcher applies Transition to a Store.
type Dispatcher struct {
	store  *Store
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher writing to store.
func NewDispatcher(store *Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, logger: logger}
}

// Dispatch applies f and reports the resulting state and whether it changed.
func (d *Dispatcher) Dispatch(f stream.Frame) (State, bool) {
	if action, ok := showPanel(f); ok && action.Panel != "" {
		if _, known := LookupPanel(action.Panel); !known {
			// Newer backends may send panels this client does not have.
			d.logger.Debug("ignoring unrecognized panel", "panel", action.Panel, "tool", f.ToolResult.ToolName)
		}
	}
	return d.store.update(func(s State) (State, bool) {
		return Transition(s, f)
	})
}

func showPanel(f stream.Frame) (tools.ShowPanel, bool) {
	if f.Kind != stream.KindToolResult || f.ToolResult == nil {
		return tools.ShowPanel{}, false
	}
	action, ok := tools.ParseResult(f.ToolResult.Result).(tools.ShowPanel)
	return action, ok
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
