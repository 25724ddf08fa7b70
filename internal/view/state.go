// Package view holds the client view state driven by the chat stream: which
// content panel is showing and which symbol is selected.
//
// State lives in a Store that is injected where it is needed. Only the
// Dispatcher and the Scanner write to it; everything else reads snapshots.
package view

import (
	"sort"
	"sync"
)

// Panel is one of the mutually exclusive content views.
type Panel string

const (
	PanelNone              Panel = "none"
	PanelChart             Panel = "chart"
	PanelPortfolio         Panel = "portfolio"
	PanelOrders            Panel = "orders"
	PanelScreener          Panel = "screener"
	PanelAlerts            Panel = "alerts"
	PanelCalendar          Panel = "calendar"
	PanelNews              Panel = "news"
	PanelDeepValue         Panel = "deep-value"
	PanelHedgedPositions   Panel = "hedged-positions"
	PanelOptionsScreener   Panel = "options-screener"
	PanelOptionsBuilder    Panel = "options-builder"
	PanelPredictionMarkets Panel = "prediction-markets"
	PanelThesis            Panel = "thesis"
	PanelJournal           Panel = "journal"
	PanelInsights          Panel = "insights"
)

// panelKeys maps the keys a show_panel result may carry to panels. Thesis,
// journal and insights are only opened by the user, never by the backend.
var panelKeys = map[string]Panel{
	"chart":              PanelChart,
	"portfolio":          PanelPortfolio,
	"orders":             PanelOrders,
	"screener":           PanelScreener,
	"alerts":             PanelAlerts,
	"calendar":           PanelCalendar,
	"news":               PanelNews,
	"deep-value":         PanelDeepValue,
	"hedged-positions":   PanelHedgedPositions,
	"options-screener":   PanelOptionsScreener,
	"options-builder":    PanelOptionsBuilder,
	"prediction-markets": PanelPredictionMarkets,
}

// LookupPanel maps a show_panel key to its panel.
func LookupPanel(key string) (Panel, bool) {
	p, ok := panelKeys[key]
	return p, ok
}

// PanelKeys returns the recognized show_panel keys in sorted order.
func PanelKeys() []string {
	keys := make([]string, 0, len(panelKeys))
	for k := range panelKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// State is a snapshot of the view.
type State struct {
	ActivePanel  Panel  `json:"activePanel"`
	ActiveSymbol string `json:"activeSymbol,omitempty"`
}

// Store is the shared, mutable view state. It outlives individual turns.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore returns a store with no panel and no symbol selected.
func NewStore() *Store {
	return &Store{state: State{ActivePanel: PanelNone}}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) update(fn func(State) (State, bool)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := fn(s.state)
	if changed {
		s.state = next
	}
	return s.state, changed
}
