// Package tools gives typed views over the opaque args and result values
// carried by tool frames. Decoding a value never fails: anything that does not
// match a known schema comes back as Unstructured.
package tools

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ActionShowPanel is the result action that asks the client to switch panels.
const ActionShowPanel = "show_panel"

// Value is one of the typed variants below.
type Value interface {
	isValue()
}

// ShowPanel is a tool result instructing the client to change its view.
// Panel and Symbol are empty when absent.
type ShowPanel struct {
	Panel  string
	Symbol string
}

// SymbolArgs are the arguments of the market-data tools that take a ticker.
type SymbolArgs struct {
	Symbol string `json:"symbol"`
}

// Unstructured is any value without a known schema. Object is nil when the
// value is not a JSON object.
type Unstructured struct {
	Raw    json.RawMessage
	Object map[string]any
}

func (ShowPanel) isValue()    {}
func (SymbolArgs) isValue()   {}
func (Unstructured) isValue() {}

// symbolTools take a SymbolArgs argument object.
var symbolTools = map[string]bool{
	"get_quote":         true,
	"get_chart":         true,
	"get_news":          true,
	"get_options_chain": true,
	"get_fundamentals":  true,
	"analyze_symbol":    true,
}

// ParseResult interprets a tool result. Results are recognized by shape, not
// by tool name, so any tool may drive the view.
func ParseResult(raw json.RawMessage) Value {
	var payload struct {
		Action string          `json:"action"`
		Panel  json.RawMessage `json:"panel"`
		Symbol json.RawMessage `json:"symbol"`
	}
	if isObject(raw) && json.Unmarshal(raw, &payload) == nil && payload.Action == ActionShowPanel {
		return ShowPanel{
			Panel:  stringOrEmpty(payload.Panel),
			Symbol: stringOrEmpty(payload.Symbol),
		}
	}
	return unstructured(raw)
}

// ParseArgs interprets the arguments of a call to toolName.
func ParseArgs(toolName string, raw json.RawMessage) Value {
	if symbolTools[toolName] && isObject(raw) {
		var args SymbolArgs
		if json.Unmarshal(raw, &args) == nil && strings.TrimSpace(args.Symbol) != "" {
			args.Symbol = strings.ToUpper(strings.TrimSpace(args.Symbol))
			return args
		}
	}
	return unstructured(raw)
}

func unstructured(raw json.RawMessage) Value {
	u := Unstructured{Raw: raw}
	if isObject(raw) {
		var obj map[string]any
		if json.Unmarshal(raw, &obj) == nil {
			u.Object = obj
		}
	}
	return u
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// stringOrEmpty tolerates a panel or symbol sent as a non-string.
func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}
