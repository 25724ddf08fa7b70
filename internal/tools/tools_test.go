package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultShowPanel(t *testing.T) {
	v := ParseResult(json.RawMessage(`{"action":"show_panel","panel":"portfolio","symbol":"tsla"}`))

	sp, ok := v.(ShowPanel)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, "portfolio", sp.Panel)
	assert.Equal(t, "tsla", sp.Symbol)
}

func TestParseResultShowPanelPartialFields(t *testing.T) {
	v := ParseResult(json.RawMessage(`{"action":"show_panel","panel":42}`))

	sp, ok := v.(ShowPanel)
	require.True(t, ok)
	assert.Empty(t, sp.Panel, "non-string panel is treated as absent")
	assert.Empty(t, sp.Symbol)
}

func TestParseResultUnstructured(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		object bool
	}{
		{name: "plain object", raw: `{"price":150}`, object: true},
		{name: "other action", raw: `{"action":"open_url","url":"x"}`, object: true},
		{name: "array", raw: `[1,2]`},
		{name: "string", raw: `"done"`},
		{name: "empty", raw: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseResult(json.RawMessage(tt.raw))
			u, ok := v.(Unstructured)
			require.True(t, ok, "got %T", v)
			assert.Equal(t, tt.object, u.Object != nil)
		})
	}
}

func TestParseArgs(t *testing.T) {
	v := ParseArgs("get_quote", json.RawMessage(`{"symbol":" aapl "}`))
	assert.Equal(t, SymbolArgs{Symbol: "AAPL"}, v)

	v = ParseArgs("get_quote", json.RawMessage(`{"ticker":"AAPL"}`))
	assert.IsType(t, Unstructured{}, v)

	v = ParseArgs("place_order", json.RawMessage(`{"symbol":"AAPL","qty":1}`))
	u, ok := v.(Unstructured)
	require.True(t, ok)
	assert.Equal(t, "AAPL", u.Object["symbol"])
}
