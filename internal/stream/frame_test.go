package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind Kind
		text string
	}{
		{name: "text", line: `0:"Hello "`, kind: KindText, text: "Hello "},
		{name: "text escapes", line: `0:"a\nb \"q\""`, kind: KindText, text: "a\nb \"q\""},
		{name: "text fallback", line: `0:not-valid-json`, kind: KindText, text: "not-valid-json"},
		{name: "text keeps colons", line: `0:"12:30"`, kind: KindText, text: "12:30"},
		{name: "text fallback keeps colons", line: `0:a:b`, kind: KindText, text: "a:b"},
		{name: "thinking", line: `3:"let me see"`, kind: KindThinking, text: "let me see"},
		{name: "thinking fallback", line: `3:{oops`, kind: KindThinking, text: "{oops"},
		{name: "done marker", line: `d:{"finishReason":"stop"}`, kind: KindUnknown},
		{name: "unknown tag", line: `8:[{"x":1}]`, kind: KindUnknown},
		{name: "no colon", line: `garbage`, kind: KindUnknown},
		{name: "multi-char tag", line: `10:"x"`, kind: KindUnknown},
		{name: "tool call bad json", line: `9:{"toolName":`, kind: KindUnknown},
		{name: "tool call not object", line: `9:"get_quote"`, kind: KindUnknown},
		{name: "tool call no name", line: `9:{"args":{}}`, kind: KindUnknown},
		{name: "tool result bad json", line: `a:{nope}`, kind: KindUnknown},
		{name: "tool result array", line: `a:[1,2]`, kind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Decode(tt.line)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.text, f.Text)
			assert.Equal(t, tt.line, f.Raw)
		})
	}
}

func TestDecodeToolCall(t *testing.T) {
	f := Decode(`9:{"toolCallId":"c1","toolName":"get_quote","args":{"symbol":"AAPL"},"state":"call"}`)

	require.Equal(t, KindToolCall, f.Kind)
	require.NotNil(t, f.ToolCall)
	assert.Equal(t, "c1", f.ToolCall.ToolCallID)
	assert.Equal(t, "get_quote", f.ToolCall.ToolName)
	assert.JSONEq(t, `{"symbol":"AAPL"}`, string(f.ToolCall.Args))
	assert.Equal(t, WireStateCall, f.ToolCall.State)
}

func TestDecodeToolResult(t *testing.T) {
	f := Decode(`a:{"toolName":"get_quote","result":{"price":150}}`)

	require.Equal(t, KindToolResult, f.Kind)
	assert.Equal(t, "get_quote", f.ToolResult.ToolName)
	assert.JSONEq(t, `{"price":150}`, string(f.ToolResult.Result))
}

func TestDecodeErrorFrame(t *testing.T) {
	f := Decode(`e:{"message":"model overloaded","code":529}`)
	require.Equal(t, KindError, f.Kind)
	assert.Equal(t, "stream error: model overloaded", f.Error.Error())
	assert.EqualValues(t, 529, f.Error.Detail["code"])

	raw := Decode(`e:upstream exploded`)
	require.Equal(t, KindError, raw.Kind)
	assert.Nil(t, raw.Error.Detail)
	assert.Equal(t, "upstream exploded", raw.Error.Raw)
	assert.Equal(t, "stream error: upstream exploded", raw.Error.Error())
}
