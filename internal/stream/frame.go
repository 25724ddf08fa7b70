// Package stream decodes the line-delimited chat response protocol and folds
// decoded frames into a single growing assistant message.
//
// Each line on the wire has the form
//
//	<tag>:<json-payload>
//
// where tag is one character. Decoding never fails: malformed text payloads
// fall back to their raw body and malformed tool payloads become KindUnknown.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wire tags.
const (
	TagText       = '0'
	TagThinking   = '3'
	TagToolCall   = '9'
	TagToolResult = 'a'
	TagError      = 'e'
	TagDone       = 'd'
)

// Kind identifies what a decoded frame carries.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
	KindError      Kind = "error"
	KindUnknown    Kind = "unknown"
)

// Tool call states as sent by the backend.
const (
	WireStatePartialCall = "partial-call"
	WireStateCall        = "call"
)

// ToolCall is the payload of a tool-call frame.
type ToolCall struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      string          `json:"state,omitempty"`
}

// ToolResult is the payload of a tool-result frame.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ProtocolError is the payload of an error frame. Detail holds the decoded
// object when the payload was a JSON object; Raw always holds the body.
type ProtocolError struct {
	Detail map[string]any
	Raw    string
}

func (e *ProtocolError) Error() string {
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := e.Detail[key].(string); ok && s != "" {
			return "stream error: " + s
		}
	}
	return "stream error: " + e.Raw
}

// Frame is one decoded line. Exactly one payload field is set, matching Kind;
// KindUnknown frames carry none.
type Frame struct {
	Kind       Kind
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Error      *ProtocolError
	// Raw is the undecoded line, kept for diagnostics.
	Raw string
}

func (f Frame) String() string {
	switch f.Kind {
	case KindText, KindThinking:
		return fmt.Sprintf("%s(%q)", f.Kind, f.Text)
	case KindToolCall:
		return fmt.Sprintf("%s(%s)", f.Kind, f.ToolCall.ToolName)
	case KindToolResult:
		return fmt.Sprintf("%s(%s)", f.Kind, f.ToolResult.ToolName)
	case KindError:
		return fmt.Sprintf("%s(%s)", f.Kind, f.Error.Raw)
	default:
		return string(f.Kind)
	}
}

// Decode parses one complete line.
func Decode(line string) Frame {
	unknown := Frame{Kind: KindUnknown, Raw: line}

	tag, body, ok := strings.Cut(line, ":")
	if !ok || len(tag) != 1 {
		return unknown
	}

	switch tag[0] {
	case TagText:
		return Frame{Kind: KindText, Text: decodeString(body), Raw: line}
	case TagThinking:
		return Frame{Kind: KindThinking, Text: decodeString(body), Raw: line}
	case TagToolCall:
		var call ToolCall
		if !decodeObject(body, &call) || call.ToolName == "" {
			return unknown
		}
		return Frame{Kind: KindToolCall, ToolCall: &call, Raw: line}
	case TagToolResult:
		var result ToolResult
		if !decodeObject(body, &result) || result.ToolName == "" {
			return unknown
		}
		return Frame{Kind: KindToolResult, ToolResult: &result, Raw: line}
	case TagError:
		perr := &ProtocolError{Raw: body}
		var detail map[string]any
		if decodeObject(body, &detail) {
			perr.Detail = detail
		}
		return Frame{Kind: KindError, Error: perr, Raw: line}
	default:
		// TagDone and anything newer than this client.
		return unknown
	}
}

// decodeString returns the JSON string in body, or body itself when it is
// not one. Text frames must never be dropped.
func decodeString(body string) string {
	var s string
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return body
	}
	return s
}

// decodeObject unmarshals body into v only if body is a JSON object.
func decodeObject(body string, v any) bool {
	trimmed := bytes.TrimSpace([]byte(body))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Unmarshal(trimmed, v) == nil
}
