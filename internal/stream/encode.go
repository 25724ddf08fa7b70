package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Encoder writes frames in the wire format read by Decode. When w is an
// http.Flusher every frame is flushed as soon as it is written.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		enc.flusher = f
	}
	return enc
}

// Text writes a text delta.
func (e *Encoder) Text(s string) error { return e.write(TagText, s) }

// Thinking writes a thinking delta.
func (e *Encoder) Thinking(s string) error { return e.write(TagThinking, s) }

// ToolCall writes a tool call frame.
func (e *Encoder) ToolCall(call ToolCall) error { return e.write(TagToolCall, call) }

// ToolResult writes a tool result frame.
func (e *Encoder) ToolResult(res ToolResult) error { return e.write(TagToolResult, res) }

// Error writes an error frame with a message field.
func (e *Encoder) Error(message string) error {
	return e.write(TagError, map[string]string{"message": message})
}

// Done writes the stream-done marker.
func (e *Encoder) Done(finishReason string) error {
	return e.write(TagDone, map[string]string{"finishReason": finishReason})
}

func (e *Encoder) write(tag byte, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %c frame: %w", tag, err)
	}
	line := make([]byte, 0, len(data)+3)
	line = append(line, tag, ':')
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("write %c frame: %w", tag, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
