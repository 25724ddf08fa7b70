package stream

import (
	"encoding/json"
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolState is the lifecycle of one tool invocation.
type ToolState string

const (
	ToolStatePartial  ToolState = "partial"
	ToolStateCalled   ToolState = "called"
	ToolStateResulted ToolState = "resulted"
)

// ToolInvocation is one tool the assistant invoked during a turn.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      ToolState       `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Message is the unit a consumer renders.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Thinking        string           `json:"thinking,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NewAssistantMessage returns the empty assistant message for a turn.
func NewAssistantMessage(id string, createdAt time.Time) Message {
	return Message{ID: id, Role: RoleAssistant, CreatedAt: createdAt}
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	if m.ToolInvocations == nil {
		return m
	}
	invs := make([]ToolInvocation, len(m.ToolInvocations))
	for i, inv := range m.ToolInvocations {
		inv.Args = cloneRaw(inv.Args)
		inv.Result = cloneRaw(inv.Result)
		invs[i] = inv
	}
	m.ToolInvocations = invs
	return m
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
