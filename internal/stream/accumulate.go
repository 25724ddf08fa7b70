package stream

// Apply folds f into m and returns the next message. It never mutates m, so
// the same prior message can be re-applied safely. The returned message always
// keeps m's ID.
func Apply(f Frame, m Message) Message {
	switch f.Kind {
	case KindText:
		m.Content += f.Text
	case KindThinking:
		m.Thinking += f.Text
	case KindToolCall:
		m.ToolInvocations = applyToolCall(m.ToolInvocations, f.ToolCall)
	case KindToolResult:
		idx := matchResult(m.ToolInvocations, f.ToolResult)
		if idx < 0 {
			return m
		}
		invs := copyInvocations(m.ToolInvocations)
		invs[idx].State = ToolStateResulted
		invs[idx].Result = cloneRaw(f.ToolResult.Result)
		m.ToolInvocations = invs
	}
	return m
}

// IsOrphan reports whether f is a tool result that has no open invocation in
// m to attach to. Apply ignores such frames.
func IsOrphan(f Frame, m Message) bool {
	return f.Kind == KindToolResult && matchResult(m.ToolInvocations, f.ToolResult) < 0
}

func applyToolCall(invs []ToolInvocation, call *ToolCall) []ToolInvocation {
	state := ToolStateCalled
	if call.State == WireStatePartialCall {
		state = ToolStatePartial
	}

	// A streamed call re-sends its ID as the arguments grow; keep its slot.
	if call.ToolCallID != "" {
		for i := len(invs) - 1; i >= 0; i-- {
			inv := invs[i]
			if inv.ToolCallID != call.ToolCallID || inv.State == ToolStateResulted {
				continue
			}
			out := copyInvocations(invs)
			out[i].ToolName = call.ToolName
			out[i].Args = cloneRaw(call.Args)
			out[i].State = state
			return out
		}
	}

	out := make([]ToolInvocation, len(invs), len(invs)+1)
	copy(out, invs)
	return append(out, ToolInvocation{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Args:       cloneRaw(call.Args),
		State:      state,
	})
}

// matchResult finds the most recent unresulted invocation of the same tool.
// IDs only narrow the match when both sides carry one.
func matchResult(invs []ToolInvocation, res *ToolResult) int {
	for i := len(invs) - 1; i >= 0; i-- {
		inv := invs[i]
		if inv.State == ToolStateResulted || inv.ToolName != res.ToolName {
			continue
		}
		if res.ToolCallID != "" && inv.ToolCallID != "" && inv.ToolCallID != res.ToolCallID {
			continue
		}
		return i
	}
	return -1
}

func copyInvocations(invs []ToolInvocation) []ToolInvocation {
	out := make([]ToolInvocation, len(invs))
	copy(out, invs)
	return out
}
