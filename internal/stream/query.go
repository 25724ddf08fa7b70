package stream

// PendingInvocations returns the invocations still waiting for a result, in
// call order.
func PendingInvocations(invs []ToolInvocation) []ToolInvocation {
	var out []ToolInvocation
	for _, inv := range invs {
		if inv.State != ToolStateResulted {
			out = append(out, inv)
		}
	}
	return out
}

// ActiveInvocation returns the most recent invocation without a result. It
// is what a "running tool" indicator shows.
func ActiveInvocation(invs []ToolInvocation) (ToolInvocation, bool) {
	for i := len(invs) - 1; i >= 0; i-- {
		if invs[i].State != ToolStateResulted {
			return invs[i], true
		}
	}
	return ToolInvocation{}, false
}

// HasToolCalls reports whether the message invoked any tool.
func HasToolCalls(m Message) bool {
	return len(m.ToolInvocations) > 0
}
