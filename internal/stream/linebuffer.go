package stream

import "strings"

// LineBuffer turns arbitrarily split chunks into complete lines.
// A line is only released once its terminating newline has arrived.
type LineBuffer struct {
	pending string
}

// Feed appends chunk to the pending fragment and returns every line it
// completes. The trailing piece after the last newline (possibly empty) is
// kept for the next call.
func (b *LineBuffer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	text := b.pending + chunk
	cut := strings.LastIndexByte(text, '\n')
	if cut < 0 {
		b.pending = text
		return nil
	}
	b.pending = text[cut+1:]
	return keepLines(strings.Split(text[:cut], "\n"))
}

// Flush releases the pending fragment as a final line. Call it once, at
// end-of-stream.
func (b *LineBuffer) Flush() []string {
	rest := b.pending
	b.pending = ""
	return keepLines([]string{rest})
}

// Pending reports the bytes held back waiting for a newline.
func (b *LineBuffer) Pending() int {
	return len(b.pending)
}

func keepLines(pieces []string) []string {
	out := pieces[:0]
	for _, p := range pieces {
		p = strings.TrimSuffix(p, "\r")
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
