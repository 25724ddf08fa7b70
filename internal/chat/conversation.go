package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/view"
)

// Conversation runs turns against an Opener. At most one turn is in flight:
// sending a new message aborts the previous one first.
type Conversation struct {
	opener           Opener
	store            *view.Store
	dispatcher       *view.Dispatcher
	scanner          *view.Scanner
	recorder         ChunkRecorder
	provider         string
	extendedThinking bool
	logger           *slog.Logger

	sendMu   sync.Mutex
	mu       sync.Mutex
	history  []stream.Message
	cancel   context.CancelFunc
	inflight chan struct{}
}

// ConversationOption customizes a Conversation.
type ConversationOption func(*Conversation)

// WithProvider sets the provider field sent with each request.
func WithProvider(provider string) ConversationOption {
	return func(c *Conversation) { c.provider = provider }
}

// WithExtendedThinking asks the backend for a thinking trace.
func WithExtendedThinking(on bool) ConversationOption {
	return func(c *Conversation) { c.extendedThinking = on }
}

// WithRecorder records the raw chunks of every turn.
func WithRecorder(r ChunkRecorder) ConversationOption {
	return func(c *Conversation) { c.recorder = r }
}

// NewConversation creates a Conversation writing view changes to store.
func NewConversation(opener Opener, store *view.Store, logger *slog.Logger, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		opener:     opener,
		store:      store,
		dispatcher: view.NewDispatcher(store, logger),
		scanner:    view.NewScanner(store),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns a copy of the messages exchanged so far.
func (c *Conversation) History() []stream.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.Message, len(c.history))
	for i, m := range c.history {
		out[i] = m.Clone()
	}
	return out
}

// Cancel aborts the in-flight turn, if any, and waits for it to finish.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	cancel, inflight := c.cancel, c.inflight
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-inflight
}

// Send starts a turn for text. The returned channel yields the turn's events
// and is closed after its terminal event.
func (c *Conversation) Send(ctx context.Context, text string) <-chan Event {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	inflight := make(chan struct{})
	out := make(chan Event, 32)

	c.mu.Lock()
	c.cancel = cancel
	c.inflight = inflight
	c.history = append(c.history, stream.Message{
		ID:        uuid.NewString(),
		Role:      stream.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	req := c.requestLocked()
	c.mu.Unlock()

	// The hint lands before the first response byte exists.
	if st, changed := c.scanner.Apply(text); changed {
		out <- Event{Kind: EventView, View: st}
	}
	req.Context = viewContext(c.store.Snapshot())

	go func() {
		defer func() {
			cancel()
			c.mu.Lock()
			if c.inflight == inflight {
				c.cancel, c.inflight = nil, nil
			}
			c.mu.Unlock()
			close(out)
			close(inflight)
		}()
		c.runTurn(ctx, text, req, out)
	}()
	return out
}

func (c *Conversation) runTurn(ctx context.Context, text string, req Request, out chan<- Event) {
	source, err := c.opener.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			deliver(ctx, out, Event{Kind: EventFailed, Err: context.Cause(ctx), Aborted: true})
			return
		}
		c.logger.Error("failed to open chat stream", "error", err)
		turnsTotal.WithLabelValues("failed").Inc()
		fallback := FallbackMessage(uuid.NewString(), time.Now())
		c.appendHistory(fallback)
		deliver(ctx, out, Event{Kind: EventFailed, Err: err, Fallback: &fallback})
		return
	}

	var captureID string
	if c.recorder != nil {
		capture, err := c.recorder.Create(ctx, text)
		if err != nil {
			c.logger.Warn("failed to create capture", "error", err)
		} else {
			captureID = capture.ID
			source = NewRecordingSource(source, c.recorder, captureID, c.logger)
		}
	}

	session := NewSession(source, c.dispatcher, c.logger)
	var terminal Event
	msg, runErr := session.Run(ctx, func(e Event) {
		if e.Terminal() {
			terminal = e
		}
		deliver(ctx, out, e)
	})

	if msg.ID != "" {
		c.appendHistory(msg)
	}
	if terminal.Fallback != nil {
		c.appendHistory(*terminal.Fallback)
	}
	if captureID != "" {
		c.finishCapture(ctx, captureID, terminal, runErr)
	}
}

// deliver hands e to the consumer. Once the turn is aborted the consumer may
// have moved on to the next turn, so delivery no longer blocks.
func deliver(ctx context.Context, out chan<- Event, e Event) {
	select {
	case out <- e:
		return
	case <-ctx.Done():
	}
	select {
	case out <- e:
	default:
	}
}

func (c *Conversation) finishCapture(ctx context.Context, captureID string, terminal Event, runErr error) {
	status := store.CaptureStatusDone
	var errMsg *string
	switch {
	case terminal.Aborted:
		status = store.CaptureStatusAborted
	case runErr != nil:
		status = store.CaptureStatusFailed
		s := runErr.Error()
		errMsg = &s
	}
	if err := c.recorder.Finish(context.WithoutCancel(ctx), captureID, status, errMsg); err != nil {
		c.logger.Warn("failed to finish capture", "capture_id", captureID, "error", err)
	}
}

func (c *Conversation) appendHistory(m stream.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, m)
}

func (c *Conversation) requestLocked() Request {
	req := Request{
		Provider:            c.provider,
		UseExtendedThinking: c.extendedThinking,
	}
	for _, m := range c.history {
		if m.Content == "" {
			continue
		}
		req.Messages = append(req.Messages, RequestMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func viewContext(st view.State) map[string]any {
	ctx := map[string]any{"activePanel": string(st.ActivePanel)}
	if st.ActiveSymbol != "" {
		ctx["activeSymbol"] = st.ActiveSymbol
	}
	return ctx
}
