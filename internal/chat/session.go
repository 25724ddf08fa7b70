package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/view"
)

// FallbackText is shown in place of an answer when a turn fails in transit.
const FallbackText = "Sorry, there was an error processing your message. Please try again."

// EventKind discriminates Event.
type EventKind string

const (
	// EventMessage carries the assistant message after an applied frame.
	EventMessage EventKind = "message"
	// EventView carries the view state after it changed.
	EventView EventKind = "view"
	// EventError carries a protocol error frame. The stream continues.
	EventError EventKind = "error"
	// EventDone is terminal: the stream ended and Message is final.
	EventDone EventKind = "done"
	// EventFailed is terminal: the transport failed or the turn was aborted.
	// Message holds whatever was applied before the failure.
	EventFailed EventKind = "failed"
)

// Event is published by the read loop. Values are copies; consumers may keep
// them but changing them has no effect on the loop.
type Event struct {
	Kind    EventKind
	Message stream.Message
	View    view.State
	Err     error
	// Aborted is set on EventFailed when the context was cancelled.
	Aborted bool
	// Fallback is set on EventFailed for transport failures. It is the one
	// user-visible message the core produces itself.
	Fallback *stream.Message
}

// Terminal reports whether e ends the turn.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventFailed
}

// Session runs the read loop for one assistant turn.
type Session struct {
	source     ChunkSource
	dispatcher *view.Dispatcher
	logger     *slog.Logger
	id         string
	now        func() time.Time
	newID      func() string
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithMessageID fixes the assistant message ID instead of minting one.
func WithMessageID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a read loop over source. The dispatcher receives tool
// results; it may be shared across sessions since it writes to a Store.
func NewSession(source ChunkSource, dispatcher *view.Dispatcher, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = s.newID()
	}
	return s
}

// ID is the identity of the assistant message this session builds.
func (s *Session) ID() string {
	return s.id
}

// Run drives the stream to completion, calling emit after every applied
// frame and once more with a terminal event. It returns the last message and
// the transport error, if any. Cancelling ctx stops the loop before the next
// frame is applied.
func (s *Session) Run(ctx context.Context, emit func(Event)) (stream.Message, error) {
	start := time.Now()
	defer func() { turnDurationSeconds.Observe(time.Since(start).Seconds()) }()

	stop := context.AfterFunc(ctx, func() { _ = s.source.Close() })
	defer stop()
	defer s.source.Close()

	var (
		lines   stream.LineBuffer
		msg     stream.Message
		started bool
	)
	apply := func(line string) {
		f := stream.Decode(line)
		framesDecodedTotal.WithLabelValues(string(f.Kind)).Inc()

		if !started {
			msg = stream.NewAssistantMessage(s.id, s.now())
			started = true
		}
		if stream.IsOrphan(f, msg) {
			orphanResultsTotal.Inc()
			s.logger.Debug("ignoring orphan tool result", "message_id", s.id, "tool", f.ToolResult.ToolName)
		}
		msg = stream.Apply(f, msg)
		emit(Event{Kind: EventMessage, Message: msg.Clone()})

		switch f.Kind {
		case stream.KindError:
			emit(Event{Kind: EventError, Message: msg.Clone(), Err: f.Error})
		case stream.KindToolResult:
			if st, changed := s.dispatcher.Dispatch(f); changed {
				panelTransitionsTotal.WithLabelValues(string(st.ActivePanel)).Inc()
				emit(Event{Kind: EventView, View: st})
			}
		}
	}

	for {
		chunk, err := s.source.Next(ctx)
		if ctx.Err() != nil {
			return s.abort(ctx, msg, emit)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.fail(msg, fmt.Errorf("read chunk: %w", err), emit)
		}
		for _, line := range lines.Feed(chunk) {
			if ctx.Err() != nil {
				return s.abort(ctx, msg, emit)
			}
			apply(line)
		}
	}

	for _, line := range lines.Flush() {
		apply(line)
	}
	if !started {
		msg = stream.NewAssistantMessage(s.id, s.now())
	}

	turnsTotal.WithLabelValues("done").Inc()
	s.logger.Debug("stream finished", "message_id", s.id, "content_len", len(msg.Content), "tools", len(msg.ToolInvocations))
	emit(Event{Kind: EventDone, Message: msg.Clone()})
	return msg, nil
}

// Events runs the loop on its own goroutine and delivers events on the
// returned channel, which is closed after the terminal event. The consumer
// must drain the channel.
func (s *Session) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		_, _ = s.Run(ctx, func(e Event) { out <- e })
	}()
	return out
}

func (s *Session) abort(ctx context.Context, msg stream.Message, emit func(Event)) (stream.Message, error) {
	err := context.Cause(ctx)
	turnsTotal.WithLabelValues("aborted").Inc()
	s.logger.Info("stream aborted", "message_id", s.id, "reason", err)
	emit(Event{Kind: EventFailed, Message: msg.Clone(), Err: err, Aborted: true})
	return msg, err
}

func (s *Session) fail(msg stream.Message, err error, emit func(Event)) (stream.Message, error) {
	turnsTotal.WithLabelValues("failed").Inc()
	s.logger.Error("stream failed", "message_id", s.id, "error", err)
	fallback := FallbackMessage(s.newID(), s.now())
	emit(Event{Kind: EventFailed, Message: msg.Clone(), Err: err, Fallback: &fallback})
	return msg, err
}

// FallbackMessage builds the assistant message shown when a turn fails.
func FallbackMessage(id string, at time.Time) stream.Message {
	m := stream.NewAssistantMessage(id, at)
	m.Content = FallbackText
	return m
}
