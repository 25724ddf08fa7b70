package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/tradestream/internal/store"
)

// ChunkSource yields the raw chunks of one response body in arrival order.
type ChunkSource interface {
	// Next blocks until a chunk arrives. It returns io.EOF once the stream has
	// ended cleanly; any other error is a transport failure.
	Next(ctx context.Context) (string, error)
	// Close releases the transport. It unblocks a pending Next and is safe to
	// call more than once.
	Close() error
}

const readBufferSize = 4096

// BodySource reads chunks from a response body as they arrive.
type BodySource struct {
	body      io.ReadCloser
	buf       []byte
	err       error
	closeOnce sync.Once
	closeErr  error
}

// NewBodySource wraps body.
func NewBodySource(body io.ReadCloser) *BodySource {
	return &BodySource{body: body, buf: make([]byte, readBufferSize)}
}

// Next implements ChunkSource.
func (s *BodySource) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := s.body.Read(s.buf)
		if err != nil {
			// A final chunk may come with EOF; hand it out first.
			s.err = err
		}
		if n > 0 {
			return string(s.buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// Close implements ChunkSource.
func (s *BodySource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// SliceSource replays a fixed list of chunks.
type SliceSource struct {
	mu     sync.Mutex
	chunks []string
	closed bool
}

// NewSliceSource returns a source yielding chunks in order, then io.EOF.
func NewSliceSource(chunks []string) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// Next implements ChunkSource.
func (s *SliceSource) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errSourceClosed
	}
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

// Close implements ChunkSource.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errSourceClosed = errors.New("chunk source closed")

// ChunkRecorder persists raw chunks.
type ChunkRecorder interface {
	Create(ctx context.Context, label string) (*store.Capture, error)
	AppendChunk(ctx context.Context, captureID string, seq int, data string) error
	Finish(ctx context.Context, captureID string, status store.CaptureStatus, errMsg *string) error
}

// RecordingSource tees every chunk of a source into a capture, exactly as
// received, so the turn can later be replayed with the same boundaries.
// Recording failures are logged and never affect the stream.
type RecordingSource struct {
	inner     ChunkSource
	recorder  ChunkRecorder
	captureID string
	seq       int
	logger    *slog.Logger
}

// NewRecordingSource wraps inner, recording into captureID.
func NewRecordingSource(inner ChunkSource, recorder ChunkRecorder, captureID string, logger *slog.Logger) *RecordingSource {
	return &RecordingSource{inner: inner, recorder: recorder, captureID: captureID, logger: logger}
}

// Next implements ChunkSource.
func (s *RecordingSource) Next(ctx context.Context) (string, error) {
	chunk, err := s.inner.Next(ctx)
	if err != nil {
		return chunk, err
	}
	if rerr := s.recorder.AppendChunk(context.WithoutCancel(ctx), s.captureID, s.seq, chunk); rerr != nil {
		s.logger.Warn("failed to record chunk", "capture_id", s.captureID, "seq", s.seq, "error", rerr)
	}
	s.seq++
	return chunk, nil
}

// Close implements ChunkSource.
func (s *RecordingSource) Close() error {
	return s.inner.Close()
}
