package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/tradestream/internal/chat"
	"github.com/mattjoyce/tradestream/internal/relay"
	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/stream"
)

// maxReplayDelay caps the pacing a replay request may ask for.
const maxReplayDelay = 5 * time.Second

// CaptureResponse is returned by GET /v1/captures/{capture_id}.
type CaptureResponse struct {
	*store.Capture
	Chunks []store.Chunk `json:"chunks"`
}

// CaptureListResponse is returned by GET /v1/captures.
type CaptureListResponse struct {
	Captures []*store.Capture `json:"captures"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Relay         bool   `json:"relay"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Relay:         s.streamer != nil,
	})
}

// handleChat handles POST /api/chat. With ?capture=<id> it replays a
// recorded response chunk for chunk; otherwise it relays the model.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if captureID := r.URL.Query().Get("capture"); captureID != "" {
		delay, err := parseDelay(r.URL.Query().Get("delay"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.replay(w, r, captureID, delay)
		return
	}

	if s.streamer == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no model configured; use ?capture=<id>")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages are required")
		return
	}

	startStream(w)
	err := s.streamer.Serve(r.Context(), stream.NewEncoder(w), toSchemaMessages(req.Messages), relay.Options{
		Thinking:    req.UseExtendedThinking,
		ViewContext: req.Context,
	})
	switch {
	case err == nil:
		chatStreamsTotal.WithLabelValues("relay", "done").Inc()
	case errors.Is(err, context.Canceled):
		chatStreamsTotal.WithLabelValues("relay", "aborted").Inc()
		s.logger.Info("client went away during relay")
	default:
		chatStreamsTotal.WithLabelValues("relay", "failed").Inc()
		s.logger.Error("relay failed", "error", err)
	}
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request, captureID string, delay time.Duration) {
	ctx := r.Context()
	if _, err := s.captures.GetByID(ctx, captureID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "capture not found")
			return
		}
		s.logger.Error("failed to get capture", "capture_id", captureID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get capture")
		return
	}
	chunks, err := s.captures.ChunkData(ctx, captureID)
	if err != nil {
		s.logger.Error("failed to get capture chunks", "capture_id", captureID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get capture chunks")
		return
	}

	startStream(w)
	flusher, _ := w.(http.Flusher)
	for i, chunk := range chunks {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				chatStreamsTotal.WithLabelValues("replay", "aborted").Inc()
				return
			case <-time.After(delay):
			}
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			chatStreamsTotal.WithLabelValues("replay", "aborted").Inc()
			s.logger.Info("client went away during replay", "capture_id", captureID, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	chatStreamsTotal.WithLabelValues("replay", "done").Inc()
	s.logger.Debug("capture replayed", "capture_id", captureID, "chunks", len(chunks))
}

// handleListCaptures handles GET /v1/captures.
func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	captures, err := s.captures.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list captures", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}
	if captures == nil {
		captures = []*store.Capture{}
	}
	respondJSON(w, http.StatusOK, CaptureListResponse{Captures: captures})
}

// handleGetCapture handles GET /v1/captures/{capture_id}.
func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	captureID := chi.URLParam(r, "capture_id")

	capture, err := s.captures.GetByID(r.Context(), captureID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "capture not found")
		return
	}

	chunks, err := s.captures.Chunks(r.Context(), captureID)
	if err != nil {
		s.logger.Error("failed to get chunks", "capture_id", captureID, "error", err)
		chunks = nil
	}
	if chunks == nil {
		chunks = []store.Chunk{}
	}

	respondJSON(w, http.StatusOK, CaptureResponse{Capture: capture, Chunks: chunks})
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
}

func parseDelay(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 || d > maxReplayDelay {
		return 0, errors.New("delay must be a duration between 0 and 5s")
	}
	return d, nil
}

func toSchemaMessages(msgs []chat.RequestMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case stream.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case stream.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
