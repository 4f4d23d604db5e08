package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/feedback-ai/internal/feedback"
	"github.com/ashureev/feedback-ai/internal/session"
)

type respondRequest struct {
	Review        string `json:"review"`
	Username      string `json:"username"`
	SessionKey    string `json:"session_key"`
	HistoryWindow int    `json:"history_window"`
}

type reviseRequest struct {
	SessionKey    string `json:"session_key"`
	Modifications string `json:"modifications"`
	HistoryWindow int    `json:"history_window"`
}

type respondResponse struct {
	Response   string `json:"response"`
	SessionKey string `json:"session_key"`
	Warning    string `json:"warning,omitempty"`
}

// sessionKey picks the body key, then the X-Session-Key header, then a new one.
func sessionKey(r *http.Request, bodyKey string) (string, bool) {
	key := bodyKey
	if key == "" {
		key = r.Header.Get(session.KeyHeader)
	}
	if key == "" {
		return session.NewKey(), true
	}
	return session.SanitizeKey(key)
}

// Respond handles POST /api/respond with a buffered reply.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key, ok := sessionKey(r, req.SessionKey)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session_key")
		return
	}

	res, err := h.svc.Reply(r.Context(), feedback.ReplyRequest{
		SessionKey: key,
		Review:     req.Review,
		Username:   req.Username,
		Window:     req.HistoryWindow,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set(session.KeyHeader, res.SessionKey)
	JSON(w, http.StatusOK, respondResponse{Response: res.Response, SessionKey: res.SessionKey, Warning: res.Warning})
}

// RespondStream handles POST /api/respond/stream, streaming the reply as SSE.
func (h *Handler) RespondStream(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key, ok := sessionKey(r, req.SessionKey)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid session_key")
		return
	}

	stream, ok := newSSEStream(w, key)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	res, err := h.svc.Reply(r.Context(), feedback.ReplyRequest{
		SessionKey: key,
		Review:     req.Review,
		Username:   req.Username,
		Window:     req.HistoryWindow,
		OnChunk:    stream.chunk,
	})
	stream.finish(r, res, err)
}

// Revise handles POST /api/revise, streaming the revised reply as SSE.
func (h *Handler) Revise(w http.ResponseWriter, r *http.Request) {
	var req reviseRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionKey == "" {
		req.SessionKey = r.Header.Get(session.KeyHeader)
	}
	key, ok := session.SanitizeKey(req.SessionKey)
	if !ok {
		Error(w, http.StatusBadRequest, "session_key is required")
		return
	}

	stream, ok := newSSEStream(w, key)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	res, err := h.svc.Revise(r.Context(), feedback.ReviseRequest{
		SessionKey:    key,
		Modifications: req.Modifications,
		Window:        req.HistoryWindow,
		OnChunk:       stream.chunk,
	})
	stream.finish(r, res, err)
}

// sseStream writes the event stream lazily so errors raised before the
// first chunk can still be reported with a proper status code.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	key     string
	started bool
}

func newSSEStream(w http.ResponseWriter, key string) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseStream{w: w, flusher: flusher, key: key}, true
}

func (s *sseStream) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(session.KeyHeader, s.key)
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseStream) chunk(text string) error {
	s.start()
	data, err := json.Marshal(text)
	if err != nil {
		return err
	}
	if err := writeSSE(s.w, "chunk", string(data)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) finish(r *http.Request, res *feedback.ReplyResult, err error) {
	if err != nil {
		if !s.started {
			writeError(s.w, r, err)
			return
		}
		if r.Context().Err() != nil {
			slog.Info("SSE client disconnected", "session_key", s.key)
			return
		}
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
		slog.Warn("Stream failed after start", "session_key", s.key, "error", err)
		data, _ := json.Marshal(map[string]string{"error": msg})
		if writeErr := writeSSE(s.w, "error", string(data)); writeErr != nil {
			slog.Debug("failed to write SSE error event", "error", writeErr)
			return
		}
		s.flusher.Flush()
		return
	}

	s.start()
	data, err := json.Marshal(respondResponse{Response: res.Response, SessionKey: res.SessionKey, Warning: res.Warning})
	if err != nil {
		slog.Warn("failed to marshal done event", "error", err)
		return
	}
	if err := writeSSE(s.w, "done", string(data)); err != nil {
		slog.Debug("failed to write SSE done event", "error", err)
		return
	}
	s.flusher.Flush()
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
