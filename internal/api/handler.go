// Package api provides HTTP handlers for the feedback reply API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/feedback-ai/internal/config"
	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/feedback"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBody = 1 << 20

// ChatLogReader is the read side of the chat log used by reporting routes.
type ChatLogReader interface {
	ListChatLogs(ctx context.Context, sessionKey string) ([]*domain.ChatLogRecord, error)
	RecentChatLogs(ctx context.Context, limit int) ([]*domain.ChatLogRecord, error)
	Stats(ctx context.Context) (*domain.ChatLogStats, error)
}

// Handler serves the feedback routes.
type Handler struct {
	svc            *feedback.Service
	logs           ChatLogReader
	limiter        *RateLimiter
	maxBody        int64
	allowedOrigins []string
}

// NewHandler creates a new Handler. A nil limiter disables throttling.
func NewHandler(svc *feedback.Service, logs ChatLogReader, limiter *RateLimiter, cfg *config.Config) *Handler {
	h := &Handler{
		svc:            svc,
		logs:           logs,
		limiter:        limiter,
		maxBody:        defaultMaxBody,
		allowedOrigins: []string{"*"},
	}
	if cfg != nil {
		if cfg.HTTP.MaxRequestBodySize > 0 {
			h.maxBody = cfg.HTTP.MaxRequestBodySize
		}
		if len(cfg.CORSOrigins) > 0 {
			h.allowedOrigins = cfg.CORSOrigins
		}
	}
	return h
}

// RegisterRoutes mounts every feedback route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/respond", h.Respond)
			r.Post("/respond/stream", h.RespondStream)
			r.Post("/revise", h.Revise)
			r.Post("/write_with_ai", h.WriteWithAI)
			r.Post("/responses/revise", h.ReviseStored)
			r.Post("/themes", h.Themes)
		})
		r.Get("/chatlogs", h.ListChatLogs)
		r.Get("/chatlogs/stats", h.ChatLogStats)
	})

	var mw []func(http.Handler) http.Handler
	if h.limiter != nil {
		mw = append(mw, h.limiter.Middleware)
	}
	r.With(mw...).Get("/ws/respond", h.RespondWebSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingInput), errors.Is(err, domain.ErrMissingVariable):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMalformedModelOutput):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes it. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		slog.Warn("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}

// decode reads a bounded JSON body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrMissingInput, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrMissingInput, err)
	}
	return nil
}

func (h *Handler) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
