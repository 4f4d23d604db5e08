package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/session"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListChatLogs handles GET /api/chatlogs. With session_key it returns that
// session's records oldest first; otherwise the most recent records.
func (h *Handler) ListChatLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		records []*domain.ChatLogRecord
		err     error
	)
	if raw := q.Get("session_key"); raw != "" {
		key, ok := session.SanitizeKey(raw)
		if !ok {
			Error(w, http.StatusBadRequest, "invalid session_key")
			return
		}
		records, err = h.logs.ListChatLogs(r.Context(), key)
	} else {
		limit := defaultListLimit
		if raw := q.Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				Error(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxListLimit)
		}
		records, err = h.logs.RecentChatLogs(r.Context(), limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.ChatLogRecord{}
	}
	JSON(w, http.StatusOK, map[string]any{"records": records})
}

// ChatLogStats handles GET /api/chatlogs/stats.
func (h *Handler) ChatLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.logs.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}
