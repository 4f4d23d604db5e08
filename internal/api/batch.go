package api

import (
	"net/http"

	"github.com/ashureev/feedback-ai/internal/feedback"
)

type batchResponse struct {
	*feedback.BatchDocument
	Warning string `json:"warning,omitempty"`
}

// WriteWithAI handles POST /api/write_with_ai, grading a batch of feedback.
func (h *Handler) WriteWithAI(w http.ResponseWriter, r *http.Request) {
	var req feedback.BatchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.WriteBatch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, batchResponse{BatchDocument: res.Document, Warning: res.Warning})
}

// ReviseStored handles POST /api/responses/revise for a stored batch response.
func (h *Handler) ReviseStored(w http.ResponseWriter, r *http.Request) {
	var req feedback.StoredRevisionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	revised, err := h.svc.ReviseStored(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"response": revised})
}

// Themes handles POST /api/themes.
func (h *Handler) Themes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Comment string `json:"comment"`
	}
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.ClassifyThemes(r.Context(), req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
