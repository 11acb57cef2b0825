package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drophq/drophq/internal/service"
)

// ContextHandler exposes the process-wide context budget tracker. Usage is
// an estimate for pacing decisions, not an exact accounting.
type ContextHandler struct {
	tracker *service.ContextTracker
}

func NewContextHandler(tracker *service.ContextTracker) *ContextHandler {
	return &ContextHandler{tracker: tracker}
}

func (h *ContextHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Usage())
}

type recordMessageRequest struct {
	Text string `json:"text"`
}

func (h *ContextHandler) RecordMessage(w http.ResponseWriter, r *http.Request) {
	var req recordMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.tracker.RecordMessage(req.Text)
	writeJSON(w, http.StatusOK, h.tracker.Usage())
}

type setDocumentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (h *ContextHandler) SetDocument(w http.ResponseWriter, r *http.Request) {
	var req setDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	h.tracker.SetDocument(req.Name, req.Text)
	writeJSON(w, http.StatusOK, h.tracker.Usage())
}

type previewCompactionRequest struct {
	KeepRecent int `json:"keep_recent,omitempty"`
}

func (h *ContextHandler) PreviewCompaction(w http.ResponseWriter, r *http.Request) {
	var req previewCompactionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	preview, err := h.tracker.PreviewCompaction(req.KeepRecent)
	if err != nil {
		if errors.Is(err, service.ErrNotEnoughMessages) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to preview compaction")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
