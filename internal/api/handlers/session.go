package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/drophq/drophq/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type SessionHandler struct {
	svc       *service.SessionService
	lifecycle *service.LifecycleService
	metadata  *service.MetadataService
}

func NewSessionHandler(svc *service.SessionService, lifecycle *service.LifecycleService, metadata *service.MetadataService) *SessionHandler {
	return &SessionHandler{svc: svc, lifecycle: lifecycle, metadata: metadata}
}

type createSessionRequest struct {
	Name string `json:"name"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.svc.Create(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, service.ErrSessionNameEmpty) {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *SessionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Truth serves the current truth document. With ?format=markdown the
// rendered document is returned instead of JSON.
func (h *SessionHandler) Truth(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	doc, err := h.svc.Truth(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrTruthNotFound):
			writeError(w, http.StatusNotFound, "no completed rounds yet")
		default:
			writeError(w, http.StatusInternalServerError, "failed to load truth document")
		}
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc.RenderMarkdown()))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *SessionHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	m, err := h.svc.Metadata(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrNoCompletedRounds):
			writeError(w, http.StatusNotFound, "no completed rounds yet")
		default:
			writeError(w, http.StatusInternalServerError, "failed to load session metadata")
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RebuildMetadata recomputes the session rollup from per-round artifacts.
func (h *SessionHandler) RebuildMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	m, err := h.metadata.RebuildSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to rebuild session metadata")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Resume reports rounds interrupted by a crash or restart, with any
// partial-commit evidence attached. Nothing is retried automatically.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	items, err := h.lifecycle.Resume(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to scan session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"undecided_rounds": items})
}

func (h *SessionHandler) Autosave(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	name := chi.URLParam(r, "name")

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.svc.Autosave(r.Context(), id, name, content); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrAutosaveNameEmpty):
			writeError(w, http.StatusBadRequest, "autosave name is required")
		default:
			writeError(w, http.StatusInternalServerError, "failed to autosave")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "name": name})
}

func (h *SessionHandler) LoadAutosave(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	name := chi.URLParam(r, "name")

	content, err := h.svc.LoadAutosave(r.Context(), id, name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrAutosaveNotFound):
			writeError(w, http.StatusNotFound, "autosave not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to load autosave")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
