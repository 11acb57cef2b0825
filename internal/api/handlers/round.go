package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RoundHandler struct {
	svc *service.LifecycleService
}

func NewRoundHandler(svc *service.LifecycleService) *RoundHandler {
	return &RoundHandler{svc: svc}
}

func (h *RoundHandler) ids(w http.ResponseWriter, r *http.Request) (sessionID, roundID uuid.UUID, ok bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, uuid.Nil, false
	}
	if raw := chi.URLParam(r, "roundID"); raw != "" {
		roundID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid round id")
			return uuid.Nil, uuid.Nil, false
		}
	}
	return sessionID, roundID, true
}

// writeLifecycleError maps service errors onto the HTTP surface. Invariant
// violations that describe a bad request map to 400, state conflicts to 409,
// and undecidable generation output to 422.
func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrRoundNotFound):
		writeError(w, http.StatusNotFound, "round not found")
	case errors.Is(err, service.ErrCritiqueNotFound):
		writeError(w, http.StatusNotFound, "critique not found")
	case errors.Is(err, service.ErrRoundMetadataNotFound):
		writeError(w, http.StatusNotFound, "round metadata not found")
	case errors.Is(err, service.ErrFindingsNotSubmitted):
		writeError(w, http.StatusNotFound, "round has no findings yet")
	case errors.Is(err, service.ErrEmptyFindings),
		errors.Is(err, service.ErrFindingContent),
		errors.Is(err, service.ErrFailureReasonEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRoundActive),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrCannotCancel):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrManualSynthesisRequired),
		errors.Is(err, service.ErrManualCritiqueRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTransientService):
		writeError(w, http.StatusBadGateway, "generation service unavailable; round marked failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *RoundHandler) Create(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.ids(w, r)
	if !ok {
		return
	}

	round, err := h.svc.ProposeRound(r.Context(), sessionID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

func (h *RoundHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.ids(w, r)
	if !ok {
		return
	}

	rounds, err := h.svc.ListRounds(r.Context(), sessionID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func (h *RoundHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	round, err := h.svc.GetRound(r.Context(), sessionID, roundID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *RoundHandler) Begin(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	round, err := h.svc.BeginResearch(r.Context(), sessionID, roundID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

type submitFindingsRequest struct {
	Findings []findingInput `json:"findings"`
}

type findingInput struct {
	ResearcherID   string   `json:"researcher_id"`
	Content        string   `json:"content"`
	Sources        []string `json:"sources,omitempty"`
	TokenCount     int      `json:"token_count,omitempty"`
	CostEstimate   float64  `json:"cost_estimate,omitempty"`
	RuntimeSeconds float64  `json:"runtime_seconds,omitempty"`
}

func (h *RoundHandler) SubmitFindings(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var req submitFindingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	findings := make([]domain.Finding, 0, len(req.Findings))
	for _, f := range req.Findings {
		findings = append(findings, domain.Finding{
			ResearcherID:   f.ResearcherID,
			Content:        f.Content,
			Sources:        f.Sources,
			TokenCount:     f.TokenCount,
			CostEstimate:   f.CostEstimate,
			RuntimeSeconds: f.RuntimeSeconds,
		})
	}

	round, err := h.svc.SubmitFindings(r.Context(), sessionID, roundID, findings)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *RoundHandler) Findings(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	findings, err := h.svc.Findings(r.Context(), sessionID, roundID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings})
}

type synthesizeRequest struct {
	PriorIntent string `json:"prior_intent,omitempty"`
}

// Synthesize runs synthesis and critique for a round and commits the
// resulting artifacts as one unit.
func (h *RoundHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var req synthesizeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	outcome, err := h.svc.CompleteSynthesis(r.Context(), sessionID, roundID, req.PriorIntent)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type failRoundRequest struct {
	Reason string `json:"reason"`
}

func (h *RoundHandler) Fail(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var req failRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	round, err := h.svc.MarkFailed(r.Context(), sessionID, roundID, req.Reason)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *RoundHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	if err := h.svc.CancelRound(r.Context(), sessionID, roundID); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *RoundHandler) Critique(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	doc, err := h.svc.Critique(r.Context(), sessionID, roundID)
	if err != nil {
		writeLifecycleError(w, err)
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

func (h *RoundHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	sessionID, roundID, ok := h.ids(w, r)
	if !ok {
		return
	}

	m, err := h.svc.RoundMetadata(r.Context(), sessionID, roundID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
