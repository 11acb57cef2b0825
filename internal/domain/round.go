package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoundState string

const (
	RoundStateProposed     RoundState = "proposed"
	RoundStateResearching  RoundState = "researching"
	RoundStateSynthesizing RoundState = "synthesizing"
	RoundStateComplete     RoundState = "complete"
	RoundStateFailed       RoundState = "failed"
)

func ValidRoundState(s string) bool {
	switch RoundState(s) {
	case RoundStateProposed, RoundStateResearching, RoundStateSynthesizing,
		RoundStateComplete, RoundStateFailed:
		return true
	}
	return false
}

// Terminal reports whether the state is final. Terminal rounds are immutable
// except for metadata recomputation.
func (s RoundState) Terminal() bool {
	return s == RoundStateComplete || s == RoundStateFailed
}

// CanTransition reports whether a round may move from one state to another.
// The lifecycle only moves forward (proposed -> researching -> synthesizing
// -> complete); failed is reachable from any non-terminal state.
func CanTransition(from, to RoundState) bool {
	if to == RoundStateFailed {
		return !from.Terminal()
	}
	switch from {
	case RoundStateProposed:
		return to == RoundStateResearching
	case RoundStateResearching:
		return to == RoundStateSynthesizing
	case RoundStateSynthesizing:
		return to == RoundStateComplete
	default:
		return false
	}
}

// Round is one research cycle ("drop") within a session. Ordinals strictly
// increase within a session, starting at 1.
type Round struct {
	ID            uuid.UUID  `json:"round_id"`
	SessionID     uuid.UUID  `json:"session_id"`
	Ordinal       int        `json:"ordinal"`
	State         RoundState `json:"state"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Finding is one raw unit of research output. Immutable once persisted and
// owned exclusively by its round.
type Finding struct {
	ID             uuid.UUID `json:"id"`
	ResearcherID   string    `json:"researcher_id"`
	Content        string    `json:"content"`
	Sources        []string  `json:"sources,omitempty"`
	TokenCount     int       `json:"token_count"`
	CostEstimate   float64   `json:"cost_estimate"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
