package domain

import (
	"time"

	"github.com/google/uuid"
)

// TruthDelta captures what one round changed in the truth document.
type TruthDelta struct {
	ClaimsAdded       int                  `json:"claims_added"`
	ClaimsInvalidated int                  `json:"claims_invalidated"`
	Invalidations     []InvalidationRecord `json:"invalidations,omitempty"`
}

// RoundMetadata is a derived, recomputable aggregate over one round's
// findings plus the structural stats of its truth delta and critique.
// It is never authoritative: it can be rebuilt from the round artifacts
// at any time.
type RoundMetadata struct {
	RoundID        uuid.UUID  `json:"round_id"`
	Ordinal        int        `json:"ordinal"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FindingCount   int        `json:"finding_count"`
	TokenEstimate  int        `json:"token_estimate"`
	CostEstimate   float64    `json:"cost_estimate"`
	RuntimeSeconds float64    `json:"runtime_seconds"`
	Delta          TruthDelta `json:"truth_delta"`
	GapCount       int        `json:"gap_count"`
}

// SessionMetadata is the rollup of all round metadata for a session.
type SessionMetadata struct {
	SessionID      uuid.UUID `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	RoundCount     int       `json:"round_count"`
	FindingCount   int       `json:"finding_count"`
	TokenEstimate  int       `json:"token_estimate"`
	CostEstimate   float64   `json:"cost_estimate"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
}
