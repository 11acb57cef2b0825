package domain

import (
	"context"

	"github.com/google/uuid"
)

type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	LoadTruth(ctx context.Context, sessionID uuid.UUID) (*TruthDocument, error)
	LoadSessionMetadata(ctx context.Context, sessionID uuid.UUID) (*SessionMetadata, error)
	SaveSessionMetadata(ctx context.Context, m *SessionMetadata) error
	// Autosave atomically persists a named blob of caller-owned state
	// (conversation transcripts and the like) under the session.
	Autosave(ctx context.Context, sessionID uuid.UUID, name string, content []byte) error
	LoadAutosave(ctx context.Context, sessionID uuid.UUID, name string) ([]byte, error)
}

// CommitArtifacts is the set of documents committed together when a round
// completes synthesis. The commit is a single logical unit: either a reader
// eventually sees all of them, or resume detects the partial commit.
type CommitArtifacts struct {
	Round       *Round
	Truth       *TruthDocument
	Critique    *CritiqueDocument
	RoundMeta   *RoundMetadata
	SessionMeta *SessionMetadata
}

type RoundStore interface {
	SaveRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, sessionID, roundID uuid.UUID) (*Round, error)
	ListRounds(ctx context.Context, sessionID uuid.UUID) ([]Round, error)
	DeleteRound(ctx context.Context, sessionID, roundID uuid.UUID) error
	SaveFindings(ctx context.Context, sessionID, roundID uuid.UUID, findings []Finding) error
	LoadFindings(ctx context.Context, sessionID, roundID uuid.UUID) ([]Finding, error)
	LoadCritique(ctx context.Context, sessionID, roundID uuid.UUID) (*CritiqueDocument, error)
	LoadRoundMetadata(ctx context.Context, sessionID, roundID uuid.UUID) (*RoundMetadata, error)
	SaveRoundMetadata(ctx context.Context, sessionID uuid.UUID, m *RoundMetadata) error
	CommitRound(ctx context.Context, artifacts CommitArtifacts) error
	// CommitEvidence reports traces of an interrupted commit for a round:
	// staged temporaries, or committed artifacts ahead of the recorded state.
	CommitEvidence(ctx context.Context, sessionID, roundID uuid.UUID) ([]string, error)
}

// SynthesisRequest carries everything the generation service needs to merge
// one round of findings into the truth document.
type SynthesisRequest struct {
	ExistingTruth string
	PriorIntent   string
	RoundOrdinal  int
	Findings      []Finding
	RepairNote    string
}

type CritiqueRequest struct {
	RoundOrdinal int
	Findings     []Finding
	RepairNote   string
}

// GenerationClient is the external text-generation capability. Outputs are
// treated as fallible, retryable, and schema-violating-capable; the merge
// control logic stays independent of which backend is wired in.
type GenerationClient interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
	Critique(ctx context.Context, req CritiqueRequest) (string, error)
}

// ProposedClaim is one claim in the generation service's synthesis output.
// Invalidates, when set, names the exact text of the existing active claim
// this one supersedes. FindingIndex ties the claim back to the finding it
// came from; within one round, later findings win display position on ties.
type ProposedClaim struct {
	Text         string   `json:"text"`
	Topic        string   `json:"topic,omitempty"`
	Confidence   string   `json:"confidence"`
	Invalidates  string   `json:"invalidates,omitempty"`
	FindingIndex int      `json:"finding_index"`
	Sources      []string `json:"sources,omitempty"`
}

// SynthesisOutput is the JSON contract for Synthesize responses.
type SynthesisOutput struct {
	StrategicContext string          `json:"strategic_context"`
	Claims           []ProposedClaim `json:"claims"`
	Evolution        string          `json:"evolution"`
}

// CritiqueOutput is the JSON contract for Critique responses.
type CritiqueOutput struct {
	Strengths []string `json:"strengths"`
	Gaps      []Gap    `json:"gaps"`
	NextSteps []string `json:"next_steps"`
}
