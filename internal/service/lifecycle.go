package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrRoundNotFound      = errors.New("round not found")
	ErrRoundActive        = errors.New("session already has a non-terminal round")
	ErrEmptyFindings      = errors.New("at least one finding is required")
	ErrFindingContent     = errors.New("finding content is required")
	ErrInvalidTransition  = errors.New("invalid round state transition")
	ErrFailureReasonEmpty = errors.New("failure reason is required")
	ErrCannotCancel       = errors.New("round can only be cancelled before findings are submitted")

	ErrFindingsNotSubmitted = errors.New("round has no findings yet")
	ErrCritiqueNotFound     = errors.New("critique not found")
)

// LifecycleService is the round state machine. It owns every state
// transition and is the mutual-exclusion mechanism within a session: at most
// one round per session is non-terminal at a time. Independent sessions
// share nothing but the filesystem namespace.
type LifecycleService struct {
	sessions  domain.SessionStore
	rounds    domain.RoundStore
	synthesis *SynthesisService
	critique  *CritiqueService
	metadata  *MetadataService
	logger    *zap.Logger

	// Every mutating operation is check-then-act against the store, so a
	// per-session mutex serializes them. Reads stay lock-free.
	sessionLocks sync.Map
}

func NewLifecycleService(
	sessions domain.SessionStore,
	rounds domain.RoundStore,
	synthesis *SynthesisService,
	critique *CritiqueService,
	metadata *MetadataService,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		sessions:  sessions,
		rounds:    rounds,
		synthesis: synthesis,
		critique:  critique,
		metadata:  metadata,
		logger:    logger,
	}
}

// lockSession takes the session's state-machine lock and returns the
// unlock. At most one transition per session is in flight at a time, which
// is what makes the single-non-terminal-round invariant hold under
// concurrent callers.
func (s *LifecycleService) lockSession(sessionID uuid.UUID) func() {
	mu, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (s *LifecycleService) getSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *LifecycleService) GetRound(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.Round, error) {
	r, err := s.rounds.GetRound(ctx, sessionID, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *LifecycleService) ListRounds(ctx context.Context, sessionID uuid.UUID) ([]domain.Round, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.rounds.ListRounds(ctx, sessionID)
}

func (s *LifecycleService) Findings(ctx context.Context, sessionID, roundID uuid.UUID) ([]domain.Finding, error) {
	if _, err := s.GetRound(ctx, sessionID, roundID); err != nil {
		return nil, err
	}
	findings, err := s.rounds.LoadFindings(ctx, sessionID, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFindingsNotSubmitted
		}
		return nil, err
	}
	return findings, nil
}

func (s *LifecycleService) Critique(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.CritiqueDocument, error) {
	if _, err := s.GetRound(ctx, sessionID, roundID); err != nil {
		return nil, err
	}
	doc, err := s.rounds.LoadCritique(ctx, sessionID, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCritiqueNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (s *LifecycleService) RoundMetadata(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.RoundMetadata, error) {
	if _, err := s.GetRound(ctx, sessionID, roundID); err != nil {
		return nil, err
	}
	m, err := s.rounds.LoadRoundMetadata(ctx, sessionID, roundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoundMetadataNotFound
		}
		return nil, err
	}
	return m, nil
}

// ProposeRound creates the next round at the next ordinal. Rejected while
// any round of the session is still non-terminal.
func (s *LifecycleService) ProposeRound(ctx context.Context, sessionID uuid.UUID) (*domain.Round, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	unlock := s.lockSession(sessionID)
	defer unlock()

	rounds, err := s.rounds.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, r := range rounds {
		if !r.State.Terminal() {
			return nil, fmt.Errorf("%w: %w: round %s is %s", domain.ErrInvariantViolation, ErrRoundActive, r.ID, r.State)
		}
		if r.Ordinal >= next {
			next = r.Ordinal + 1
		}
	}

	now := time.Now().UTC()
	round := &domain.Round{
		ID:        uuid.New(),
		SessionID: sessionID,
		Ordinal:   next,
		State:     domain.RoundStateProposed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.rounds.SaveRound(ctx, round); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.logger.Info("round proposed",
		zap.String("session_id", sessionID.String()),
		zap.String("round_id", round.ID.String()),
		zap.Int("ordinal", next),
	)
	return round, nil
}

// transition moves a round to a new state, persisting only after the
// transition is validated. No side effects on failure.
func (s *LifecycleService) transition(ctx context.Context, round *domain.Round, to domain.RoundState) error {
	if !domain.CanTransition(round.State, to) {
		return fmt.Errorf("%w: %w: %s -> %s", domain.ErrInvariantViolation, ErrInvalidTransition, round.State, to)
	}
	round.State = to
	round.UpdatedAt = time.Now().UTC()
	if err := s.rounds.SaveRound(ctx, round); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *LifecycleService) BeginResearch(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.Round, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, round, domain.RoundStateResearching); err != nil {
		return nil, err
	}
	return round, nil
}

// SubmitFindings attaches immutable findings to a researching round and
// advances it to synthesizing. Empty sets are rejected before any state
// change or write.
func (s *LifecycleService) SubmitFindings(ctx context.Context, sessionID, roundID uuid.UUID, findings []domain.Finding) (*domain.Round, error) {
	if len(findings) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvariantViolation, ErrEmptyFindings)
	}
	for i := range findings {
		if strings.TrimSpace(findings[i].Content) == "" {
			return nil, fmt.Errorf("%w: %w: finding %d", domain.ErrInvariantViolation, ErrFindingContent, i)
		}
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(round.State, domain.RoundStateSynthesizing) {
		return nil, fmt.Errorf("%w: %w: %s -> %s", domain.ErrInvariantViolation, ErrInvalidTransition, round.State, domain.RoundStateSynthesizing)
	}

	now := time.Now().UTC()
	for i := range findings {
		if findings[i].ID == uuid.Nil {
			findings[i].ID = uuid.New()
		}
		findings[i].SubmittedAt = now
	}

	if err := s.rounds.SaveFindings(ctx, sessionID, roundID, findings); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := s.transition(ctx, round, domain.RoundStateSynthesizing); err != nil {
		return nil, err
	}
	s.logger.Info("findings submitted",
		zap.String("round_id", roundID.String()),
		zap.Int("count", len(findings)),
	)
	return round, nil
}

// SynthesisOutcome is the terminal result of a successful round: everything
// that was atomically committed together.
type SynthesisOutcome struct {
	Round         *domain.Round               `json:"round"`
	Truth         *domain.TruthDocument       `json:"truth"`
	Critique      *domain.CritiqueDocument    `json:"critique"`
	Invalidations []domain.InvalidationRecord `json:"invalidations"`
	RoundMeta     *domain.RoundMetadata       `json:"round_metadata"`
	SessionMeta   *domain.SessionMetadata     `json:"session_metadata"`
}

// CompleteSynthesis runs the synthesis and critique engines against the
// round's findings, fanned out concurrently, then commits all artifacts as a
// single unit and advances the round to complete.
//
// Error handling follows the taxonomy: transient exhaustion marks the round
// failed with the cause recorded; schema failures return a
// manual-decision error with the round left in synthesizing; persistence
// failures surface immediately without retry.
func (s *LifecycleService) CompleteSynthesis(ctx context.Context, sessionID, roundID uuid.UUID, priorIntent string) (*SynthesisOutcome, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	unlock := s.lockSession(sessionID)
	defer unlock()

	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		return nil, err
	}
	if round.State != domain.RoundStateSynthesizing {
		return nil, fmt.Errorf("%w: %w: %s -> %s", domain.ErrInvariantViolation, ErrInvalidTransition, round.State, domain.RoundStateComplete)
	}

	findings, err := s.rounds.LoadFindings(ctx, sessionID, roundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	prior, err := s.sessions.LoadTruth(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		prior = nil // first round
	}

	// Synthesis and critique are independent: critique reads only the
	// findings, so fan out and wait for both.
	var (
		wg          sync.WaitGroup
		synthRes    *SynthesisResult
		synthErr    error
		critiqueRes *domain.CritiqueDocument
		critiqueErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		synthRes, synthErr = s.synthesis.Synthesize(ctx, prior, round, findings, priorIntent)
	}()
	go func() {
		defer wg.Done()
		critiqueRes, critiqueErr = s.critique.Analyze(ctx, round, findings)
	}()
	wg.Wait()

	if synthErr != nil {
		return nil, s.handleEngineError(ctx, round, "synthesis", synthErr)
	}
	if critiqueErr != nil {
		return nil, s.handleEngineError(ctx, round, "critique", critiqueErr)
	}

	claimsAdded := 0
	for _, c := range synthRes.Truth.Claims {
		if c.Round == round.Ordinal {
			claimsAdded++
		}
	}
	roundMeta := s.metadata.BuildRoundMetadata(round, findings, synthRes.Invalidations, claimsAdded, critiqueRes)

	priorMeta, err := s.completedRoundMetadata(ctx, sessionID, roundID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	sessionMeta := s.metadata.RollupSession(sessionID, sess.CreatedAt, append(priorMeta, *roundMeta))

	completed := *round
	completed.State = domain.RoundStateComplete
	completed.UpdatedAt = time.Now().UTC()

	artifacts := domain.CommitArtifacts{
		Round:       &completed,
		Truth:       synthRes.Truth,
		Critique:    critiqueRes,
		RoundMeta:   roundMeta,
		SessionMeta: sessionMeta,
	}
	if err := s.rounds.CommitRound(ctx, artifacts); err != nil {
		return nil, fmt.Errorf("%w: commit round %s: %v", domain.ErrPersistence, roundID, err)
	}

	s.logger.Info("round complete",
		zap.String("session_id", sessionID.String()),
		zap.String("round_id", roundID.String()),
		zap.Int("ordinal", round.Ordinal),
		zap.Int("claims_added", claimsAdded),
		zap.Int("claims_invalidated", len(synthRes.Invalidations)),
		zap.Int("gaps", len(critiqueRes.Gaps)),
	)

	return &SynthesisOutcome{
		Round:         &completed,
		Truth:         synthRes.Truth,
		Critique:      critiqueRes,
		Invalidations: synthRes.Invalidations,
		RoundMeta:     roundMeta,
		SessionMeta:   sessionMeta,
	}, nil
}

// handleEngineError maps an engine failure onto the round lifecycle.
// Schema failures leave the round synthesizing for the caller to decide;
// everything else (transient exhaustion included) fails the round with the
// cause recorded.
func (s *LifecycleService) handleEngineError(ctx context.Context, round *domain.Round, engine string, engineErr error) error {
	if errors.Is(engineErr, ErrManualSynthesisRequired) || errors.Is(engineErr, ErrManualCritiqueRequired) {
		s.logger.Warn("engine output needs manual decision",
			zap.String("engine", engine),
			zap.String("round_id", round.ID.String()),
			zap.Error(engineErr),
		)
		return engineErr
	}
	reason := fmt.Sprintf("%s failed: %v", engine, engineErr)
	if _, ferr := s.markFailed(ctx, round.SessionID, round.ID, reason); ferr != nil {
		return errors.Join(engineErr, ferr)
	}
	return engineErr
}

func (s *LifecycleService) completedRoundMetadata(ctx context.Context, sessionID, excludeRound uuid.UUID) ([]domain.RoundMetadata, error) {
	rounds, err := s.rounds.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []domain.RoundMetadata
	for _, r := range rounds {
		if r.State != domain.RoundStateComplete || r.ID == excludeRound {
			continue
		}
		rm, err := s.rounds.LoadRoundMetadata(ctx, sessionID, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *rm)
	}
	return out, nil
}

// MarkFailed terminally fails a round from any non-terminal state,
// recording the reason. Irreversible.
func (s *LifecycleService) MarkFailed(ctx context.Context, sessionID, roundID uuid.UUID, reason string) (*domain.Round, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()
	return s.markFailed(ctx, sessionID, roundID, reason)
}

// markFailed is MarkFailed without the session lock, for callers already
// holding it.
func (s *LifecycleService) markFailed(ctx context.Context, sessionID, roundID uuid.UUID, reason string) (*domain.Round, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvariantViolation, ErrFailureReasonEmpty)
	}
	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(round.State, domain.RoundStateFailed) {
		return nil, fmt.Errorf("%w: %w: %s -> %s", domain.ErrInvariantViolation, ErrInvalidTransition, round.State, domain.RoundStateFailed)
	}
	round.FailureReason = strings.TrimSpace(reason)
	round.State = domain.RoundStateFailed
	round.UpdatedAt = time.Now().UTC()
	if err := s.rounds.SaveRound(ctx, round); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.logger.Warn("round failed",
		zap.String("round_id", roundID.String()),
		zap.String("reason", round.FailureReason),
	)
	return round, nil
}

// CancelRound removes a round that has not yet received findings. No
// persistence side effects remain. Once findings exist the round must run
// to complete/failed or be reconciled through Resume.
func (s *LifecycleService) CancelRound(ctx context.Context, sessionID, roundID uuid.UUID) error {
	unlock := s.lockSession(sessionID)
	defer unlock()

	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		return err
	}
	if round.State != domain.RoundStateProposed && round.State != domain.RoundStateResearching {
		return fmt.Errorf("%w: %w: state %s", domain.ErrInvariantViolation, ErrCannotCancel, round.State)
	}
	if _, err := s.rounds.LoadFindings(ctx, sessionID, roundID); err == nil {
		return fmt.Errorf("%w: %w: findings already persisted", domain.ErrInvariantViolation, ErrCannotCancel)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := s.rounds.DeleteRound(ctx, sessionID, roundID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.logger.Info("round cancelled", zap.String("round_id", roundID.String()))
	return nil
}

// ResumeItem is one round needing an explicit caller decision after a
// restart: retry the pending work, or mark the round failed.
type ResumeItem struct {
	Round        domain.Round `json:"round"`
	Inconsistent bool         `json:"inconsistent"`
	Evidence     []string     `json:"evidence,omitempty"`
}

// Resume scans a session for rounds stuck in researching or synthesizing
// and reports them. Rounds with partial-commit evidence are flagged
// inconsistent. Nothing is auto-retried and nothing is auto-failed; a crash
// mid-commit must never be mistaken for a completed round.
func (s *LifecycleService) Resume(ctx context.Context, sessionID uuid.UUID) ([]ResumeItem, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rounds, err := s.rounds.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var items []ResumeItem
	for _, r := range rounds {
		if r.State != domain.RoundStateResearching && r.State != domain.RoundStateSynthesizing {
			continue
		}
		evidence, err := s.rounds.CommitEvidence(ctx, sessionID, r.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: scan round %s: %v", domain.ErrInconsistentState, r.ID, err)
		}
		items = append(items, ResumeItem{
			Round:        r,
			Inconsistent: len(evidence) > 0,
			Evidence:     evidence,
		})
	}
	if len(items) > 0 {
		s.logger.Warn("resume found undecided rounds",
			zap.String("session_id", sessionID.String()),
			zap.Int("count", len(items)),
		)
	}
	return items, nil
}
