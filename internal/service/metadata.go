package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrRoundMetadataNotFound = errors.New("round metadata not found")

// MetadataService derives the progressive-disclosure aggregates. Pure
// aggregation: no generation calls, everything recomputable from the
// persisted artifacts.
type MetadataService struct {
	sessions domain.SessionStore
	rounds   domain.RoundStore
	logger   *zap.Logger
}

func NewMetadataService(sessions domain.SessionStore, rounds domain.RoundStore, logger *zap.Logger) *MetadataService {
	return &MetadataService{sessions: sessions, rounds: rounds, logger: logger}
}

// BuildRoundMetadata aggregates one round's counters from its findings plus
// the structural stats of its truth delta and critique.
func (s *MetadataService) BuildRoundMetadata(
	round *domain.Round,
	findings []domain.Finding,
	invalidations []domain.InvalidationRecord,
	claimsAdded int,
	critique *domain.CritiqueDocument,
) *domain.RoundMetadata {
	m := &domain.RoundMetadata{
		RoundID:   round.ID,
		Ordinal:   round.Ordinal,
		CreatedAt: round.CreatedAt,
		UpdatedAt: time.Now().UTC(),
		Delta: domain.TruthDelta{
			ClaimsAdded:       claimsAdded,
			ClaimsInvalidated: len(invalidations),
			Invalidations:     invalidations,
		},
	}
	for _, f := range findings {
		m.FindingCount++
		m.TokenEstimate += f.TokenCount
		m.CostEstimate += f.CostEstimate
		m.RuntimeSeconds += f.RuntimeSeconds
	}
	if critique != nil {
		m.GapCount = len(critique.Gaps)
	}
	return m
}

// RollupSession folds round metadata into the session-level aggregate.
// Only complete rounds contribute; the rollup must always equal a rebuild
// from scratch.
func (s *MetadataService) RollupSession(sessionID uuid.UUID, created time.Time, roundMeta []domain.RoundMetadata) *domain.SessionMetadata {
	out := &domain.SessionMetadata{
		SessionID: sessionID,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, rm := range roundMeta {
		out.RoundCount++
		out.FindingCount += rm.FindingCount
		out.TokenEstimate += rm.TokenEstimate
		out.CostEstimate += rm.CostEstimate
		out.RuntimeSeconds += rm.RuntimeSeconds
		if rm.UpdatedAt.After(out.UpdatedAt) {
			out.UpdatedAt = rm.UpdatedAt
		}
	}
	return out
}

// RebuildSession recomputes session metadata by replaying all complete
// rounds in ordinal order and persists the result. Used both as a repair
// path and as the consistency check in tests.
func (s *MetadataService) RebuildSession(ctx context.Context, sessionID uuid.UUID) (*domain.SessionMetadata, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	rounds, err := s.rounds.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var roundMeta []domain.RoundMetadata
	for _, r := range rounds {
		if r.State != domain.RoundStateComplete {
			continue
		}
		rm, err := s.rounds.LoadRoundMetadata(ctx, sessionID, r.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: round %s", ErrRoundMetadataNotFound, r.ID)
			}
			return nil, err
		}
		roundMeta = append(roundMeta, *rm)
	}

	rollup := s.RollupSession(sessionID, sess.CreatedAt, roundMeta)
	if err := s.sessions.SaveSessionMetadata(ctx, rollup); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.logger.Info("session metadata rebuilt",
		zap.String("session_id", sessionID.String()),
		zap.Int("rounds", rollup.RoundCount),
	)
	return rollup, nil
}
