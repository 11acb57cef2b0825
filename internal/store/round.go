package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/drophq/drophq/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) SaveRound(ctx context.Context, r *domain.Round) error {
	if !domain.ValidRoundState(string(r.State)) {
		return fmt.Errorf("invalid round state %q", r.State)
	}
	data, err := marshalIndent(r)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	if err := writeFileAtomic(s.roundStatePath(r.SessionID, r.ID), data, 0o644); err != nil {
		return fmt.Errorf("write round state: %w", err)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.Round, error) {
	var r domain.Round
	if err := readJSONStrict(s.roundStatePath(sessionID, roundID), &r); err != nil {
		return nil, err
	}
	if !domain.ValidRoundState(string(r.State)) {
		return nil, fmt.Errorf("round %s on disk has invalid state %q", roundID, r.State)
	}
	return &r, nil
}

// ListRounds returns all rounds of a session in ordinal order.
func (s *Store) ListRounds(ctx context.Context, sessionID uuid.UUID) ([]domain.Round, error) {
	entries, err := os.ReadDir(s.roundsDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rounds []domain.Round
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		r, err := s.GetRound(ctx, sessionID, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("load round %s: %w", e.Name(), err)
		}
		rounds = append(rounds, *r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Ordinal < rounds[j].Ordinal })
	return rounds, nil
}

// DeleteRound removes a round directory. Used only for cancellation while
// researching, before findings exist.
func (s *Store) DeleteRound(ctx context.Context, sessionID, roundID uuid.UUID) error {
	if err := os.RemoveAll(s.roundDir(sessionID, roundID)); err != nil {
		return fmt.Errorf("delete round: %w", err)
	}
	return fsyncDir(s.roundsDir(sessionID))
}

// SaveFindings persists a round's findings exactly once. Findings are
// immutable; a second write for the same round is rejected.
func (s *Store) SaveFindings(ctx context.Context, sessionID, roundID uuid.UUID, findings []domain.Finding) error {
	path := s.findingsPath(sessionID, roundID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("findings for round %s already persisted", roundID)
	}
	data, err := marshalIndent(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write findings: %w", err)
	}
	return nil
}

func (s *Store) LoadFindings(ctx context.Context, sessionID, roundID uuid.UUID) ([]domain.Finding, error) {
	var findings []domain.Finding
	if err := readJSONStrict(s.findingsPath(sessionID, roundID), &findings); err != nil {
		return nil, err
	}
	return findings, nil
}

func (s *Store) LoadCritique(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.CritiqueDocument, error) {
	var c domain.CritiqueDocument
	if err := readJSONStrict(s.critiquePath(sessionID, roundID), &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("critique on disk: %w", err)
	}
	return &c, nil
}

func (s *Store) LoadRoundMetadata(ctx context.Context, sessionID, roundID uuid.UUID) (*domain.RoundMetadata, error) {
	var m domain.RoundMetadata
	if err := readJSONStrict(s.roundMetadataPath(sessionID, roundID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveRoundMetadata rewrites a round's derived metadata outside a commit.
// Metadata is recomputable, so overwriting a terminal round's record is the
// one mutation terminal rounds allow.
func (s *Store) SaveRoundMetadata(ctx context.Context, sessionID uuid.UUID, m *domain.RoundMetadata) error {
	data, err := marshalIndent(m)
	if err != nil {
		return fmt.Errorf("marshal round metadata: %w", err)
	}
	if err := writeFileAtomic(s.roundMetadataPath(sessionID, m.RoundID), data, 0o644); err != nil {
		return fmt.Errorf("write round metadata: %w", err)
	}
	return nil
}

// CommitRound commits all artifacts of a completed synthesis as one logical
// unit: every document is staged durably first, then the staged files are
// renamed into place with the round state record last. A crash mid-sequence
// leaves staged temporaries or a truth document ahead of the recorded state,
// both of which CommitEvidence reports so resume can surface the round
// instead of treating it as silently complete.
func (s *Store) CommitRound(ctx context.Context, a domain.CommitArtifacts) error {
	if a.Round == nil || a.Truth == nil || a.Critique == nil || a.RoundMeta == nil || a.SessionMeta == nil {
		return fmt.Errorf("commit requires all artifacts")
	}
	if a.Round.State != domain.RoundStateComplete {
		return fmt.Errorf("commit requires round state %q, got %q", domain.RoundStateComplete, a.Round.State)
	}
	if err := a.Truth.Validate(); err != nil {
		return err
	}
	if err := a.Critique.Validate(); err != nil {
		return err
	}

	sessionID := a.Round.SessionID
	roundID := a.Round.ID

	type artifact struct {
		path string
		doc  any
	}
	// State record renamed last: until it lands, the recorded state still
	// says synthesizing and resume treats the round as undecided.
	artifacts := []artifact{
		{s.truthPath(sessionID), a.Truth},
		{s.critiquePath(sessionID, roundID), a.Critique},
		{s.roundMetadataPath(sessionID, a.RoundMeta.RoundID), a.RoundMeta},
		{s.sessionMetadataPath(sessionID), a.SessionMeta},
		{s.roundStatePath(sessionID, roundID), a.Round},
	}

	staged := make([]string, 0, len(artifacts))
	for _, art := range artifacts {
		data, err := marshalIndent(art.doc)
		if err != nil {
			s.discardStaged(staged)
			return fmt.Errorf("marshal %s: %w", filepath.Base(art.path), err)
		}
		if err := stageFile(art.path, data, 0o644); err != nil {
			s.discardStaged(staged)
			return fmt.Errorf("stage %s: %w", filepath.Base(art.path), err)
		}
		staged = append(staged, art.path)
	}

	for _, path := range staged {
		if err := promoteStaged(path); err != nil {
			// Do not roll back: partially promoted artifacts are exactly
			// the evidence resume needs to surface the round.
			return fmt.Errorf("promote %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (s *Store) discardStaged(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p + stagedSuffix)
	}
}

// CommitEvidence reports traces of an interrupted commit for a round.
func (s *Store) CommitEvidence(ctx context.Context, sessionID, roundID uuid.UUID) ([]string, error) {
	var evidence []string

	appendStaged := func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), stagedSuffix) {
				evidence = append(evidence, fmt.Sprintf("staged temporary %s", filepath.Join(dir, e.Name())))
			}
		}
		return nil
	}

	if err := appendStaged(s.roundDir(sessionID, roundID)); err != nil {
		return nil, err
	}
	if err := appendStaged(s.sessionDir(sessionID)); err != nil {
		return nil, err
	}

	round, err := s.GetRound(ctx, sessionID, roundID)
	if err != nil {
		if err == ErrNotFound {
			return evidence, nil
		}
		return nil, err
	}
	if round.State == domain.RoundStateSynthesizing {
		if truth, err := s.LoadTruth(ctx, sessionID); err == nil && truth.UpdatedRound >= round.Ordinal {
			evidence = append(evidence, fmt.Sprintf(
				"truth document reflects round %d but round state is %q", truth.UpdatedRound, round.State))
		}
		if _, err := s.LoadCritique(ctx, sessionID, roundID); err == nil {
			evidence = append(evidence, fmt.Sprintf("critique committed but round state is %q", round.State))
		}
	}
	return evidence, nil
}
