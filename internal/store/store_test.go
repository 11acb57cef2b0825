package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func testSession(t *testing.T, s *Store) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:        uuid.New(),
		Name:      "competitive analysis",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func testRound(t *testing.T, s *Store, sessionID uuid.UUID, ordinal int, state domain.RoundState) *domain.Round {
	t.Helper()
	r := &domain.Round{
		ID:        uuid.New(),
		SessionID: sessionID,
		Ordinal:   ordinal,
		State:     state,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveRound(context.Background(), r))
	return r
}

func testTruth(sessionID uuid.UUID, round int) *domain.TruthDocument {
	var evolution []domain.EvolutionEntry
	for i := 1; i <= round; i++ {
		evolution = append(evolution, domain.EvolutionEntry{Round: i, Summary: "round summary"})
	}
	return &domain.TruthDocument{
		SessionID:        sessionID,
		StrategicContext: "context",
		Claims: []domain.Claim{
			{ID: uuid.New(), Text: "claim one", Round: 1, Confidence: domain.ConfidenceHigh},
		},
		Evolution:    evolution,
		UpdatedRound: round,
		UpdatedAt:    time.Now().UTC(),
	}
}

func TestSessionRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "competitive analysis", got.Name)

	// creating the same session twice is rejected
	assert.Error(t, s.CreateSession(ctx, sess))

	_, err = s.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 3; i >= 1; i-- {
		sess := &domain.Session{
			ID:        uuid.New(),
			Name:      "s",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.True(t, sessions[0].CreatedAt.Before(sessions[1].CreatedAt))
	assert.True(t, sessions[1].CreatedAt.Before(sessions[2].CreatedAt))
}

func TestStrictDecodeRejectsUnknownFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	// corrupt the file with an extra field
	path := s.sessionPath(sess.ID)
	require.NoError(t, os.WriteFile(path, []byte(`{"session_id":"`+sess.ID.String()+`","name":"x","unknown_field":1}`), 0o644))

	_, err := s.GetSession(ctx, sess.ID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStrictDecodeRejectsTrailingContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	path := s.sessionPath(sess.ID)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte("{}")...), 0o644))

	_, err = s.GetSession(ctx, sess.ID)
	assert.Error(t, err)
}

func TestAtomicWriteLeavesNoTemporaries(t *testing.T) {
	s := newTestStore(t)
	sess := testSession(t, s)

	entries, err := os.ReadDir(s.sessionDir(sess.ID))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.")
		assert.NotContains(t, e.Name(), stagedSuffix)
	}
}

func TestFindingsWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 1, domain.RoundStateResearching)

	findings := []domain.Finding{
		{ID: uuid.New(), ResearcherID: "r1", Content: "finding one", TokenCount: 100},
		{ID: uuid.New(), ResearcherID: "r2", Content: "finding two", TokenCount: 200},
	}
	require.NoError(t, s.SaveFindings(ctx, sess.ID, r.ID, findings))

	got, err := s.LoadFindings(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "finding one", got[0].Content)

	// findings are immutable once persisted
	err = s.SaveFindings(ctx, sess.ID, r.ID, findings[:1])
	assert.ErrorContains(t, err, "already persisted")

	again, err := s.LoadFindings(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestListRoundsOrdinalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	testRound(t, s, sess.ID, 3, domain.RoundStateComplete)
	testRound(t, s, sess.ID, 1, domain.RoundStateComplete)
	testRound(t, s, sess.ID, 2, domain.RoundStateFailed)

	rounds, err := s.ListRounds(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	for i, r := range rounds {
		assert.Equal(t, i+1, r.Ordinal)
	}
}

func TestSaveRoundRejectsInvalidState(t *testing.T) {
	s := newTestStore(t)
	r := &domain.Round{ID: uuid.New(), SessionID: uuid.New(), Ordinal: 1, State: "bogus"}
	assert.Error(t, s.SaveRound(context.Background(), r))
}

func TestCommitRound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 1, domain.RoundStateSynthesizing)

	completed := *r
	completed.State = domain.RoundStateComplete

	artifacts := domain.CommitArtifacts{
		Round:    &completed,
		Truth:    testTruth(sess.ID, 1),
		Critique: &domain.CritiqueDocument{RoundID: r.ID, GeneratedAt: time.Now().UTC()},
		RoundMeta: &domain.RoundMetadata{
			RoundID: r.ID, Ordinal: 1, FindingCount: 2,
		},
		SessionMeta: &domain.SessionMetadata{
			SessionID: sess.ID, RoundCount: 1, FindingCount: 2,
		},
	}
	require.NoError(t, s.CommitRound(ctx, artifacts))

	got, err := s.GetRound(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateComplete, got.State)

	truth, err := s.LoadTruth(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, truth.UpdatedRound)

	_, err = s.LoadCritique(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	_, err = s.LoadRoundMetadata(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	_, err = s.LoadSessionMetadata(ctx, sess.ID)
	require.NoError(t, err)

	// a clean commit leaves no evidence
	evidence, err := s.CommitEvidence(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestCommitRoundRejectsIncompleteArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 1, domain.RoundStateSynthesizing)

	completed := *r
	completed.State = domain.RoundStateComplete

	err := s.CommitRound(ctx, domain.CommitArtifacts{Round: &completed, Truth: testTruth(sess.ID, 1)})
	assert.ErrorContains(t, err, "all artifacts")

	// wrong state
	err = s.CommitRound(ctx, domain.CommitArtifacts{
		Round:       r,
		Truth:       testTruth(sess.ID, 1),
		Critique:    &domain.CritiqueDocument{RoundID: r.ID},
		RoundMeta:   &domain.RoundMetadata{RoundID: r.ID},
		SessionMeta: &domain.SessionMetadata{SessionID: sess.ID},
	})
	assert.ErrorContains(t, err, "round state")
}

func TestCommitEvidenceDetectsStagedTemporaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 1, domain.RoundStateSynthesizing)

	// simulate a crash between staging and promotion
	staged := s.critiquePath(sess.ID, r.ID) + stagedSuffix
	require.NoError(t, os.MkdirAll(filepath.Dir(staged), 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("{}"), 0o644))

	evidence, err := s.CommitEvidence(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Contains(t, evidence[0], "staged temporary")

	// the recorded state is untouched
	got, err := s.GetRound(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateSynthesizing, got.State)
}

func TestCommitEvidenceDetectsArtifactsAheadOfState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 2, domain.RoundStateSynthesizing)

	// truth already reflects this round, but the state record still says
	// synthesizing: the promote sequence died before its last rename
	truth := testTruth(sess.ID, 2)
	data, err := marshalIndent(truth)
	require.NoError(t, err)
	require.NoError(t, writeFileAtomic(s.truthPath(sess.ID), data, 0o644))

	evidence, err := s.CommitEvidence(ctx, sess.ID, r.ID)
	require.NoError(t, err)
	require.NotEmpty(t, evidence)
	assert.Contains(t, evidence[0], "truth document reflects round 2")
}

func TestDeleteRound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	r := testRound(t, s, sess.ID, 1, domain.RoundStateResearching)

	require.NoError(t, s.DeleteRound(ctx, sess.ID, r.ID))
	_, err := s.GetRound(ctx, sess.ID, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutosave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	content := []byte(`{"transcript":["hello"]}`)
	require.NoError(t, s.Autosave(ctx, sess.ID, "conversation.json", content))

	got, err := s.LoadAutosave(ctx, sess.ID, "conversation.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// overwrite is allowed; autosaves are caller-owned state, not artifacts
	require.NoError(t, s.Autosave(ctx, sess.ID, "conversation.json", []byte("v2")))

	_, err = s.LoadAutosave(ctx, sess.ID, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	// path traversal in names is rejected
	assert.Error(t, s.Autosave(ctx, sess.ID, "../escape.json", content))
	assert.Error(t, s.Autosave(ctx, sess.ID, "", content))
}

func TestLoadTruthValidatesOnRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	bad := testTruth(sess.ID, 1)
	bad.Evolution = nil
	data, err := marshalIndent(bad)
	require.NoError(t, err)
	require.NoError(t, writeFileAtomic(s.truthPath(sess.ID), data, 0o644))

	_, err = s.LoadTruth(ctx, sess.ID)
	assert.ErrorContains(t, err, "evolution")
}
