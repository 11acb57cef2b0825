package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/llm"
	"github.com/drophq/drophq/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lifecycleFixture struct {
	root string
	st   *store.Store
	mock *llm.MockClient
	svc  *LifecycleService
	sess *domain.Session
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	root := t.TempDir()
	st, err := store.New(root)
	require.NoError(t, err)

	logger := zap.NewNop()
	mock := llm.NewMockClient()
	svc := NewLifecycleService(
		st, st,
		NewSynthesisService(mock, logger),
		NewCritiqueService(mock, logger),
		NewMetadataService(st, st, logger),
		logger,
	)

	sessions := NewSessionService(st, st, logger)
	sess, err := sessions.Create(context.Background(), "test session")
	require.NoError(t, err)

	return &lifecycleFixture{root: root, st: st, mock: mock, svc: svc, sess: sess}
}

func (f *lifecycleFixture) findings(n int) []domain.Finding {
	var out []domain.Finding
	for i := 0; i < n; i++ {
		out = append(out, domain.Finding{
			ResearcherID:   "researcher-1",
			Content:        "research output",
			TokenCount:     1000,
			CostEstimate:   0.05,
			RuntimeSeconds: 12,
		})
	}
	return out
}

// runRound drives one round through to synthesizing and returns it.
func (f *lifecycleFixture) runToSynthesizing(t *testing.T, findingCount int) *domain.Round {
	t.Helper()
	ctx := context.Background()
	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	round, err = f.svc.SubmitFindings(ctx, f.sess.ID, round.ID, f.findings(findingCount))
	require.NoError(t, err)
	return round
}

func TestRoundHappyPath(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, round.Ordinal)
	assert.Equal(t, domain.RoundStateProposed, round.State)

	round, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateResearching, round.State)

	round, err = f.svc.SubmitFindings(ctx, f.sess.ID, round.ID, f.findings(2))
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateSynthesizing, round.State)

	f.mock.SynthesizeResponse = `{
		"strategic_context": "Initial picture",
		"claims": [{"text": "Market size is $1.2B", "confidence": "medium", "finding_index": 0}],
		"evolution": "First round established baseline"
	}`
	outcome, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, round.ID, "size the market")
	require.NoError(t, err)

	assert.Equal(t, domain.RoundStateComplete, outcome.Round.State)
	require.Len(t, outcome.Truth.Claims, 1)
	assert.Equal(t, 1, outcome.RoundMeta.Delta.ClaimsAdded)
	assert.Equal(t, 2, outcome.RoundMeta.FindingCount)
	assert.Equal(t, 2000, outcome.RoundMeta.TokenEstimate)
	assert.Equal(t, 1, outcome.SessionMeta.RoundCount)
	assert.Equal(t, 2, outcome.SessionMeta.FindingCount)

	// everything readable back from disk
	got, err := f.st.GetRound(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateComplete, got.State)
	truth, err := f.st.LoadTruth(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, truth.UpdatedRound)
	_, err = f.st.LoadCritique(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)

	// a clean finish leaves nothing for resume
	items, err := f.svc.Resume(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSecondRoundInvalidatesClaim(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	f.mock.SynthesizeResponse = `{
		"claims": [{"text": "Market size is $1.2B", "confidence": "medium", "finding_index": 0}],
		"evolution": "Baseline"
	}`
	r1 := f.runToSynthesizing(t, 1)
	_, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, r1.ID, "")
	require.NoError(t, err)

	f.mock.SynthesizeResponse = `{
		"claims": [{"text": "Market size is $2.2B", "confidence": "high", "invalidates": "Market size is $1.2B", "finding_index": 0}],
		"evolution": "Sizing corrected with primary data"
	}`
	r2 := f.runToSynthesizing(t, 1)
	outcome, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, r2.ID, "")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Round.Ordinal)
	assert.Equal(t, 1, outcome.RoundMeta.Delta.ClaimsInvalidated)
	require.Len(t, outcome.Truth.Claims, 2)
	assert.Equal(t, 2, outcome.Truth.Claims[0].InvalidatedBy)
	assert.Equal(t, 2, outcome.SessionMeta.RoundCount)

	truth, err := f.st.LoadTruth(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Contains(t, truth.RenderMarkdown(), "~~Market size is $1.2B~~ (Round 1, invalidated by Round 2)")
}

func TestProposeRejectsConcurrentRound(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	r1, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)

	_, err = f.svc.ProposeRound(ctx, f.sess.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoundActive)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	// once terminal, the next ordinal opens up
	_, err = f.svc.MarkFailed(ctx, f.sess.ID, r1.ID, "abandoned")
	require.NoError(t, err)
	r2, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, r2.Ordinal)
}

// slowScanStore stretches the gap between the non-terminal-round check and
// the write that follows it, so racing callers would interleave without the
// session lock.
type slowScanStore struct {
	domain.RoundStore
}

func (s slowScanStore) ListRounds(ctx context.Context, sessionID uuid.UUID) ([]domain.Round, error) {
	rounds, err := s.RoundStore.ListRounds(ctx, sessionID)
	time.Sleep(25 * time.Millisecond)
	return rounds, err
}

func TestProposeRoundConcurrentCallsSingleWinner(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	logger := zap.NewNop()
	mock := llm.NewMockClient()
	svc := NewLifecycleService(
		f.st, slowScanStore{RoundStore: f.st},
		NewSynthesisService(mock, logger),
		NewCritiqueService(mock, logger),
		NewMetadataService(f.st, f.st, logger),
		logger,
	)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ProposeRound(ctx, f.sess.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrRoundActive)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	}
	assert.Equal(t, 1, winners)

	// exactly one round persisted, at ordinal 1
	rounds, err := f.st.ListRounds(ctx, f.sess.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, 1, rounds[0].Ordinal)
	assert.Equal(t, domain.RoundStateProposed, rounds[0].State)
}

func TestSubmitFindingsRejectsEmptySet(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitFindings(ctx, f.sess.ID, round.ID, nil)
	assert.ErrorIs(t, err, ErrEmptyFindings)

	_, err = f.svc.SubmitFindings(ctx, f.sess.ID, round.ID, []domain.Finding{{Content: "  "}})
	assert.ErrorIs(t, err, ErrFindingContent)

	// rejected before any state change or write
	got, err := f.svc.GetRound(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateResearching, got.State)
	_, err = f.st.LoadFindings(ctx, f.sess.ID, round.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)

	// findings before research starts
	_, err = f.svc.SubmitFindings(ctx, f.sess.ID, round.ID, f.findings(1))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// synthesis before findings
	_, err = f.svc.CompleteSynthesis(ctx, f.sess.ID, round.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// double begin
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransientFailureMarksRoundFailed(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round := f.runToSynthesizing(t, 1)
	f.mock.SynthesizeError = domain.ErrTransientService

	_, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, round.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientService)

	got, err := f.svc.GetRound(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateFailed, got.State)
	assert.Contains(t, got.FailureReason, "synthesis failed")
}

func TestSchemaFailureLeavesRoundForManualDecision(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round := f.runToSynthesizing(t, 1)
	f.mock.SynthesizeResponses = []string{`garbage`, `more garbage`}

	_, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, round.ID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManualSynthesisRequired)

	// round stays synthesizing: the findings are fine, the caller decides
	got, err := f.svc.GetRound(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateSynthesizing, got.State)

	// and a retry with valid output completes the round
	f.mock.SynthesizeResponses = nil
	outcome, err := f.svc.CompleteSynthesis(ctx, f.sess.ID, round.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateComplete, outcome.Round.State)
}

func TestMarkFailed(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)

	_, err = f.svc.MarkFailed(ctx, f.sess.ID, round.ID, "   ")
	assert.ErrorIs(t, err, ErrFailureReasonEmpty)

	got, err := f.svc.MarkFailed(ctx, f.sess.ID, round.ID, "researcher unavailable")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateFailed, got.State)
	assert.Equal(t, "researcher unavailable", got.FailureReason)

	// failure is terminal
	_, err = f.svc.MarkFailed(ctx, f.sess.ID, round.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelRound(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelRound(ctx, f.sess.ID, round.ID))
	_, err = f.svc.GetRound(ctx, f.sess.ID, round.ID)
	assert.ErrorIs(t, err, ErrRoundNotFound)

	// the ordinal is reusable after a cancel
	next, err := f.svc.ProposeRound(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Ordinal)

	// once findings exist, cancel is off the table
	_, err = f.svc.BeginResearch(ctx, f.sess.ID, next.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitFindings(ctx, f.sess.ID, next.ID, f.findings(1))
	require.NoError(t, err)
	err = f.svc.CancelRound(ctx, f.sess.ID, next.ID)
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestResumeReportsUndecidedRounds(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round := f.runToSynthesizing(t, 1)

	items, err := f.svc.Resume(ctx, f.sess.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, round.ID, items[0].Round.ID)
	assert.False(t, items[0].Inconsistent)
}

func TestResumeFlagsPartialCommit(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	round := f.runToSynthesizing(t, 1)

	// simulate a crash mid-commit: a staged temporary left in the round dir
	staged := filepath.Join(f.root, "sessions", f.sess.ID.String(), "rounds", round.ID.String(), "critique.json.staged")
	require.NoError(t, os.MkdirAll(filepath.Dir(staged), 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("{}"), 0o644))

	items, err := f.svc.Resume(ctx, f.sess.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Inconsistent)
	require.NotEmpty(t, items[0].Evidence)
	assert.Contains(t, items[0].Evidence[0], "staged temporary")

	// resume never auto-resolves: state and evidence both still there
	got, err := f.svc.GetRound(ctx, f.sess.ID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStateSynthesizing, got.State)
	_, err = os.Stat(staged)
	assert.NoError(t, err)
}

func TestRoundNotFound(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetRound(ctx, f.sess.ID, uuid.New())
	assert.ErrorIs(t, err, ErrRoundNotFound)

	_, err = f.svc.ProposeRound(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
