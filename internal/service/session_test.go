package service

import (
	"context"
	"testing"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSessionService(t *testing.T) *SessionService {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewSessionService(st, st, zap.NewNop())
}

func TestCreateSession(t *testing.T) {
	svc := newSessionService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "  market deep dive  ")
	require.NoError(t, err)
	assert.Equal(t, "market deep dive", sess.Name)
	assert.NotEqual(t, uuid.Nil, sess.ID)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateSessionRequiresName(t *testing.T) {
	svc := newSessionService(t)

	_, err := svc.Create(context.Background(), "   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNameEmpty)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestSessionLookupErrors(t *testing.T) {
	svc := newSessionService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, err := svc.Create(ctx, "s")
	require.NoError(t, err)

	_, err = svc.Truth(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrTruthNotFound)

	_, err = svc.Metadata(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNoCompletedRounds)
}

func TestAutosaveRoundtrip(t *testing.T) {
	svc := newSessionService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "s")
	require.NoError(t, err)

	content := []byte(`{"messages": ["keep this"]}`)
	require.NoError(t, svc.Autosave(ctx, sess.ID, "conversation.json", content))

	got, err := svc.LoadAutosave(ctx, sess.ID, "conversation.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	err = svc.Autosave(ctx, sess.ID, "", content)
	assert.ErrorIs(t, err, ErrAutosaveNameEmpty)

	_, err = svc.LoadAutosave(ctx, sess.ID, "nope.json")
	assert.ErrorIs(t, err, ErrAutosaveNotFound)

	err = svc.Autosave(ctx, uuid.New(), "conversation.json", content)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
