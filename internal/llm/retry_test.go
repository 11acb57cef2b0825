package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyClient fails with the configured error a fixed number of times, then
// succeeds.
type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Synthesize(ctx context.Context, req domain.SynthesisRequest) (string, error) {
	c.calls++
	if c.calls <= c.failures {
		return "", c.err
	}
	return "ok", nil
}

func (c *flakyClient) Critique(ctx context.Context, req domain.CritiqueRequest) (string, error) {
	return c.Synthesize(ctx, domain.SynthesisRequest{})
}

func transientErr() error {
	return fmt.Errorf("%w: 503 from upstream", domain.ErrTransientService)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyClient{failures: 2, err: transientErr()}
	client := NewRetryingClient(inner, 3, time.Millisecond, zap.NewNop())

	out, err := client.Synthesize(context.Background(), domain.SynthesisRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	inner := &flakyClient{failures: 10, err: transientErr()}
	client := NewRetryingClient(inner, 3, time.Millisecond, zap.NewNop())

	_, err := client.Synthesize(context.Background(), domain.SynthesisRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientService)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryPassesThroughNonTransientErrors(t *testing.T) {
	inner := &flakyClient{failures: 10, err: errors.New("invalid api key")}
	client := NewRetryingClient(inner, 3, time.Millisecond, zap.NewNop())

	_, err := client.Critique(context.Background(), domain.CritiqueRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransientService)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	inner := &flakyClient{failures: 10, err: transientErr()}
	client := NewRetryingClient(inner, 5, time.Minute, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Synthesize(ctx, domain.SynthesisRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestMockClientQueuesResponses(t *testing.T) {
	mock := NewMockClient()
	mock.SynthesizeResponses = []string{"first", "second"}

	out, _ := mock.Synthesize(context.Background(), domain.SynthesisRequest{})
	assert.Equal(t, "first", out)
	out, _ = mock.Synthesize(context.Background(), domain.SynthesisRequest{})
	assert.Equal(t, "second", out)
	out, _ = mock.Synthesize(context.Background(), domain.SynthesisRequest{})
	assert.Equal(t, mock.SynthesizeResponse, out)
	assert.Len(t, mock.SynthesizeCalls, 3)
}
