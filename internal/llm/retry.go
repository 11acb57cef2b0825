package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 500 * time.Millisecond
	maxRetryDelay        = 30 * time.Second
)

// RetryingClient wraps a generation client with bounded exponential backoff
// for transient failures. Non-transient errors pass through immediately;
// schema problems are the caller's concern, not a retry matter here.
type RetryingClient struct {
	inner    domain.GenerationClient
	attempts int
	base     time.Duration
	logger   *zap.Logger
}

func NewRetryingClient(inner domain.GenerationClient, attempts int, base time.Duration, logger *zap.Logger) *RetryingClient {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &RetryingClient{inner: inner, attempts: attempts, base: base, logger: logger}
}

func (c *RetryingClient) Synthesize(ctx context.Context, req domain.SynthesisRequest) (string, error) {
	return c.do(ctx, "synthesize", func() (string, error) {
		return c.inner.Synthesize(ctx, req)
	})
}

func (c *RetryingClient) Critique(ctx context.Context, req domain.CritiqueRequest) (string, error) {
	return c.do(ctx, "critique", func() (string, error) {
		return c.inner.Critique(ctx, req)
	})
}

func (c *RetryingClient) do(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrTransientService) {
			return "", err
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("generation call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// backoff returns base * 2^(attempt-1) with up to 25% jitter, capped.
func (c *RetryingClient) backoff(attempt int) time.Duration {
	delay := c.base << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
