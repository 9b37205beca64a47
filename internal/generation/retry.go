package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries transient provider failures with exponential backoff
// and jitter: delay = base * 2^attempt * (0.5 + rand[0, 0.5)).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy is used when configuration leaves the policy empty.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second}

// Backoff returns the delay before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := 0.5 + rng.Float64()*0.5
	return time.Duration(backoff * jitter)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries are exhausted. Every returned error is an *Error.
func (p RetryPolicy) Do(
	ctx context.Context,
	logger *slog.Logger,
	provider string,
	fn func(ctx context.Context) (*Response, error),
) (*Response, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultRetryPolicy.MaxRetries
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}

		var ge *Error
		if !errors.As(err, &ge) {
			ge = Classify("", err)
		}

		if !ge.Retryable() || attempt >= maxRetries {
			logger.WarnContext(ctx, "provider call failed",
				slog.String("provider", provider),
				slog.Int("attempt", attempt+1),
				slog.String("kind", ge.Kind.String()),
				slog.String("error", err.Error()))
			return nil, ge
		}

		delay := p.Backoff(attempt, rng)
		logger.InfoContext(ctx, "retrying provider call after delay",
			slog.String("provider", provider),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, Classify(ge.Provider, fmt.Errorf("retry interrupted: %w", ctx.Err()))
		}
	}
}
