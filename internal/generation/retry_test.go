package generation

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: 100 * time.Millisecond}
	rng := rand.New(rand.NewSource(1))
	for attempt := 0; attempt < 4; attempt++ {
		full := 100 * time.Millisecond * time.Duration(1<<attempt)
		d := p.Backoff(attempt, rng)
		assert.GreaterOrEqual(t, d, full/2)
		assert.LessOrEqual(t, d, full)
	}
}

func TestRetryPolicy_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
	resp, err := p.Do(context.Background(), logger.Discard(), "gemini", func(ctx context.Context) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, NewStatusError(domain.ProviderGemini, 503, "unavailable", nil)
		}
		return &Response{Content: "ok"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryPolicy_ReturnsClassifiedErrorsImmediately(t *testing.T) {
	t.Parallel()

	for _, status := range []int{429, 401, 400} {
		var calls atomic.Int32
		p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}
		_, err := p.Do(context.Background(), logger.Discard(), "openai", func(ctx context.Context) (*Response, error) {
			calls.Add(1)
			return nil, NewStatusError(domain.ProviderOpenAI, status, "nope", nil)
		})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load(), "status %d", status)
	}
}

func TestRetryPolicy_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
	_, err := p.Do(context.Background(), logger.Discard(), "gemini", func(ctx context.Context) (*Response, error) {
		calls.Add(1)
		return nil, errors.New("connection reset")
	})

	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}
	start := time.Now()
	_, err := p.Do(ctx, logger.Discard(), "gemini", func(ctx context.Context) (*Response, error) {
		return nil, NewStatusError(domain.ProviderGemini, 500, "internal", nil)
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}
