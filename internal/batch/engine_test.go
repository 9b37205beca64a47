package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/knowledge"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func briefStyle(t *testing.T) *prompt.Style {
	t.Helper()
	lib, err := prompt.Default()
	require.NoError(t, err)
	style, err := lib.Style(domain.ReportStyleBrief)
	require.NoError(t, err)
	return style
}

// batchNumber extracts the 1-based batch index from a rendered prompt.
func batchNumber(p string) int {
	var n, total int
	i := strings.Index(p, "batch ")
	_, _ = fmt.Sscanf(p[i:], "batch %d of %d", &n, &total)
	return n
}

func TestEngine_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	for _, k := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			t.Parallel()
			var inFlight, peak atomic.Int32
			gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return &generation.Response{Content: "ok"}, nil
			})

			e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
			batches := Partition(images(23), 2, domain.Ungrouped, nil)
			res, err := e.Run(context.Background(), batches, Options{Concurrency: k, Model: "m"}, nil)
			require.NoError(t, err)
			assert.Len(t, res.Outcomes, 12)
			assert.LessOrEqual(t, peak.Load(), int32(k))
			assert.Equal(t, int32(k), peak.Load(), "slots are kept full")
		})
	}
}

func TestEngine_LaunchOnCompletion(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		n := batchNumber(req.Prompt)
		if n == 1 {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
				return nil, errors.New("slot was never refilled")
			}
		}
		return &generation.Response{Content: fmt.Sprintf("batch %d", n)}, nil
	})
	acc := NewAccumulator(0, func(ctx context.Context, content string, seq int64) error {
		if seq == 4 {
			close(release)
		}
		return nil
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	batches := Partition(images(10), 2, domain.Ungrouped, nil)
	res, err := e.Run(context.Background(), batches, Options{Concurrency: 2, Model: "m"}, acc)
	require.NoError(t, err)

	// Batch 1 holds one slot until four other batches have completed through
	// the second slot, which only happens if each completion refills it.
	assert.Zero(t, res.Failed)
	assert.Equal(t, "batch 2\n\nbatch 3\n\nbatch 4\n\nbatch 5\n\nbatch 1", res.Content)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Batch.Index, "outcomes are in dispatch order")
	}
}

func TestEngine_IsolatesFailures(t *testing.T) {
	t.Parallel()

	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		n := batchNumber(req.Prompt)
		if n == 2 {
			return nil, &generation.Error{Provider: domain.ProviderGemini, Kind: generation.KindTimeout, Err: context.DeadlineExceeded}
		}
		return &generation.Response{
			Content: fmt.Sprintf("content %d", n),
			Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	batches := Partition(images(12), 5, domain.Ungrouped, nil)
	require.Len(t, batches, 3)

	res, err := e.Run(context.Background(), batches, Options{Concurrency: 3, Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}, res.Usage)

	assert.Equal(t, 1, strings.Count(res.Content, "[ERROR"))
	assert.Contains(t, res.Content, "[ERROR: batch 2/3 failed: timeout]")
	assert.Contains(t, res.Content, "content 1")
	assert.Contains(t, res.Content, "content 3")

	failed := res.Outcomes[1]
	require.True(t, failed.Failed())
	assert.ErrorIs(t, failed.Err, generation.ErrTimeout)
	assert.Equal(t, generation.KindTimeout, failed.Err.Kind)
}

func TestEngine_PerBatchTimeout(t *testing.T) {
	t.Parallel()

	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		if batchNumber(req.Prompt) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &generation.Response{Content: "fast"}, nil
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	batches := Partition(images(4), 2, domain.Grouped, nil)
	res, err := e.Run(context.Background(), batches, Options{Concurrency: 2, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.True(t, res.Outcomes[0].Failed())
	assert.Equal(t, generation.KindTimeout, res.Outcomes[0].Err.Kind)
	assert.Equal(t, "fast", res.Outcomes[1].Content)
}

func TestEngine_ProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		time.Sleep(time.Duration(batchNumber(req.Prompt)%3) * time.Millisecond)
		return &generation.Response{Content: fmt.Sprintf("part %d", batchNumber(req.Prompt))}, nil
	})

	var (
		mu      sync.Mutex
		seqs    []int64
		lengths []int
	)
	acc := NewAccumulator(7, func(ctx context.Context, content string, seq int64) error {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, seq)
		lengths = append(lengths, len(content))
		return nil
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	batches := Partition(images(30), 1, domain.Ungrouped, nil)
	res, err := e.Run(context.Background(), batches, Options{Concurrency: 6}, acc)
	require.NoError(t, err)

	require.Len(t, seqs, 30)
	for i := 1; i < len(seqs); i++ {
		assert.Equal(t, seqs[i-1]+1, seqs[i])
		assert.Greater(t, lengths[i], lengths[i-1])
	}
	assert.Equal(t, int64(8), seqs[0])
	assert.Equal(t, int64(37), res.Seq)
	for i := 1; i <= 30; i++ {
		assert.Contains(t, res.Content, fmt.Sprintf("part %d", i))
	}
}

func TestEngine_PersistErrorDoesNotFailBatch(t *testing.T) {
	t.Parallel()

	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		return &generation.Response{Content: "x"}, nil
	})
	acc := NewAccumulator(0, func(ctx context.Context, content string, seq int64) error {
		return errors.New("database is locked")
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	res, err := e.Run(context.Background(), Partition(images(3), 1, domain.Ungrouped, nil), Options{Concurrency: 2}, acc)
	require.NoError(t, err)
	assert.Zero(t, res.Failed)
}

func TestEngine_CancelStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	gen := generation.GeneratorFunc(func(c context.Context, req generation.Request) (*generation.Response, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		return &generation.Response{Content: "done"}, nil
	})

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	res, err := e.Run(ctx, Partition(images(5), 1, domain.Ungrouped, nil), Options{Concurrency: 1}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Outcomes, 1)
	assert.Equal(t, "done", res.Outcomes[0].Content)
}

func TestEngine_CancelInFlightIsNotProviderFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := generation.GeneratorFunc(func(c context.Context, req generation.Request) (*generation.Response, error) {
		<-c.Done()
		return nil, fmt.Errorf("request aborted: %w", c.Err())
	})
	time.AfterFunc(50*time.Millisecond, cancel)

	e := NewEngine(gen, briefStyle(t), nil, logger.Discard())
	res, err := e.Run(ctx, Partition(images(12), 5, domain.Ungrouped, nil), Options{Concurrency: 3}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, res.Cancelled)
	for _, o := range res.Outcomes {
		require.True(t, o.Failed())
		assert.True(t, o.Err.Cancelled)
		assert.Contains(t, o.Err.Marker(), "failed: cancelled]")
	}
}

type stubGate struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (g *stubGate) Lookup(ctx context.Context, query string) (knowledge.GateDecision, error) {
	g.mu.Lock()
	g.queries = append(g.queries, query)
	g.mu.Unlock()
	if g.err != nil {
		return knowledge.GateDecision{}, g.err
	}
	return knowledge.GateDecision{Pass: true, Context: "REF:" + query}, nil
}

func TestEngine_ConsultsGateForDeficiencies(t *testing.T) {
	t.Parallel()

	var prompts []string
	var mu sync.Mutex
	gen := generation.GeneratorFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		assert.True(t, req.JSON)
		assert.Equal(t, "gemini-2.5-flash", req.Model)
		assert.Equal(t, domain.ReasoningLow, req.ReasoningEffort)
		return &generation.Response{Content: "ok"}, nil
	})

	imgs := images(2)
	imgs[1].Tag = domain.ImageTagOverview
	gate := &stubGate{}

	e := NewEngine(gen, briefStyle(t), gate, logger.Discard())
	_, err := e.Run(context.Background(), Partition(imgs, 5, domain.Ungrouped, nil), Options{
		Concurrency:     1,
		Model:           "gemini-2.5-flash",
		ReasoningEffort: domain.ReasoningLow,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"torn membrane 1"}, gate.queries)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "REF:torn membrane 1")

	gate = &stubGate{err: knowledge.ErrSearchFailed}
	e = NewEngine(gen, briefStyle(t), gate, logger.Discard())
	res, err := e.Run(context.Background(), Partition(imgs, 5, domain.Ungrouped, nil), Options{
		Model:           "gemini-2.5-flash",
		ReasoningEffort: domain.ReasoningLow,
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Failed, "gate errors never fail a batch")
}

func TestErrorMarker(t *testing.T) {
	t.Parallel()

	e := &Error{Index: 1, Total: 4, Group: "Roof", Kind: generation.KindQuotaExceeded}
	assert.Equal(t, "[ERROR: batch 2/4 (Roof) failed: quota-exceeded]", e.Marker())
	e.Group = ""
	assert.Equal(t, "[ERROR: batch 2/4 failed: quota-exceeded]", e.Marker())
	e.Cancelled = true
	assert.Equal(t, "[ERROR: batch 2/4 failed: cancelled]", e.Marker())
}
