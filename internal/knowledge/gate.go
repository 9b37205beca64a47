// Package knowledge decides whether a batch image deserves a specification
// lookup and, when it does, fetches a bounded context snippet from an
// external similarity search service.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/reportgen/internal/config"
	"golang.org/x/sync/singleflight"
)

// ErrSearchFailed wraps failures of the external similarity search.
var ErrSearchFailed = errors.New("knowledge search failed")

// Hit is one similarity search result.
type Hit struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Searcher queries the external similarity index.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

// GateDecision is the outcome of a gate lookup. Pass is false when either
// stage rejected the query; Context is empty in that case.
type GateDecision struct {
	Pass      bool    `json:"pass"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	Context   string  `json:"context,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Cache stores decisions by normalized query.
type Cache interface {
	Get(ctx context.Context, key string) (GateDecision, bool)
	Add(ctx context.Context, key string, d GateDecision)
}

// Options tunes a Gate.
type Options struct {
	TopK     int
	MinScore float64
	MaxChars int
	Timeout  time.Duration
}

// OptionsFromConfig converts the knowledge configuration.
func OptionsFromConfig(cfg config.KnowledgeConfig) Options {
	return Options{
		TopK:     cfg.TopK,
		MinScore: cfg.MinScore,
		MaxChars: cfg.MaxChars,
		Timeout:  cfg.Timeout,
	}
}

// Gate combines the rule classifier, the decision cache and the searcher.
// It is safe for concurrent use.
type Gate struct {
	classifier *Classifier
	searcher   Searcher
	cache      Cache
	opts       Options
	logger     *slog.Logger
	flight     singleflight.Group
}

// NewGate creates a gate. All collaborators are required.
func NewGate(classifier *Classifier, searcher Searcher, cache Cache, opts Options, logger *slog.Logger) (*Gate, error) {
	if classifier == nil || searcher == nil || cache == nil {
		return nil, errors.New("knowledge gate requires a classifier, searcher and cache")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Gate{
		classifier: classifier,
		searcher:   searcher,
		cache:      cache,
		opts:       opts,
		logger:     logger.With(slog.String("component", "knowledge_gate")),
	}, nil
}

// Lookup runs both stages for query. Search errors and stage-1 rejections
// are never cached.
func (g *Gate) Lookup(ctx context.Context, query string) (GateDecision, error) {
	key := Normalize(query)
	if pass, reason := g.classifier.Classify(key); !pass {
		return GateDecision{Reason: reason}, nil
	}

	if d, ok := g.cache.Get(ctx, key); ok {
		g.logger.DebugContext(ctx, "knowledge cache hit", slog.String("query", key))
		return d, nil
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		// A concurrent caller may have filled the cache while we waited.
		if d, ok := g.cache.Get(ctx, key); ok {
			return d, nil
		}
		d, err := g.search(ctx, key)
		if err != nil {
			return GateDecision{}, err
		}
		g.cache.Add(ctx, key, d)
		return d, nil
	})
	if err != nil {
		return GateDecision{}, err
	}
	return v.(GateDecision), nil
}

func (g *Gate) search(ctx context.Context, key string) (GateDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	hits, err := g.searcher.Search(ctx, key, g.opts.TopK)
	if err != nil {
		return GateDecision{}, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	g.logger.DebugContext(ctx, "knowledge search completed",
		slog.String("query", key),
		slog.Int("hits", len(hits)),
		slog.Duration("duration", time.Since(start)))

	return g.decide(hits), nil
}

// decide keeps hits at or above MinScore and formats them into a context
// payload bounded by MaxChars.
func (g *Gate) decide(hits []Hit) GateDecision {
	var (
		best float64
		b    strings.Builder
	)
	for _, h := range hits {
		if h.Score < g.opts.MinScore {
			continue
		}
		if h.Score > best {
			best = h.Score
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if h.Source != "" {
			fmt.Fprintf(&b, "[%s] ", h.Source)
		}
		b.WriteString(strings.TrimSpace(h.Text))
	}
	if b.Len() == 0 {
		return GateDecision{Reason: "below-threshold"}
	}

	text, truncated := Truncate(b.String(), g.opts.MaxChars)
	return GateDecision{
		Pass:      true,
		Score:     best,
		Reason:    "retrieved",
		Context:   text,
		Truncated: truncated,
	}
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
