package batch

import (
	"context"
	"strings"
	"sync"
)

// PersistFunc stores the accumulated content with its sequence number.
// Implementations must ignore writes whose seq is not greater than the last
// stored one.
type PersistFunc func(ctx context.Context, content string, seq int64) error

// Accumulator is the shared progress log of a run. Append serializes the
// append and the persist so concurrent completions land in arrival order
// with strictly increasing sequence numbers.
type Accumulator struct {
	mu      sync.Mutex
	content strings.Builder
	seq     int64
	persist PersistFunc
}

// NewAccumulator creates an accumulator continuing after startSeq. persist
// may be nil.
func NewAccumulator(startSeq int64, persist PersistFunc) *Accumulator {
	return &Accumulator{seq: startSeq, persist: persist}
}

// Append adds chunk to the log and persists the result. A persist error is
// returned after the content has been appended.
func (a *Accumulator) Append(ctx context.Context, chunk string) error {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.content.Len() > 0 {
		a.content.WriteString("\n\n")
	}
	a.content.WriteString(chunk)
	a.seq++

	if a.persist == nil {
		return nil
	}
	return a.persist(ctx, a.content.String(), a.seq)
}

// Content returns the accumulated log.
func (a *Accumulator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.String()
}

// Seq returns the last sequence number handed out.
func (a *Accumulator) Seq() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}
