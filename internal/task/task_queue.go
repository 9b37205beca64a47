package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Common errors returned by the WakeQueue
var (
	ErrQueueClosed = errors.New("wake queue is closed")
	ErrQueueFull   = errors.New("wake queue is full")
)

// WakeQueue buffers job ids announced by wake-up notifications until a
// worker picks them up. Dropping an id is harmless: the job stays queued and
// is found by the next poll.
type WakeQueue struct {
	mu     sync.Mutex
	ids    chan uuid.UUID
	closed bool
	logger *slog.Logger
}

// NewWakeQueue creates a queue with the specified buffer size.
func NewWakeQueue(size int, logger *slog.Logger) *WakeQueue {
	if size < 1 {
		size = 1
	}
	return &WakeQueue{ids: make(chan uuid.UUID, size), logger: logger}
}

// Enqueue adds a job id without blocking.
func (q *WakeQueue) Enqueue(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ids <- id:
		q.logger.Debug("wake-up queued",
			slog.String("job_id", id.String()),
			slog.Int("queue_len", len(q.ids)))
		return nil
	default:
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Close prevents further enqueues. Pending ids can still be received.
func (q *WakeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ids)
	}
}

// C returns the receive side of the queue.
func (q *WakeQueue) C() <-chan uuid.UUID {
	return q.ids
}
