package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type subscription struct {
	handler EventHandler
	types   map[string]bool
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Dispatcher is an in-process EventEmitter that fans events out to the
// handlers subscribed to their type.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger.With(slog.String("component", "event_dispatcher"))}
}

// Subscribe registers handler for the given event types, or for every type
// when none are given.
func (d *Dispatcher) Subscribe(handler EventHandler, types ...string) {
	s := subscription{handler: handler}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// EmitEvent delivers event to every matching handler in subscription order.
// All handlers run even when one fails; their errors are joined.
func (d *Dispatcher) EmitEvent(ctx context.Context, event *JobEvent) error {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	var errs []error
	delivered := 0
	for _, s := range subs {
		if !s.wants(event.Type) {
			continue
		}
		delivered++
		if err := s.handler.HandleEvent(ctx, event); err != nil {
			d.logger.WarnContext(ctx, "event handler failed",
				slog.String("event_type", event.Type),
				slog.String("job_id", event.JobID.String()),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if delivered == 0 {
		d.logger.DebugContext(ctx, "no handlers for event", slog.String("event_type", event.Type))
	}
	return errors.Join(errs...)
}

var _ EventEmitter = (*Dispatcher)(nil)
