package task

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/events"
)

// WakeupHandler implements events.EventHandler: job_enqueued events become
// wake-ups of the runner.
type WakeupHandler struct {
	runner interface{ Notify(jobID uuid.UUID) }
	logger *slog.Logger
}

// NewWakeupHandler creates a handler that wakes runner.
func NewWakeupHandler(runner interface{ Notify(jobID uuid.UUID) }, logger *slog.Logger) *WakeupHandler {
	return &WakeupHandler{
		runner: runner,
		logger: logger.With(slog.String("component", "wakeup_handler")),
	}
}

// HandleEvent ignores everything but job_enqueued.
func (h *WakeupHandler) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	if event.Type != events.JobEnqueued {
		h.logger.DebugContext(ctx, "ignoring event", slog.String("event_type", event.Type))
		return nil
	}
	h.runner.Notify(event.JobID)
	return nil
}

var _ events.EventHandler = (*WakeupHandler)(nil)
