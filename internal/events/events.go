package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job lifecycle event types.
const (
	// JobEnqueued is emitted when a job is inserted; workers treat it as a
	// wake-up hint.
	JobEnqueued = "job_enqueued"
	// JobCompleted is emitted after a job is marked completed.
	JobCompleted = "job_completed"
	// JobFailed is emitted after a job is marked failed.
	JobFailed = "job_failed"
)

// ErrInvalidEvent is returned for events that cannot be built or decoded.
var ErrInvalidEvent = errors.New("invalid event")

// JobEvent announces a change in a job's lifecycle. Its JSON form is the
// wake-up notification exchanged over the message broker.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the job lifecycle event types
	Type string `json:"type"`

	// JobID identifies the job the event is about
	JobID uuid.UUID `json:"job_id"`

	// Message carries the redacted failure message of JobFailed events
	Message string `json:"message,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates a JobEvent of the given type.
func NewJobEvent(eventType string, jobID uuid.UUID) (*JobEvent, error) {
	if !knownType(eventType) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, eventType)
	}
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: job id is empty", ErrInvalidEvent)
	}
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode parses a JobEvent from its JSON form. Only type and job_id are
// required, so minimal notifications from other producers are accepted.
func Decode(data []byte) (*JobEvent, error) {
	var e JobEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !knownType(e.Type) || e.JobID == uuid.Nil {
		return nil, fmt.Errorf("%w: type %q job %q", ErrInvalidEvent, e.Type, e.JobID)
	}
	return &e, nil
}

func knownType(t string) bool {
	switch t {
	case JobEnqueued, JobCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}
