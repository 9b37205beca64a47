package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a queued job.
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobType identifies the kind of work a job carries.
type JobType string

// JobTypeGenerateReport is the only job type handled by the worker.
const JobTypeGenerateReport JobType = "generate_report"

// Job is a unit of work in the shared job table. Jobs are created by the API
// or CLI, claimed by exactly one worker and terminated by that worker.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Type         JobType         `json:"job_type"`
	Input        json.RawMessage `json:"input_data"`
	Status       JobStatus       `json:"status"`
	Output       json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ClaimedBy    string          `json:"claimed_by,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a queued job of the given type with input marshalled to JSON.
func NewJob(jobType JobType, input any) (*Job, error) {
	if jobType != JobTypeGenerateReport {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal job input: %v", ErrInvalidFormat, err)
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Type:      jobType,
		Input:     raw,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the invariants every stored job must satisfy.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job id is empty", ErrInvalidID)
	}
	if j.Type != JobTypeGenerateReport {
		return fmt.Errorf("%w: %q", ErrInvalidJobType, j.Type)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}
	if len(j.Input) == 0 || !json.Valid(j.Input) {
		return fmt.Errorf("%w: job input is not valid JSON", ErrInvalidFormat)
	}
	return nil
}

// DecodeInput unmarshals the job's input payload into a ReportInput.
func (j *Job) DecodeInput() (*ReportInput, error) {
	var in ReportInput
	if err := json.Unmarshal(j.Input, &in); err != nil {
		return nil, fmt.Errorf("%w: decode job input: %v", ErrInvalidFormat, err)
	}
	return &in, nil
}

// JobOutput is the structured result stored on a completed job.
type JobOutput struct {
	ReportID      uuid.UUID `json:"reportId"`
	BatchCount    int       `json:"batchCount"`
	FailedBatches int       `json:"failedBatches"`
	SectionCount  int       `json:"sectionCount"`
	Usage         Usage     `json:"usage"`
}

// Usage holds token counts reported by a generative backend.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}
