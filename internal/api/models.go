package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
)

// JobAcceptedResponse is returned by POST /api/jobs.
type JobAcceptedResponse struct {
	JobID    uuid.UUID        `json:"job_id"`
	ReportID uuid.UUID        `json:"report_id"`
	Status   domain.JobStatus `json:"status"`
}

// JobResponse is the public view of a job row.
type JobResponse struct {
	ID           uuid.UUID        `json:"id"`
	Type         domain.JobType   `json:"job_type"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Output       json.RawMessage  `json:"output,omitempty"`
	ClaimedBy    string           `json:"claimed_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ReportResponse is the public view of a report. InProgress is true while a
// job is still writing to it; the sentinel itself is never returned.
type ReportResponse struct {
	ID               uuid.UUID          `json:"id"`
	ProjectID        string             `json:"project_id"`
	GeneratedContent string             `json:"generated_content"`
	InProgress       bool               `json:"in_progress"`
	Sections         domain.SectionTree `json:"sections"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func jobToResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		Output:       j.Output,
		ClaimedBy:    j.ClaimedBy,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func reportToResponse(r *domain.Report) ReportResponse {
	return ReportResponse{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		GeneratedContent: domain.StripSentinel(r.GeneratedContent),
		InProgress:       domain.InProgress(r.GeneratedContent),
		Sections:         r.Sections,
		UpdatedAt:        r.UpdatedAt,
	}
}
