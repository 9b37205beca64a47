package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerationSentinel is appended to a report's generated content while a job
// is writing to it, and removed on every terminal path.
const GenerationSentinel = "<!-- report-generation-in-progress -->"

// Report is the persisted output document of a generate_report job.
type Report struct {
	ID               uuid.UUID   `json:"id"`
	ProjectID        string      `json:"project_id"`
	GeneratedContent string      `json:"generated_content"`
	Sections         SectionTree `json:"sections_json"`
	ProgressSeq      int64       `json:"progress_seq"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewReport creates an empty report for a project.
func NewReport(id uuid.UUID, projectID string) *Report {
	now := time.Now().UTC()
	return &Report{
		ID:        id,
		ProjectID: projectID,
		Sections:  SectionTree{Sections: []Section{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithSentinel returns content followed by the in-progress sentinel.
func WithSentinel(content string) string {
	if content == "" {
		return GenerationSentinel
	}
	return strings.TrimRight(content, "\n") + "\n\n" + GenerationSentinel
}

// StripSentinel removes the in-progress sentinel and the whitespace that
// preceded it.
func StripSentinel(content string) string {
	if !strings.Contains(content, GenerationSentinel) {
		return content
	}
	return strings.TrimRight(strings.ReplaceAll(content, GenerationSentinel, ""), " \n")
}

// InProgress reports whether content still carries the sentinel.
func InProgress(content string) bool {
	return strings.Contains(content, GenerationSentinel)
}
