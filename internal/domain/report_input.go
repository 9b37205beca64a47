package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ImageTag classifies what an input image shows.
type ImageTag string

// Image tags
const (
	ImageTagOverview   ImageTag = "overview"
	ImageTagDeficiency ImageTag = "deficiency"
)

// Image is an immutable, tagged input photo with its description.
type Image struct {
	ID          string   `json:"id"          validate:"required"`
	URL         string   `json:"url"         validate:"required"`
	Description string   `json:"description"`
	Tag         ImageTag `json:"tag"         validate:"required,oneof=overview deficiency"`
	Group       []string `json:"group,omitempty"`
	Number      int      `json:"number"      validate:"gte=0"`
}

// GroupLabel returns the first group label of the image, or "" when the
// image is not grouped.
func (i Image) GroupLabel() string {
	if len(i.Group) == 0 {
		return ""
	}
	return strings.TrimSpace(i.Group[0])
}

// ReportStyle selects the prompt family used for a report.
type ReportStyle string

// Report styles
const (
	ReportStyleBrief     ReportStyle = "brief"
	ReportStyleElaborate ReportStyle = "elaborate"
)

// ExecutionStrategy selects how batches are scheduled.
type ExecutionStrategy string

// Execution strategies
const (
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategySequential ExecutionStrategy = "sequential"
)

// Grouping selects whether leaf sections are nested under group parents.
type Grouping string

// Grouping modes
const (
	Ungrouped Grouping = "ungrouped"
	Grouped   Grouping = "grouped"
)

// ReasoningEffort is the provider-neutral thinking budget hint.
type ReasoningEffort string

// Reasoning effort levels
const (
	ReasoningNone   ReasoningEffort = ""
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// Provider identifies a generative backend family.
type Provider string

// Supported providers
const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// ReportInput is the input_data payload of a generate_report job.
type ReportInput struct {
	ReportID          uuid.UUID         `json:"reportId"                    validate:"required"`
	ProjectID         string            `json:"projectId"                   validate:"required"`
	Images            []Image           `json:"images"                      validate:"required,min=1,dive"`
	BulletPoints      []string          `json:"bulletPoints,omitempty"`
	Model             string            `json:"model"                       validate:"required"`
	ReportStyle       ReportStyle       `json:"reportStyle"                 validate:"required,oneof=brief elaborate"`
	ExecutionStrategy ExecutionStrategy `json:"executionStrategy,omitempty" validate:"omitempty,oneof=parallel sequential"`
	GroupOrder        []string          `json:"groupOrder,omitempty"`
	ReasoningEffort   ReasoningEffort   `json:"reasoningEffort,omitempty"   validate:"omitempty,oneof=low medium high"`
	BatchSize         int               `json:"batchSize,omitempty"         validate:"omitempty,min=1,max=50"`
	Concurrency       int               `json:"concurrency,omitempty"       validate:"omitempty,min=1,max=16"`
}

// HasGroups reports whether the input asks for grouped output: either an
// explicit group order is given or at least one image carries a label.
func (in *ReportInput) HasGroups() bool {
	if len(in.GroupOrder) > 0 {
		return true
	}
	for _, img := range in.Images {
		if img.GroupLabel() != "" {
			return true
		}
	}
	return false
}

// ExecutionConfig is the resolved, immutable configuration of one job run.
type ExecutionConfig struct {
	Style           ReportStyle
	Provider        Provider
	Model           string
	Strategy        ExecutionStrategy
	Grouping        Grouping
	BatchSize       int
	Concurrency     int
	ReasoningEffort ReasoningEffort
	GroupOrder      []string
}
