package task

import (
	"context"
	"errors"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/store"
)

// Common errors
var (
	// ErrClaimLost means another worker owns the job. It is never a failure
	// of the job itself.
	ErrClaimLost = store.ErrClaimLost

	ErrNilJobStore  = errors.New("job store cannot be nil")
	ErrNilGenerator = errors.New("report generator cannot be nil")
)

// ReportGenerator executes one claimed generate_report job. A returned error
// is job-fatal; the job is marked failed with its redacted message.
type ReportGenerator interface {
	Generate(ctx context.Context, job *domain.Job) (*domain.JobOutput, error)
}

// GeneratorFunc adapts a function to ReportGenerator.
type GeneratorFunc func(ctx context.Context, job *domain.Job) (*domain.JobOutput, error)

// Generate implements ReportGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, job *domain.Job) (*domain.JobOutput, error) {
	return f(ctx, job)
}
