package report

import "errors"

// Job-fatal orchestration errors. Provider and store errors are wrapped
// beneath them where applicable.
var (
	// ErrInvalidInput is returned when the job's input_data does not decode
	// or fails validation.
	ErrInvalidInput = errors.New("invalid job input")

	// ErrAllBatchesFailed is returned when no batch produced content. No
	// summary call is made in that case.
	ErrAllBatchesFailed = errors.New("all batches failed")

	// ErrSummaryTimeout is returned when the summarization pass exceeds its
	// deadline.
	ErrSummaryTimeout = errors.New("summary generation timed out")

	// ErrSummaryFailed is returned for any other summarization failure.
	ErrSummaryFailed = errors.New("summary generation failed")

	// ErrCancelled is returned when the run is interrupted before every
	// batch finished. It wraps the context error.
	ErrCancelled = errors.New("report generation cancelled")
)
