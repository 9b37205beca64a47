package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidJobStatus is returned when a job status is not one of the
	// known lifecycle states.
	ErrInvalidJobStatus = errors.New("invalid job status")

	// ErrInvalidJobType is returned for job types this worker does not handle.
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrSectionNotFound is returned by tree edits addressing an unknown id.
	ErrSectionNotFound = errors.New("section not found")

	// ErrDuplicateSectionID is returned when an edit would put the same id
	// in the tree twice.
	ErrDuplicateSectionID = errors.New("duplicate section id")

	// ErrInvalidMove is returned when a section would be moved under itself
	// or one of its descendants.
	ErrInvalidMove = errors.New("invalid section move")
)
