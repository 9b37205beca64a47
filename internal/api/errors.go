package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/reportgen/internal/api/shared"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/manifest"
	"github.com/phrazzld/reportgen/internal/store"
	"github.com/phrazzld/reportgen/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing the error types themselves.
func MapErrorToStatusCode(err error) int {
	switch {
	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, task.ErrInvalidSubmission),
		errors.Is(err, generation.ErrUnsupportedModel),
		errors.Is(err, manifest.ErrInvalidManifest),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrReportNotFound):
		return "Report not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Entity already exists"
	case errors.Is(err, generation.ErrUnsupportedModel):
		return "Unsupported model"
	case errors.Is(err, manifest.ErrInvalidManifest):
		return "Invalid image manifest"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is empty"
	case errors.Is(err, domain.ErrValidation):
		return "Invalid request body"
	case errors.Is(err, task.ErrInvalidSubmission):
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return SanitizeValidationError(verrs)
		}
		return "Invalid report request"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a message naming only
// the offending field and rule.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "ReportInput.")
	return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fe.Tag()))
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "gte":
		return "must not be negative"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err. For 5xx
// responses defaultMsg replaces the generic message when given.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}
