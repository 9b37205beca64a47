package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/reportgen/internal/domain"
)

// Common errors returned by the generation package
var (
	// ErrQuotaExceeded is returned when the provider rejects a call for rate
	// or quota reasons.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrTimeout is returned when a call does not finish before its deadline.
	ErrTimeout = errors.New("provider call timed out")

	// ErrInvalidCredentials is returned when the provider rejects the API key.
	ErrInvalidCredentials = errors.New("invalid provider credentials")

	// ErrProviderFailure is returned for every other provider error.
	ErrProviderFailure = errors.New("provider call failed")

	// ErrInvalidResponse is returned when the provider response cannot be read.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider blocks the content due to safety filters.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when the generator configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrUnsupportedModel is returned when a model identifier does not map
	// onto a registered provider.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// Kind classifies provider errors for callers deciding whether to retry and
// how to report a failed batch.
type Kind int

// Error kinds
const (
	KindOther Kind = iota
	KindQuotaExceeded
	KindTimeout
	KindInvalidCredentials
)

// String returns the marker name of the kind.
func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota-exceeded"
	case KindTimeout:
		return "timeout"
	case KindInvalidCredentials:
		return "invalid-credentials"
	default:
		return "other"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindTimeout:
		return ErrTimeout
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	default:
		return ErrProviderFailure
	}
}

// Error is a classified provider error. errors.Is matches both the kind's
// sentinel and the wrapped cause.
type Error struct {
	Provider   domain.Provider
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind.sentinel(), e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind.sentinel(), msg)
}

// Unwrap exposes the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// Retryable reports whether the call may succeed if repeated: only
// unclassified failures without a client-error status qualify.
func (e *Error) Retryable() bool {
	if e.Kind != KindOther {
		return false
	}
	if errors.Is(e.Err, ErrContentBlocked) || errors.Is(e.Err, ErrInvalidResponse) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredentials
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindOther
	}
}

// NewStatusError builds a classified error from an HTTP-style failure.
func NewStatusError(provider domain.Provider, status int, message string, cause error) *Error {
	return &Error{
		Provider:   provider,
		Kind:       KindForStatus(status),
		StatusCode: status,
		Message:    message,
		Err:        cause,
	}
}

// Classify wraps err in an *Error, keeping an existing classification and
// mapping context deadlines onto KindTimeout.
func Classify(provider domain.Provider, err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	kind := KindOther
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindOther
}
