package source

import (
	"errors"
	"fmt"

	dErrors "concytec/pkg/domain-errors"
)

// ErrorCategory is the normalized failure taxonomy of external sources.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "provider_outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// ProviderError wraps a provider failure with its category.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorOutage || category == ErrorRateLimited,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf extracts the category of err, ErrorInternal when it carries none.
func CategoryOf(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

var ErrNoProvider = errors.New("no source provider handles this uri")

// toDomainError maps a provider failure onto the domain error taxonomy.
func toDomainError(err error) error {
	if errors.Is(err, ErrNoProvider) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "unsupported source uri")
	}
	switch CategoryOf(err) {
	case ErrorNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "source record not found")
	case ErrorBadData:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "source returned malformed data")
	case ErrorTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "source timed out")
	case ErrorOutage, ErrorRateLimited, ErrorAuthentication:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "source unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "source import failed")
	}
}
