package errors

import (
	stderrors "errors"
	"fmt"
)

// ShelfError is the structured error type for shelf.
// It carries enough context for logging, CLI output and structured
// tool responses.
type ShelfError struct {
	// Code is the unique error code (e.g., "ERR_401_TOPIC_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *ShelfError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ShelfError) Unwrap() error {
	return e.Cause
}

// Is matches another ShelfError by code, so errors.Is(err, &ShelfError{Code: X})
// works without comparing messages.
func (e *ShelfError) Is(target error) bool {
	if t, ok := target.(*ShelfError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *ShelfError) WithDetail(key, value string) *ShelfError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *ShelfError) WithSuggestion(suggestion string) *ShelfError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ShelfError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ShelfError {
	return &ShelfError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *ShelfError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a ShelfError from an existing error.
func Wrap(code string, err error) *ShelfError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *ShelfError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *ShelfError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *ShelfError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ShelfError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first ShelfError in err's chain.
func As(err error) (*ShelfError, bool) {
	var se *ShelfError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether any ShelfError in the chain is retryable.
func IsRetryable(err error) bool {
	se, ok := As(err)
	return ok && se.Retryable
}

// IsFatal reports whether the error has fatal severity.
func IsFatal(err error) bool {
	se, ok := As(err)
	return ok && se.Severity == SeverityFatal
}

// HasCode reports whether err's chain holds a ShelfError with the code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &ShelfError{Code: code})
}

// GetCode extracts the error code from the chain.
// Returns empty string if there is no ShelfError.
func GetCode(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from the chain.
func GetCategory(err error) Category {
	if se, ok := As(err); ok {
		return se.Category
	}
	return ""
}
