package errors

import (
	stderrors "errors"
	"fmt"
)

// CASError is the structured error type for CASearch.
// It carries context for handling, logging and user presentation.
type CASError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CASError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CASError) Unwrap() error {
	return e.Cause
}

// Is matches another CASError by code, so errors.Is(err, New(code, "", nil))
// works across wrapping.
func (e *CASError) Is(target error) bool {
	if t, ok := target.(*CASError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *CASError) WithDetail(key, value string) *CASError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CASError) WithSuggestion(suggestion string) *CASError {
	e.Suggestion = suggestion
	return e
}

// New creates a CASError. Category, severity and retryability derive from
// the code.
func New(code string, message string, cause error) *CASError {
	return &CASError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CASError from an existing error, reusing its message.
// Returns nil for a nil error.
func Wrap(code string, err error) *CASError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CASError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *CASError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *CASError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CASError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CASError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the outermost CASError in err's chain.
func as(err error) (*CASError, bool) {
	var ce *CASError
	if err == nil || !stderrors.As(err, &ce) {
		return nil, false
	}
	return ce, true
}

// IsRetryable reports whether err carries a retryable CASError.
func IsRetryable(err error) bool {
	ce, ok := as(err)
	return ok && ce.Retryable
}

// IsFatal reports whether err carries a fatal CASError.
func IsFatal(err error) bool {
	ce, ok := as(err)
	return ok && ce.Severity == SeverityFatal
}

// GetCode extracts the error code, or "" if err carries no CASError.
func GetCode(err error) string {
	if ce, ok := as(err); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err carries no CASError.
func GetCategory(err error) Category {
	if ce, ok := as(err); ok {
		return ce.Category
	}
	return ""
}
