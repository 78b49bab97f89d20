package errors

import (
	"errors"
	"fmt"
)

// EngineError is the structured error type for the indexing engine.
// It provides rich context for error handling, logging, and operator
// presentation.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_103_NO_EMBEDDING_MODEL").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Content, Transient, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the whole operation can safely be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *EngineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// TransientError creates a retryable network/IO error.
func TransientError(message string, cause error) *EngineError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ContentError creates a per-entity content error. The worker treats these
// as non-fatal skips.
func ContentError(message string, cause error) *EngineError {
	return New(ErrCodeContentDecode, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *EngineError {
	return New(ErrCodeInvalidInput, message, cause)
}

// asEngineError finds the nearest EngineError in err's chain, so
// classification survives fmt.Errorf("%w") wrapping.
func asEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ee, ok := asEngineError(err); ok {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ee, ok := asEngineError(err); ok {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError anywhere in the
// chain. Returns empty string if none is found.
func GetCode(err error) string {
	if ee, ok := asEngineError(err); ok {
		return ee.Code
	}
	return ""
}

// GetCategory extracts the category from an EngineError anywhere in the
// chain.
func GetCategory(err error) Category {
	if ee, ok := asEngineError(err); ok {
		return ee.Category
	}
	return ""
}
