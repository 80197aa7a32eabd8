package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// DocError is the structured error type for docindex.
// It provides rich context for error handling, logging, and user presentation.
type DocError struct {
	// Code is the unique error code (e.g., "ERR_207_COLLECTION_NOT_FOUND").
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
func (e *DocError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *DocError) Is(target error) bool {
	if t, ok := target.(*DocError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *DocError) WithDetail(key, value string) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocError) WithSuggestion(suggestion string) *DocError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DocError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocError {
	return &DocError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocError from an existing error.
// The error's message becomes the DocError message.
func Wrap(code string, err error) *DocError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DocError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocError {
	return New(ErrCodeInternal, message, cause)
}

// ConnectionError reports an unreachable or unopenable storage backend.
func ConnectionError(backend string, cause error) *DocError {
	return New(ErrCodeConnectionFailed, fmt.Sprintf("cannot connect to %s backend", backend), cause).
		WithDetail("backend", backend)
}

// CollectionNotFound reports a missing collection and lists the ones that exist.
func CollectionNotFound(name string, available []string) *DocError {
	err := New(ErrCodeCollectionNotFound, fmt.Sprintf("collection %q not found", name), nil).
		WithDetail("collection", name)
	if len(available) == 0 {
		return err.WithSuggestion("No collections exist yet.")
	}
	err.WithDetail("available", strings.Join(available, ","))
	return err.WithSuggestion(fmt.Sprintf("Available collections: %s. Retry with one of these names.",
		strings.Join(available, ", ")))
}

// ElementNotFound reports a missing element id within a collection.
func ElementNotFound(collection, id string) *DocError {
	return New(ErrCodeElementNotFound, fmt.Sprintf("element %q not found in %s", id, collection), nil).
		WithDetail("collection", collection).
		WithDetail("id", id)
}

// CollectionExists reports a creation conflict.
func CollectionExists(name string) *DocError {
	return New(ErrCodeCollectionExists, fmt.Sprintf("collection %q already exists", name), nil).
		WithDetail("collection", name).
		WithSuggestion("Pass exist-ok to treat an existing collection as success.")
}

// UnsupportedFormat reports a file extension the renderer cannot handle.
func UnsupportedFormat(ext string) *DocError {
	return New(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported format: %s", ext), nil).
		WithDetail("extension", ext)
}

// As returns the first DocError in err's chain.
func As(err error) (*DocError, bool) {
	var de *DocError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether any DocError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		de, ok := As(err)
		if !ok {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Cause
	}
	return false
}

// IsNotFound reports a missing collection or element.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeCollectionNotFound) || HasCode(err, ErrCodeElementNotFound)
}

// IsAlreadyExists reports a collection creation conflict.
func IsAlreadyExists(err error) bool {
	return HasCode(err, ErrCodeCollectionExists)
}

// IsConnection reports a backend connection failure.
func IsConnection(err error) bool {
	return HasCode(err, ErrCodeConnectionFailed)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if de, ok := As(err); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if de, ok := As(err); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DocError.
// Returns empty string if not a DocError.
func GetCode(err error) string {
	if de, ok := As(err); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocError.
func GetCategory(err error) Category {
	if de, ok := As(err); ok {
		return de.Category
	}
	return ""
}
