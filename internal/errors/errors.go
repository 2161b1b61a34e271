package errors

import (
	"fmt"
)

// DriftError is the structured error type for driftsync.
// It provides context for error handling, logging, and user presentation.
type DriftError struct {
	// Code is the unique error code (e.g., "ERR_201_SCAN_PERMISSION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Scan, Apply, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Path is the root-relative path the error is attributed to, if any.
	// Path-scoped errors never abort a run; they are recorded against
	// this path and surfaced in the review/apply error list.
	Path string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DriftError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DriftError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DriftError.
func (e *DriftError) Is(target error) bool {
	if t, ok := target.(*DriftError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithPath attributes the error to a root-relative path.
// Returns the error for method chaining.
func (e *DriftError) WithPath(path string) *DriftError {
	e.Path = path
	return e
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DriftError) WithDetail(key, value string) *DriftError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DriftError) WithSuggestion(suggestion string) *DriftError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DriftError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *DriftError {
	return &DriftError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a DriftError from an existing error.
// The error's message becomes the DriftError message.
func Wrap(code string, err error) *DriftError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ScanError creates a path-scoped tree traversal error.
func ScanError(path string, cause error) *DriftError {
	return New(ErrCodeScanIO, cause.Error(), cause).WithPath(path)
}

// CompareError creates a path-scoped hash/comparison error.
func CompareError(path string, cause error) *DriftError {
	return New(ErrCodeHashFailed, cause.Error(), cause).WithPath(path)
}

// StateError creates a fatal state store error.
func StateError(message string, cause error) *DriftError {
	return New(ErrCodeStateIO, message, cause)
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current run; the prior valid snapshot is preserved.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DriftError); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DriftError.
// Returns empty string if not a DriftError.
func GetCode(err error) string {
	if de, ok := err.(*DriftError); ok {
		return de.Code
	}
	return ""
}

// GetPath extracts the attributed path from a DriftError.
func GetPath(err error) string {
	if de, ok := err.(*DriftError); ok {
		return de.Path
	}
	return ""
}
