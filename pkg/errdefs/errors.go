// Package errdefs defines the classified error type shared by all packline
// components. Errors carry a class that drives retry behavior (transient,
// throttled, and conflict errors may be retried; permanent errors may not)
// and a code that maps to the user-facing failure taxonomy.
package errdefs

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for retry and recovery logic.
type Class string

const (
	// ClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary feed unavailability.
	ClassTransient Class = "transient"

	// ClassThrottled indicates rate limiting by a remote endpoint.
	// Should be retried with a longer backoff than plain transient failures.
	ClassThrottled Class = "throttled"

	// ClassConflict indicates a package identity conflict: the same
	// (name, version) already exists with different content. Never retried
	// and never overwritten.
	ClassConflict Class = "conflict"

	// ClassPermanent indicates a non-recoverable error.
	// Examples: malformed descriptors, rejected credentials, unknown feeds.
	ClassPermanent Class = "permanent"
)

// Error is a classified error with context about the package or operation
// that produced it.
type Error struct {
	// Class is the error classification for retry logic.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource identifies the project, feed, or package identity involved.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information, such as the
	// exit code and captured output of a failed pack invocation.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
// Two classified errors match when their class and code agree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransient creates a new transient error.
func NewTransient(message string, err error) *Error {
	return &Error{Class: ClassTransient, Message: message, Err: err}
}

// NewThrottled creates a new throttled error.
func NewThrottled(message string, err error) *Error {
	return &Error{Class: ClassThrottled, Message: message, Err: err}
}

// NewConflict creates a new conflict error.
func NewConflict(message string, err error) *Error {
	return &Error{Class: ClassConflict, Message: message, Err: err}
}

// NewPermanent creates a new permanent error.
func NewPermanent(message string, err error) *Error {
	return &Error{Class: ClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and throttled errors are retryable; conflicts are terminal per
// identity because the system never overwrites a published package.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// CodeOf returns the code of a classified error, or "" for other errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassOf returns the class of a classified error, or ClassPermanent for
// unclassified errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassPermanent
}

// Error codes for the failure taxonomy.
const (
	CodeMalformedDescriptor     = "MALFORMED_DESCRIPTOR"
	CodeUnknownFeed             = "UNKNOWN_FEED"
	CodeUnsatisfiableDependency = "UNSATISFIABLE_DEPENDENCY"
	CodeAmbiguousDependency     = "AMBIGUOUS_DEPENDENCY"
	CodeFeedUnavailable         = "FEED_UNAVAILABLE"
	CodeBuildFailed             = "BUILD_FAILED"
	CodeAuthenticationFailed    = "AUTHENTICATION_FAILED"
	CodeVersionConflict         = "VERSION_CONFLICT"
	CodeCyclicDependency        = "CYCLIC_DEPENDENCY"
	CodeDependencyFailed        = "DEPENDENCY_FAILED"
	CodeNotFound                = "NOT_FOUND"
	CodeValidation              = "VALIDATION_ERROR"
	CodeTimeout                 = "TIMEOUT"
	CodeRateLimited             = "RATE_LIMITED"
	CodeInternal                = "INTERNAL_ERROR"
)
