// Package errors provides custom error types for the echosight system.
// These errors enable programmatic classification of failures — in particular
// retry eligibility for inference calls — and improved debugging throughout
// the application.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// As is an alias for the standard library errors.As.
var As = errors.As

// Is is an alias for the standard library errors.Is.
var Is = errors.Is

// Common sentinel errors for the echosight system
var (
	// ErrNotConnected indicates the inference server is not reachable
	ErrNotConnected = errors.New("inference server not connected")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrOverloaded indicates the inference server is temporarily overloaded
	ErrOverloaded = errors.New("inference server overloaded")

	// ErrInvalidResponse indicates the server returned a malformed payload
	ErrInvalidResponse = errors.New("invalid response")

	// ErrUnauthorized indicates the request was rejected for auth reasons
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates a requested resource or endpoint was not found
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed indicates an analysis precondition was not met
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrCaptureUnavailable indicates no camera frame could be obtained
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrShutdown indicates the component has already been shut down
	ErrShutdown = errors.New("shut down")
)

// Class identifies an error classification used for retry decisions.
type Class string

// Error classes assigned by the inference client when a request fails.
const (
	ClassTimeout         Class = "timeout"
	ClassUnauthorized    Class = "unauthorized"
	ClassNotFound        Class = "not_found"
	ClassOverloaded      Class = "overloaded"
	ClassInvalidResponse Class = "invalid_response"
	ClassUnknown         Class = "unknown"
)

// APIError represents an error from the inference server API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Endpoint, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		return target == ErrNotFound
	}
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return target == ErrOverloaded
	}
	return false
}

// Classify returns the error class for this API error.
func (e *APIError) Classify() Class {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ClassUnauthorized
	case e.StatusCode == 404:
		return ClassNotFound
	case e.StatusCode == 429 || e.StatusCode >= 500:
		return ClassOverloaded
	default:
		return ClassUnknown
	}
}

// NewAPIError creates a new APIError
func NewAPIError(endpoint string, statusCode int, message string) *APIError {
	return &APIError{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    message,
	}
}

// TimeoutError represents an inference request that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Err       error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("operation %s timed out after %s", e.Operation, e.Timeout)
	}
	return fmt.Sprintf("operation %s timed out", e.Operation)
}

// Unwrap implements errors.Unwrap
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string, timeout time.Duration, err error) *TimeoutError {
	return &TimeoutError{Operation: operation, Timeout: timeout, Err: err}
}

// PreconditionError reports which analysis precondition failed and carries a
// user-facing reason suitable for narration.
type PreconditionError struct {
	Precondition string // "camera", "connection", "frame"
	Reason       string
}

// Error implements the error interface
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %s failed: %s", e.Precondition, e.Reason)
}

// Is implements errors.Is support
func (e *PreconditionError) Is(target error) bool {
	if e.Precondition == "frame" {
		return target == ErrPreconditionFailed || target == ErrCaptureUnavailable
	}
	return target == ErrPreconditionFailed
}

// NewPreconditionError creates a new PreconditionError
func NewPreconditionError(precondition, reason string) *PreconditionError {
	return &PreconditionError{Precondition: precondition, Reason: reason}
}

// InvalidResponseError represents a malformed payload from the inference server.
// It is never retried: a malformed success response indicates a server-side
// contract violation, not transient failure.
type InvalidResponseError struct {
	Endpoint string
	Message  string
	Err      error
}

// Error implements the error interface
func (e *InvalidResponseError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("invalid response from %s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("invalid response: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *InvalidResponseError) Is(target error) bool {
	return target == ErrInvalidResponse
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Helper functions for error checking

// IsNotConnected checks if an error indicates a disconnected inference server
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsOverloaded checks if an error indicates server overload
func IsOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

// IsInvalidResponse checks if an error is a malformed-payload error
func IsInvalidResponse(err error) bool {
	return errors.Is(err, ErrInvalidResponse)
}

// IsPreconditionFailed checks if an error is a precondition failure
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsCaptureUnavailable checks if an error indicates no frame was obtainable
func IsCaptureUnavailable(err error) bool {
	return errors.Is(err, ErrCaptureUnavailable)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Classify maps an arbitrary error to its error class. Timeouts are checked
// before API status codes so a deadline that races a late response still
// reports as a timeout.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, ErrTimeout) {
		return ClassTimeout
	}
	if errors.Is(err, ErrInvalidResponse) {
		return ClassInvalidResponse
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Classify()
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrOverloaded):
		return ClassOverloaded
	default:
		return ClassUnknown
	}
}

// Wrapf wraps an error with a formatted message while preserving the chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
