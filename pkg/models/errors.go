package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies service errors so the HTTP layer can map them to
// status codes without inspecting error strings.
type ErrorCode string

const (
	ErrorCodeValidation  ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrorCodeForbidden   ErrorCode = "FORBIDDEN"
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrorCodeTimeout     ErrorCode = "TIMEOUT"
	ErrorCodeStore       ErrorCode = "STORE_ERROR"
	ErrorCodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is a typed error carrying a classification code and a
// client-safe detail message.
type ServiceError struct {
	Code   ErrorCode
	Detail string
	Err    error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Unwrap returns the wrapped error
func (e *ServiceError) Unwrap() error { return e.Err }

// NewValidationError creates a validation error with the given detail
func NewValidationError(detail string) *ServiceError {
	return &ServiceError{Code: ErrorCodeValidation, Detail: detail}
}

// NewValidationErrorf creates a validation error with a formatted detail
func NewValidationErrorf(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: ErrorCodeValidation, Detail: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error for the given resource
func NewNotFoundError(resource string) *ServiceError {
	return &ServiceError{Code: ErrorCodeNotFound, Detail: resource + " not found"}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(detail string) *ServiceError {
	return &ServiceError{Code: ErrorCodeForbidden, Detail: detail}
}

// NewStoreError wraps a driver error that survived the retry budget
func NewStoreError(err error) *ServiceError {
	return &ServiceError{Code: ErrorCodeStore, Detail: "storage unavailable", Err: err}
}

// CodeOf extracts the ErrorCode from err, returning ErrorCodeInternal for
// untyped errors.
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorCodeInternal
}

// DetailOf extracts a client-safe detail message from err. Untyped errors
// yield a generic detail so internals never leak to clients.
func DetailOf(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Detail
	}
	return "internal server error"
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrorCodeNotFound
}

// IsValidation reports whether err carries the validation code.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrorCodeValidation
}
