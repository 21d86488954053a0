package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Code is the
// machine-readable kind; Details carries structured context for the caller.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Codes shared with clients.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyEnrolled     = "ALREADY_ENROLLED"
	CodeCreditLimitExceeded = "CREDIT_LIMIT_EXCEEDED"
	CodeCourseFull          = "COURSE_FULL"
	CodeScheduleConflict    = "SCHEDULE_CONFLICT"
	CodeNoActiveEnrollments = "NO_ACTIVE_ENROLLMENTS"
	CodeValidation          = "VALIDATION_ERROR"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// Predefined errors for common scenarios.
var (
	ErrNotFound            = New(CodeNotFound, http.StatusNotFound, "resource not found")
	ErrAlreadyEnrolled     = New(CodeAlreadyEnrolled, http.StatusConflict, "student already enrolled in course")
	ErrCreditLimitExceeded = New(CodeCreditLimitExceeded, http.StatusUnprocessableEntity, "credit limit exceeded")
	ErrCourseFull          = New(CodeCourseFull, http.StatusConflict, "course is full")
	ErrScheduleConflict    = New(CodeScheduleConflict, http.StatusConflict, "schedule conflict")
	ErrNoActiveEnrollments = New(CodeNoActiveEnrollments, http.StatusUnprocessableEntity, "no active enrollments")
	ErrResourceBusy        = New("RESOURCE_BUSY", http.StatusServiceUnavailable, "resource busy, retry later")
	ErrForbidden           = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized        = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict            = New(CodeConflict, http.StatusConflict, "conflict")
	ErrValidation          = New(CodeValidation, http.StatusBadRequest, "validation failed")
	ErrInternal            = New(CodeInternal, http.StatusInternalServerError, "internal server error")
	ErrCacheMiss           = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	clone.Details = nil
	return &clone
}

// WithDetails clones err with a message override and structured details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	clone.Details = details
	return clone
}

// HasCode reports whether err is an *Error carrying the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
