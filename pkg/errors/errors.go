package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes shared by the REST and realtime transports
const (
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidState          = "INVALID_STATE"
	CodeInsufficientResponses = "INSUFFICIENT_RESPONSES"
	CodeDuplicateSubmission   = "DUPLICATE_SUBMISSION"
	CodeModerationRejected    = "MODERATION_REJECTED"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeValidation            = "VALIDATION_ERROR"
	CodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	CodeGenerationUnavailable = "GENERATION_UNAVAILABLE"
	CodeModerationUnavailable = "MODERATION_UNAVAILABLE"
	CodeInternal              = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithCause records the error that triggered this one
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(code string, message string) *AppError {
	return NewError(http.StatusConflict, code, message)
}

// NewUnprocessableError creates a 422 Unprocessable Entity error
func NewUnprocessableError(code string, message string) *AppError {
	return NewError(http.StatusUnprocessableEntity, code, message)
}

// NewTooManyRequestsError creates a 429 Too Many Requests error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(code string, message string) *AppError {
	return NewError(http.StatusServiceUnavailable, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Domain taxonomy. NotFound deliberately covers "exists but not owned".

// NotFound reports an absent or foreign entity
func NotFound(entity string) *AppError {
	return NewNotFoundError(CodeNotFound, entity+" not found")
}

// InvalidState reports an operation that is illegal for the current lifecycle state
func InvalidState(message string) *AppError {
	return NewConflictError(CodeInvalidState, message)
}

// InsufficientResponses reports a survey below its response threshold
func InsufficientResponses(need, have int64) *AppError {
	return NewUnprocessableError(CodeInsufficientResponses,
		fmt.Sprintf("Insufficient responses. Need %d, have %d", need, have)).
		WithDetails(map[string]int64{"required": need, "received": have})
}

// DuplicateSubmission reports a repeated anonymous fingerprint
func DuplicateSubmission() *AppError {
	return NewConflictError(CodeDuplicateSubmission, "You have already submitted a response")
}

// ModerationRejected reports content flagged by moderation
func ModerationRejected(reason string) *AppError {
	return NewForbiddenError(CodeModerationRejected, "Message rejected: "+reason)
}

// Unauthenticated reports a missing or invalid identity
func Unauthenticated(message string) *AppError {
	return NewUnauthorizedError(CodeUnauthenticated, message)
}

// Validation reports a malformed request
func Validation(message string) *AppError {
	return NewBadRequestError(CodeValidation, message)
}

// Is checks if err carries the same code as target
func Is(err error, target *AppError) bool {
	return HasCode(err, target.Code)
}
