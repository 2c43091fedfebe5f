package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for chat operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the requested entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeForbidden indicates the entity exists but is owned by another user.
	// External surfaces report it the same way as NOT_FOUND.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeConflict indicates a generation is already running on the session.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeRateLimitExceeded indicates a provider or local rate limit was hit.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeProviderError indicates a non-retryable provider failure.
	ErrCodeProviderError ErrorCode = "PROVIDER_ERROR"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeStorageError indicates a store mutation or read failed.
	ErrCodeStorageError ErrorCode = "STORAGE_ERROR"
	// ErrCodeContextCanceled indicates the operation was canceled by the caller.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
)

// ChatError represents a structured error for chat operations.
type ChatError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *ChatError {
	return &ChatError{Code: ErrCodeUnauthorized, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *ChatError {
	return &ChatError{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *ChatError {
	return &ChatError{Code: ErrCodeNotFound, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *ChatError {
	return &ChatError{Code: ErrCodeForbidden, Message: msg}
}

// Conflict creates a conflict error.
func Conflict(msg string) *ChatError {
	return &ChatError{Code: ErrCodeConflict, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *ChatError {
	return &ChatError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// ProviderError creates a provider failure error.
func ProviderError(msg string, cause error) *ChatError {
	return &ChatError{Code: ErrCodeProviderError, Message: msg, Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(msg string) *ChatError {
	return &ChatError{Code: ErrCodeTimeout, Message: msg}
}

// StorageError creates a storage failure error.
func StorageError(msg string, cause error) *ChatError {
	return &ChatError{Code: ErrCodeStorageError, Message: msg, Cause: cause}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *ChatError {
	return &ChatError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *ChatError {
	return &ChatError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of err, or empty when err is not a ChatError.
func CodeOf(err error) ErrorCode {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
