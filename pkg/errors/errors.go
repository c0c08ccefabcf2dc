package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     nil,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     nil,
	}
}

func TooManyRequests(message string, waitTime interface{}) *AppError {
	return &AppError{
		Code:    "TOO_MANY_REQUESTS",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     nil,
	}
}

// SchemaMismatch signals that the deployed store schema does not carry the
// columns a query or write expected. Triggers one transparent fallback to
// the legacy conversation shape, never a user-visible error.
func SchemaMismatch(message string, err error) *AppError {
	return &AppError{
		Code:    "SCHEMA_MISMATCH",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Blocking-relation failures, distinguished by direction so UI copy can be
// precise. BLOCKED is used when the direction lookup itself failed.
const (
	CodeBlockedByMe = "BLOCKED_BY_ME"
	CodeBlockedMe   = "BLOCKED_ME"
	CodeBlocked     = "BLOCKED"
)

func BlockedByMe() *AppError {
	return &AppError{
		Code:    CodeBlockedByMe,
		Message: "You have blocked this user",
		Status:  http.StatusForbidden,
		Err:     nil,
	}
}

func BlockedMe() *AppError {
	return &AppError{
		Code:    CodeBlockedMe,
		Message: "This user has blocked you",
		Status:  http.StatusForbidden,
		Err:     nil,
	}
}

func Blocked(err error) *AppError {
	return &AppError{
		Code:    CodeBlocked,
		Message: "Messaging is not available between these users",
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsBlocked reports whether err is any of the blocking-relation failures.
func IsBlocked(err error) bool {
	return Is(err, CodeBlockedByMe) || Is(err, CodeBlockedMe) || Is(err, CodeBlocked)
}
