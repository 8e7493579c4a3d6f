// Package errors provides coded application errors shared by the repository,
// service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeNotFound       Code = "NOT_FOUND"
	ErrCodeAlreadyDecided Code = "ALREADY_DECIDED"
	ErrCodeInvalidStep    Code = "INVALID_STEP"
	ErrCodeForbiddenStep  Code = "FORBIDDEN_STEP"
	ErrCodePersistence    Code = "PERSISTENCE"
	ErrCodeInvalidInput   Code = "INVALID_INPUT"
	ErrCodeUnauthorized   Code = "UNAUTHORIZED"
	ErrCodeConflict       Code = "CONFLICT"
	ErrCodeInternal       Code = "INTERNAL"
)

// Error is a coded error carrying a client-safe message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. Wrapping an
// already-coded error keeps the original code.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if stderrors.As(err, &coded) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, message))
}

// AlreadyDecided reports an action against an expense in a terminal status.
func AlreadyDecided(status string) *Error {
	return New(ErrCodeAlreadyDecided, fmt.Sprintf("expense is already %s", status))
}

// Persistence reports a store or ledger failure.
func Persistence(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: ErrCodePersistence, Message: message, Err: err}
}

// CodeOf returns the code of the first coded error in err's chain, or
// ErrCodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Message
	}
	return "internal server error"
}

// HTTPStatus maps a code to the HTTP status returned to clients.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyDecided, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeForbiddenStep:
		return http.StatusForbidden
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
