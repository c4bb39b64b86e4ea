// Package apperr defines the typed errors returned by the widget engine and
// the chat interpreter.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeValidationFailed  Code = "validation_failed"
	CodeForbidden         Code = "forbidden"
	CodeMissingPermission Code = "missing_permission"
	CodeCooldownActive    Code = "cooldown_active"
	CodeRateLimited       Code = "rate_limited"
	CodeSideEffectFailed  Code = "side_effect_failed"
	CodeNotFound          Code = "not_found"
	CodeInternal          Code = "internal"
)

// Error is the engine error type.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is set for cooldown_active and rate_limited.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, apperr.New(apperr.CodeForbidden, ""))
// holds for any forbidden error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Cooldown(retryAfter time.Duration) *Error {
	return &Error{Code: CodeCooldownActive, Message: "cooldown active", RetryAfter: retryAfter}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limited", RetryAfter: retryAfter}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Has reports whether err carries the given code.
func Has(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps a code to the status the HTTP surface answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodeForbidden, CodeMissingPermission:
		return http.StatusForbidden
	case CodeCooldownActive, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeSideEffectFailed:
		return http.StatusBadGateway
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
