// Package apperr defines the typed errors shared by every service in the
// back-office. Each error carries a Kind that handlers map to an HTTP status
// and a client-safe message; the wrapped cause is only ever logged.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindForbidden            Kind = "forbidden"
	KindUserNotFound         Kind = "user_not_found"
	KindAccountDisabled      Kind = "account_disabled"
	KindWrongAuthMethod      Kind = "wrong_auth_method"
	KindWrongPassword        Kind = "wrong_password"
	KindTokenNotFound        Kind = "token_not_found"
	KindTokenAlreadySent     Kind = "token_already_sent"
	KindInvalidToken         Kind = "invalid_token"
	KindEmailAlreadyVerified Kind = "email_already_verified"
	KindUserAlreadyExists    Kind = "user_already_exists"
	KindInvalidInput         Kind = "invalid_input"
	KindWrongFileFormat      Kind = "wrong_file_format"
	KindFileTooLarge         Kind = "file_too_large"
	KindNotFound             Kind = "not_found"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal"
)

// Error is the canonical error type returned by services.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for KindInvalidInput.
	Fields map[string]string
	// Err is the underlying cause, for server-side logging only.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same kind, so the
// package sentinels work with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized         = New(KindUnauthorized, "Unauthorized")
	ErrForbidden            = New(KindForbidden, "Forbidden")
	ErrUserNotFound         = New(KindUserNotFound, "User not found")
	ErrAccountDisabled      = New(KindAccountDisabled, "Account is disabled")
	ErrWrongAuthMethod      = New(KindWrongAuthMethod, "This account does not use a password")
	ErrWrongPassword        = New(KindWrongPassword, "Wrong password")
	ErrTokenNotFound        = New(KindTokenNotFound, "Token not found")
	ErrTokenAlreadySent     = New(KindTokenAlreadySent, "A token was sent recently, please wait before retrying")
	ErrInvalidToken         = New(KindInvalidToken, "Invalid or expired token")
	ErrEmailAlreadyVerified = New(KindEmailAlreadyVerified, "Email is already verified")
	ErrUserAlreadyExists    = New(KindUserAlreadyExists, "User already exists")
	ErrInvalidInput         = New(KindInvalidInput, "Validation failed")
	ErrWrongFileFormat      = New(KindWrongFileFormat, "Wrong file format")
	ErrFileTooLarge         = New(KindFileTooLarge, "File is too large")
	ErrNotFound             = New(KindNotFound, "Not found")
	ErrRateLimited          = New(KindRateLimited, "Too many requests, please try again later")
	ErrInternal             = New(KindInternal, "An error occurred")
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Forbidden returns a forbidden error with a specific message.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// NotFound returns a not-found error naming the resource.
func NotFound(resource string) *Error {
	return New(KindNotFound, resource+" not found")
}

// InvalidInput returns a validation error carrying field-level messages.
func InvalidInput(fields map[string]string) *Error {
	return &Error{Kind: KindInvalidInput, Message: ErrInvalidInput.Message, Fields: fields}
}

// InvalidField is a shorthand for a single failing field.
func InvalidField(field, message string) *Error {
	return InvalidInput(map[string]string{field: message})
}

// As extracts the *Error from err's chain, or nil.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if ae := As(err); ae != nil {
		return ae.Kind
	}
	return KindInternal
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindUnauthorized, KindWrongPassword:
		return http.StatusUnauthorized
	case KindForbidden, KindAccountDisabled:
		return http.StatusForbidden
	case KindUserNotFound, KindTokenNotFound, KindNotFound:
		return http.StatusNotFound
	case KindWrongAuthMethod, KindInvalidToken, KindInvalidInput:
		return http.StatusBadRequest
	case KindTokenAlreadySent, KindRateLimited:
		return http.StatusTooManyRequests
	case KindEmailAlreadyVerified, KindUserAlreadyExists:
		return http.StatusConflict
	case KindWrongFileFormat:
		return http.StatusUnsupportedMediaType
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
