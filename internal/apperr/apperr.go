// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindClassifierUnavailable
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "auth_error"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindClassifierUnavailable:
		return "classifier_unavailable"
	case KindStorage:
		return "storage_error"
	default:
		return "internal_error"
	}
}

// Error carries a client-safe Message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind without a cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind and message to err.
func Wrap(err error, kind Kind, message string) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of the outermost *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindClassifierUnavailable, KindStorage:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindClassifierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
