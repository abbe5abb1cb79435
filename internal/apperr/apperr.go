// Package apperr defines the error taxonomy surfaced at the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindUnauthorized        Kind = "unauthorized"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindNotFound            Kind = "not_found"
	KindDispatchFailed      Kind = "dispatch_failed"
	KindPersistence         Kind = "persistence_inconsistency"
	KindInternal            Kind = "internal"
)

// Error is an application error with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Set only for KindInsufficientCredits.
	Required  int64
	Available int64
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

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "unauthorized"
	}
	return &Error{Kind: KindUnauthorized, Message: message}
}

func NotFound(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

func InsufficientCredits(required, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientCredits,
		Message:   "Insufficient credits",
		Required:  required,
		Available: available,
	}
}

func DispatchFailed(err error) *Error {
	return &Error{Kind: KindDispatchFailed, Message: "provider dispatch failed", Err: err}
}

// Persistence marks a state that needs manual reconciliation, e.g. a job the
// provider accepted but that could not be billed or recorded.
func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps an error to its HTTP status. Unclassified errors are 500.
func StatusCode(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInsufficientCredits:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
