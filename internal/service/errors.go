// Package service implements the application's use cases on top of the
// repositories, storage, predictor and mailer. Every failure leaving this
// package is an *Error carrying one of the Kinds below; handlers map the
// kind to an HTTP status in one place.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindPrediction        Kind = "prediction"
	KindPredictionTimeout Kind = "prediction_timeout"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Message is safe to show to users; Err
// holds the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authError(msg string) *Error { return &Error{Kind: KindAuth, Message: msg} }

func forbidden(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }

func notFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// internal wraps an unexpected failure; the message shown to users is
// generic.
func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: fmt.Errorf("%s: %w", op, err)}
}
