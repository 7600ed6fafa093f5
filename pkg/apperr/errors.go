// Package apperr defines the error kinds returned by the orchestration core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindUnauthorized
	KindValidation
	KindInvalidInput
	KindCallFailed
	KindLogic
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation_error"
	case KindInvalidInput:
		return "invalid_input"
	case KindCallFailed:
		return "call_failed"
	case KindLogic:
		return "logic_error"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrCallFailed   = &Error{Kind: KindCallFailed}
	ErrLogic        = &Error{Kind: KindLogic}
)

// Error is a classified error. Entity names what the error is about (an action id, an asset, a method).
type Error struct {
	Kind    Kind
	Entity  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg += " [" + e.Entity + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works on wrapped values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, entity, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, format string, args ...interface{}) *Error {
	return newError(KindNotFound, entity, format, args...)
}

func Unauthorized(entity, format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, entity, format, args...)
}

func Validation(entity, format string, args ...interface{}) *Error {
	return newError(KindValidation, entity, format, args...)
}

func InvalidInput(entity, format string, args ...interface{}) *Error {
	return newError(KindInvalidInput, entity, format, args...)
}

func Logic(entity, format string, args ...interface{}) *Error {
	return newError(KindLogic, entity, format, args...)
}

// CallFailed wraps an error returned by an external collaborator (ledger, fee oracle)
func CallFailed(entity string, err error) *Error {
	return &Error{Kind: KindCallFailed, Entity: entity, Message: "external call failed", Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
