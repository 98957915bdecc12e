package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at operation boundaries.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindConfiguration    ErrorKind = "configuration"
	KindContentIntegrity ErrorKind = "content_integrity"
	KindPersistence      ErrorKind = "persistence"
)

// Error is a classified failure. Code is a stable message ID that the HTTP
// layer translates; Message is the English fallback.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind, so
// errors.Is(err, ErrNotFound) works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConfiguration    = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrContentIntegrity = &Error{Kind: KindContentIntegrity, Message: "content integrity violation"}
	ErrPersistence      = &Error{Kind: KindPersistence, Message: "persistence failure"}
)

// Validation returns a validation error with a translatable code.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// NotFound returns a not-found error with a translatable code.
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Configuration returns a configuration error carrying operator guidance.
func Configuration(code, msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: msg, Err: err}
}

// ContentIntegrity returns a content integrity error.
func ContentIntegrity(code, msg string) *Error {
	return &Error{Kind: KindContentIntegrity, Code: code, Message: msg}
}

// Persistence wraps a store failure.
func Persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: "PersistenceFailed", Message: msg, Err: err}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
