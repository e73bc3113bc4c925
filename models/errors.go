package models

import (
	"errors"
	"fmt"
)

// Error kinds returned to API clients. Handlers map these to HTTP statuses:
// VALIDATION → 400, STATE and CONFLICT → 409, NOT_FOUND → 404, LIMIT → 403.
const (
	ErrKindValidation = "VALIDATION"
	ErrKindState      = "STATE"
	ErrKindConflict   = "CONFLICT"
	ErrKindNotFound   = "NOT_FOUND"
	ErrKindLimit      = "LIMIT"
)

// ValidationError rejects malformed input before it touches the ledger.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StateError signals an operation applied to an entity in the wrong lifecycle
// state, e.g. closing a drawer that is already CLOSED.
type StateError struct {
	Entity  string
	Message string
}

func (e *StateError) Error() string {
	if e.Entity == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

func NewStateError(entity, message string) *StateError {
	return &StateError{Entity: entity, Message: message}
}

// ConflictError signals a lost race, e.g. two concurrent opens for the same
// location where the unique index let only one through.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// NotFoundError signals a lookup that matched nothing within the caller's clinic.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// LimitError signals a plan limit was hit, e.g. too many open drawers.
type LimitError struct {
	Limit   int
	Message string
}

func (e *LimitError) Error() string { return e.Message }

func NewLimitError(limit int, message string) *LimitError {
	return &LimitError{Limit: limit, Message: message}
}

// ErrorKind classifies err into one of the API error kinds, or "" when the
// error is none of them (handlers treat that as a 500).
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		se *StateError
		ce *ConflictError
		ne *NotFoundError
		le *LimitError
	)
	switch {
	case errors.As(err, &ve):
		return ErrKindValidation
	case errors.As(err, &se):
		return ErrKindState
	case errors.As(err, &ce):
		return ErrKindConflict
	case errors.As(err, &ne):
		return ErrKindNotFound
	case errors.As(err, &le):
		return ErrKindLimit
	default:
		return ""
	}
}

// ErrorField returns the offending field for validation errors, "" otherwise.
func ErrorField(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
