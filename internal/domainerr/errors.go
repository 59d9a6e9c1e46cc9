// Package domainerr defines the single typed error value that every
// repository, service, and engine in this module returns. Commands never
// hand back ad hoc sentinel errors or raw driver errors; only the HTTP
// adapter at the edge knows how to turn a Kind into a wire status code.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of error categories, not type names, per
// the error taxonomy: each Kind maps to exactly one HTTP status.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindInvalidOperation       Kind = "invalid_operation"
	KindConflict               Kind = "conflict"
	KindConcurrentModification Kind = "concurrent_modification"
	KindInsufficientInventory  Kind = "insufficient_inventory"
	KindNegativeInventory      Kind = "negative_inventory"
	KindDuplicateReservation   Kind = "duplicate_reservation"
	KindUnauthorized           Kind = "unauthorized"
	KindForbidden              Kind = "forbidden"
	KindRateLimit              Kind = "rate_limit"
	KindUpstreamUnavailable    Kind = "upstream_unavailable"
	KindDatabaseError          Kind = "database_error"
	KindInternal               Kind = "internal"
)

// HTTPStatus returns the status code the external adapter must use for
// this Kind. Kept here (not in the adapter) so every caller can see the
// mapping is total over Kind without importing net/http.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidOperation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict, KindConcurrentModification, KindInsufficientInventory, KindNegativeInventory, KindDuplicateReservation:
		return 409
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindRateLimit:
		return 429
	case KindUpstreamUnavailable:
		return 503
	case KindDatabaseError, KindInternal:
		return 500
	default:
		return 500
	}
}

// Error is the single typed error value propagated from commands up to
// the adapter. Param names the offending field, when applicable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Param   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind. code is the short machine
// token surfaced in the error envelope (e.g. "invalid", "not_found").
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches cause to a new Error without losing the underlying error
// for errors.Is/As callers further up the stack.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithParam returns a copy of e with Param set, for field-level validation
// errors.
func (e *Error) WithParam(param string) *Error {
	clone := *e
	clone.Param = param
	return &clone
}

// As is a convenience wrapper over errors.As for the common case of
// pulling a *Error out of an arbitrary error chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Common constructors used throughout commands and the inventory engine.

func NotFound(entity, id string) *Error {
	return New(KindNotFound, "not_found", fmt.Sprintf("%s %s not found", entity, id))
}

func InvalidOperation(message string) *Error {
	return New(KindInvalidOperation, "invalid", message)
}

func ConcurrentModification(id string) *Error {
	return New(KindConcurrentModification, "concurrent_modification", fmt.Sprintf("version mismatch on %s", id))
}

func Validation(param, message string) *Error {
	return New(KindValidation, "validation", message).WithParam(param)
}

func Conflict(message string) *Error {
	return New(KindConflict, "conflict", message)
}

func InsufficientInventory(message string) *Error {
	return New(KindInsufficientInventory, "insufficient_inventory", message)
}

func NegativeInventory(message string) *Error {
	return New(KindNegativeInventory, "negative_inventory", message)
}

func DuplicateReservation(referenceID string) *Error {
	return New(KindDuplicateReservation, "duplicate_reservation", fmt.Sprintf("non-terminal reservation already exists for reference %s", referenceID))
}

func Database(cause error) *Error {
	return Wrap(KindDatabaseError, "database_error", "database operation failed", cause)
}

func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal", "internal error", cause)
}
