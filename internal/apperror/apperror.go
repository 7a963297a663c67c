// Package apperror defines the error taxonomy shared across the payment engine.
// Each error carries a Kind so callers can map failures to the correct boundary
// behavior (reject, replay, retry) without string matching.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary handling.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown Kind = iota
	// KindValidation marks malformed or missing input, rejected before any persistence.
	KindValidation
	// KindConflict marks an idempotency key reused with a different payload.
	KindConflict
	// KindCompliance marks a regulatory gate rejection.
	KindCompliance
	// KindInvalidTransition marks an illegal payment state change. This is a
	// programming error, not an operational condition.
	KindInvalidTransition
	// KindPersistence marks a storage error. Transactional writes guarantee no
	// partial commit occurred, so the operation is safely retryable.
	KindPersistence
	// KindNotFound marks a lookup for a record that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindCompliance:
		return "compliance"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a kinded error. It supports errors.Is/errors.As through Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of an error, or KindUnknown if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
