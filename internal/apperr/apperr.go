package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	Internal Kind = iota
	Validation
	Authorization
	NotFound
	Conflict
	Transient
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified error carrying the failing operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can write
// errors.Is(err, &apperr.Error{Kind: apperr.NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Invalid reports a rejected input.
func Invalid(op, format string, args ...any) error {
	return newf(Validation, op, format, args...)
}

// Forbidden reports an actor not allowed to perform op.
func Forbidden(op, format string, args ...any) error {
	return newf(Authorization, op, format, args...)
}

// Missing reports an id that did not resolve.
func Missing(op, format string, args ...any) error {
	return newf(NotFound, op, format, args...)
}

// Conflicting reports a state conflict (exhausted link, duplicate name).
func Conflicting(op, format string, args ...any) error {
	return newf(Conflict, op, format, args...)
}

// Wrap classifies an underlying failure. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Store wraps a persistence failure as Internal.
func Store(op string, err error) error {
	return Wrap(Internal, op, err)
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns a client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == Internal {
			return "internal error"
		}
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return "internal error"
}
