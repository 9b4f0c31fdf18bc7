package errors

import (
	stderrors "errors"
	"fmt"
)

// Class groups failures by the kind of precondition that was violated. The
// RPC layer maps classes onto transport status codes.
type Class uint8

const (
	ClassInternal Class = iota
	ClassInvalidState
	ClassInsufficientFunds
	ClassUnauthorized
	ClassConsentInvalid
	ClassMismatch
	ClassCustodyUnavailable
	ClassNotFound
	ClassInvalidArgument
)

func (c Class) String() string {
	switch c {
	case ClassInvalidState:
		return "invalid_state"
	case ClassInsufficientFunds:
		return "insufficient_funds"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassConsentInvalid:
		return "consent_invalid"
	case ClassMismatch:
		return "mismatch"
	case ClassCustodyUnavailable:
		return "custody_unavailable"
	case ClassNotFound:
		return "not_found"
	case ClassInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Error is a sentinel failure tagged with its class.
type Error struct {
	class Class
	msg   string
}

// New declares a classified sentinel error.
func New(class Class, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Class returns the failure class.
func (e *Error) Class() Class { return e.class }

// Wrap annotates err with a classified sentinel so callers can match either.
func Wrap(sentinel *Error, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// ClassOf returns the class of the outermost classified error in err's chain.
func ClassOf(err error) Class {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.class
	}
	return ClassInternal
}
