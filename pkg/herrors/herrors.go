// Package herrors defines the host's closed error taxonomy. Every error
// returned across a package boundary in this module is one of these kinds,
// wrapping an inner cause so errors.Is and errors.As compose normally.
package herrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the closed set of failure categories the host can surface.
type Kind int

const (
	GuestEngine Kind = iota
	HostCall
	Encoding
	Decoding
	TokenInvalid
	Authorization
	IO
	CapabilityProvider
	Middleware
	Misc
)

func (k Kind) String() string {
	switch k {
	case GuestEngine:
		return "GuestEngine"
	case HostCall:
		return "HostCall"
	case Encoding:
		return "Encoding"
	case Decoding:
		return "Decoding"
	case TokenInvalid:
		return "TokenInvalid"
	case Authorization:
		return "Authorization"
	case IO:
		return "IO"
	case CapabilityProvider:
		return "CapabilityProvider"
	case Middleware:
		return "Middleware"
	default:
		return "Misc"
	}
}

// Error is the host's concrete error type: a Kind, a message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping cause. Returns nil if
// cause is nil.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, unwrapping through
// any number of wrapping layers.
func Is(err error, kind Kind) bool {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind, true
	}
	return 0, false
}
