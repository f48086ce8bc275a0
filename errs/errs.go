// Package errs defines the closed set of error kinds surfaced across the
// engine, so callers can errors.Is/errors.As against a stable kind while the
// message still carries the offending identifier and the failing phase.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy from the error handling design: Configuration,
// NotFound, PortError, PoolExhausted, Runtime, Fatal.
type Kind int

const (
	Configuration Kind = iota
	NotFound
	PortError
	PoolExhausted
	Runtime
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "CONFIGURATION"
	case NotFound:
		return "NOT_FOUND"
	case PortError:
		return "PORT_ERROR"
	case PoolExhausted:
		return "POOL_EXHAUSTED"
	case Runtime:
		return "RUNTIME"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the single error variant every operation returns: a kind, a
// human-readable phrase, and the identifier involved.
type Error struct {
	Kind    Kind
	Ident   string // processor id, link id, bucket key, ...
	Phase   string // compiler phase name, empty outside compile
	Message string
	Cause   error
	// FatalErr marks a Runtime-kind error as fatal to its processor: the
	// worker transitions that processor to Failed and stops its loop
	// instead of publishing and continuing.
	FatalErr bool
}

// Fatal reports whether this error should take its processor to Failed.
// Kind Fatal is always fatal; a Runtime-kind error is fatal only when
// explicitly marked via WithFatal.
func (e *Error) Fatal() bool {
	return e.Kind == Fatal || e.FatalErr
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Ident != "" {
		s = fmt.Sprintf("%s (id=%s)", s, e.Ident)
	}
	if e.Phase != "" {
		s = fmt.Sprintf("%s [phase=%s]", s, e.Phase)
	}
	if e.Cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.Cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind, identifier and message.
func New(kind Kind, ident, message string) *Error {
	return &Error{Kind: kind, Ident: ident, Message: message}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(kind Kind, ident, message string, cause error) *Error {
	return &Error{Kind: kind, Ident: ident, Message: message, Cause: cause}
}

// WithPhase returns a copy of err tagged with the compiler phase that failed.
func WithPhase(err *Error, phase string) *Error {
	cp := *err
	cp.Phase = phase
	return &cp
}

// WithFatal returns a copy of err marked fatal to its processor.
func WithFatal(err *Error) *Error {
	cp := *err
	cp.FatalErr = true
	return &cp
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
