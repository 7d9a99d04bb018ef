// Package errs implements the error taxonomy from the design: Transient,
// ContractViolation, NotFound, Corruption, and Fatal. Components wrap
// underlying errors with a Kind so that callers (mainly internal/httpapi)
// can decide status codes and retry policy without string-matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions.
type Kind int

const (
	// KindUnknown is the zero value; treat like a Fatal if it escapes to
	// the process boundary, since it means a component forgot to classify.
	KindUnknown Kind = iota
	// KindTransient is retriable: SQLite busy, a retriable spawn, a
	// network read that can be tried again.
	KindTransient
	// KindContractViolation is a caller error: invalid plan status,
	// path-traversal attempt, a missing required field. Never retried.
	KindContractViolation
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindCorruption means malformed stored data (a queue payload, a
	// transcript line). The affected unit is skipped, never fatal.
	KindCorruption
	// KindFatal means the process cannot continue: DB open failure, port
	// bind failure with no recovery path.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindContractViolation:
		return "contract_violation"
	case KindNotFound:
		return "not_found"
	case KindCorruption:
		return "corruption"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err carries the given Kind, looking through wrapping.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err was never
// classified by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
