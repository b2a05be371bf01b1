package pageerr

import "fmt"

// Code is the status taxonomy surfaced to strategies and the external
// resolver (spec §6/§7).
type Code int

const (
	// OK indicates success with no remaining data.
	OK Code = iota
	// PartialResult indicates success with more pages to fetch.
	PartialResult
	// NotFound indicates a looked-up key or commit is missing.
	NotFound
	// InternalError indicates an invariant violation, a cancelled
	// operation, or a destroyed owner observed by a continuation.
	InternalError
	// Storage indicates an error translated from the storage
	// collaborator.
	Storage
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case PartialResult:
		return "PARTIAL_RESULT"
	case NotFound:
		return "NOT_FOUND"
	case InternalError:
		return "INTERNAL_ERROR"
	case Storage:
		return "STORAGE"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Code with an optional underlying cause.
type Error struct {
	Code  Code
	Cause error
}

// New creates an *Error whose cause is a plain error carrying msg.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Cause: fmt.Errorf("%s", msg)}
}

// Wrap translates an underlying storage error into a tagged Error.
func Wrap(code Code, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *Error carrying the given Code.
func Is(err error, code Code) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}

// NotFoundError is a convenience constructor for the common NotFound case.
func NotFoundError(what string) *Error {
	return New(NotFound, fmt.Sprintf("%s not found", what))
}

// Internal is a convenience constructor for InternalError.
func Internal(msg string) *Error {
	return New(InternalError, msg)
}
