// Package concorderr defines the stable error-kind surface shared by every
// storage component: backends, the write-ahead log, the snapshot manager,
// and the transaction layer all return errors wrapping one of these kinds so
// callers can branch on failure class without depending on a component's
// internal error values.
package concorderr

import "fmt"

// Kind is a stable error classification. Names are part of the public
// contract; do not renumber.
type Kind int

const (
	OK Kind = iota
	PARAM
	NotFound
	Exists
	Capacity
	IO
	Corrupt
	NotSupported
	State
	TxnInactive
	OOM
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case PARAM:
		return "PARAM"
	case NotFound:
		return "NOT_FOUND"
	case Exists:
		return "EXISTS"
	case Capacity:
		return "CAPACITY"
	case IO:
		return "IO"
	case Corrupt:
		return "CORRUPT"
	case NotSupported:
		return "NOT_SUPPORTED"
	case State:
		return "STATE"
	case TxnInactive:
		return "TXN_INACTIVE"
	case OOM:
		return "OOM"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Kind with a human-readable message and an optional cause.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err carries the given Kind. It allows
// errors.Is(err, concorderr.ErrNotFound) style checks via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// sentinel returns a comparable *Error usable as an errors.Is target.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// Sentinels for errors.Is comparisons against a bare kind.
var (
	ErrNotFound     = sentinel(NotFound)
	ErrExists       = sentinel(Exists)
	ErrCapacity     = sentinel(Capacity)
	ErrIO           = sentinel(IO)
	ErrCorrupt      = sentinel(Corrupt)
	ErrNotSupported = sentinel(NotSupported)
	ErrState        = sentinel(State)
	ErrTxnInactive  = sentinel(TxnInactive)
	ErrOOM          = sentinel(OOM)
	ErrParam        = sentinel(PARAM)
)

// KindOf extracts the Kind from err, defaulting to IO for unrecognized
// errors so callers never have to special-case "not a concorderr.Error".
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var ce *Error
	if e, ok := err.(*Error); ok {
		ce = e
	} else {
		return IO
	}
	return ce.Kind
}
