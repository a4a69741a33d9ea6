// Package lanerr defines the failure taxonomy shared by the LAN control
// packages.
package lanerr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Kind is the category of a failure.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindTimeout means no reply arrived before the deadline.
	KindTimeout
	// KindIO is a transport (socket) failure.
	KindIO
	// KindProtocolMismatch means a reply decoded but had the wrong shape
	// for the request that was sent.
	KindProtocolMismatch
	// KindOutOfRange is a registry index misuse.
	KindOutOfRange
	// KindDeviceUnreachable is the composite failure of a multi-step command.
	KindDeviceUnreachable
	// KindBusy means every correlation token is in flight or quarantined.
	KindBusy
	// KindStopped means the component was closed or stopped.
	KindStopped
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindIO:
		return "io error"
	case KindProtocolMismatch:
		return "protocol mismatch"
	case KindOutOfRange:
		return "out of range"
	case KindDeviceUnreachable:
		return "device unreachable"
	case KindBusy:
		return "busy"
	case KindStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrIO                = &Error{Kind: KindIO}
	ErrProtocolMismatch  = &Error{Kind: KindProtocolMismatch}
	ErrOutOfRange        = &Error{Kind: KindOutOfRange}
	ErrDeviceUnreachable = &Error{Kind: KindDeviceUnreachable}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrStopped           = &Error{Kind: KindStopped}
)

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Op        string // operation, e.g. "request", "discover", "set-color"
	Addr      string // peer address, if any
	Device    string // device id, if any
	Message   string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Device != "" {
		b.WriteString(" [device ")
		b.WriteString(e.Device)
		b.WriteString("]")
	}
	if e.Addr != "" {
		b.WriteString(" [")
		b.WriteString(e.Addr)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Err.Error())
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New builds a classified error. Timeouts and IO failures are retryable by
// default.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Retryable: kind == KindTimeout || kind == KindIO || kind == KindBusy,
	}
}

// Timeout builds a timeout failure for op against addr.
func Timeout(op, addr string) *Error {
	e := New(KindTimeout, op, nil)
	e.Addr = addr
	e.Message = "no reply before deadline"
	return e
}

// Mismatch builds a protocol mismatch failure.
func Mismatch(op, addr string, want, got string) *Error {
	e := New(KindProtocolMismatch, op, nil)
	e.Addr = addr
	e.Message = fmt.Sprintf("expected %s reply, got %s", want, got)
	return e
}

// OutOfRange builds a registry index failure.
func OutOfRange(index, size int) *Error {
	e := New(KindOutOfRange, "lookup", nil)
	e.Message = fmt.Sprintf("index %d outside registry of %d devices", index, size)
	return e
}

// Unreachable wraps cause as a composite command failure. It stays
// retryable when the cause is.
func Unreachable(op, device string, cause error) *Error {
	e := New(KindDeviceUnreachable, op, cause)
	e.Device = device
	e.Retryable = IsRetryable(cause)
	return e
}

// ClassifyIOError maps a socket error onto the taxonomy.
func ClassifyIOError(op, addr string, err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if os.IsTimeout(err) {
		e := New(KindTimeout, op, err)
		e.Addr = addr
		return e
	}
	e := New(KindIO, op, err)
	e.Addr = addr
	if errors.Is(err, net.ErrClosed) {
		e.Kind = KindStopped
		e.Message = "socket closed"
		e.Retryable = false
		return e
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			e.Message = "host unreachable"
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			e.Message = "network unreachable"
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			e.Message = "connection refused"
		case errors.Is(opErr.Err, syscall.EACCES):
			e.Message = "permission denied (broadcast not allowed?)"
			e.Retryable = false
		}
	}
	return e
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTimeout(err error) bool           { return errors.Is(err, ErrTimeout) }
func IsIO(err error) bool                { return errors.Is(err, ErrIO) }
func IsProtocolMismatch(err error) bool  { return errors.Is(err, ErrProtocolMismatch) }
func IsOutOfRange(err error) bool        { return errors.Is(err, ErrOutOfRange) }
func IsDeviceUnreachable(err error) bool { return errors.Is(err, ErrDeviceUnreachable) }
func IsStopped(err error) bool           { return errors.Is(err, ErrStopped) }

// IsRetryable reports whether the outermost classified error is retryable.
// Unclassified errors are not.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
