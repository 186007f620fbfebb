package lcfs

import (
	"errors"
	"fmt"
)

// ErrShortFrame is returned where the original C client used a negative
// sentinel frame value to signal a bus failure (spec.md §9 item 6) — a
// distinct Go error can never collide with a legal 64-bit frame the way
// a sentinel integer can, so callers get errors.Is instead of a magic
// number comparison.
var ErrShortFrame = errors.New("lcfs: short frame")

// ErrorKind is the high-level category of a failure, used for
// errors.Is-style comparisons without depending on message text.
type ErrorKind string

const (
	KindProtocol   ErrorKind = "protocol"   // malformed/short frame, unexpected response
	KindCapacity   ErrorKind = "capacity"   // no free block on any device
	KindUsage      ErrorKind = "usage"      // bad handle, out-of-range seek, closed file
	KindController ErrorKind = "controller" // controller reported failure (b0/b1 != 1)
)

// Error is the structured error returned from every lcfs operation that
// can fail. It mirrors the original client's practice of checking
// b0/b1/c0 after every bus call and returning -1 on mismatch, replaced
// with a typed, inspectable Go error.
type Error struct {
	Op     string
	Kind   ErrorKind
	Device int   // device id, -1 if not applicable
	Handle int32 // file handle, -1 if not applicable
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Device >= 0 {
		parts = append(parts, fmt.Sprintf("device=%d", e.Device))
	}
	if e.Handle >= 0 {
		parts = append(parts, fmt.Sprintf("handle=%d", e.Handle))
	}
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if len(parts) > 0 {
		return fmt.Sprintf("lcfs: %s: %s (%s)", e.Op, msg, parts[0])
	}
	return fmt.Sprintf("lcfs: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons between two *Error values by Kind,
// the same category-level equality the teacher's Error.Is gives Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError builds an *Error with no device/handle context.
func NewError(op string, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Device: -1, Handle: -1, Msg: msg}
}

// NewDeviceError builds an *Error scoped to a device.
func NewDeviceError(op string, device int, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Device: device, Handle: -1, Msg: msg}
}

// NewHandleError builds an *Error scoped to a file handle.
func NewHandleError(op string, handle int32, kind ErrorKind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Device: -1, Handle: handle, Msg: msg}
}

// WrapError wraps inner with op/kind context, preserving it for
// errors.Unwrap/errors.As.
func WrapError(op string, kind ErrorKind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ie, ok := inner.(*Error); ok {
		return &Error{Op: op, Kind: kind, Device: ie.Device, Handle: ie.Handle, Msg: ie.Msg, Inner: ie}
	}
	return &Error{Op: op, Kind: kind, Device: -1, Handle: -1, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err is an *Error of the given kind, anywhere in
// its Unwrap chain.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
