package pipes

import (
	"errors"
	"fmt"
)

// ErrDone marks the normal end of a command sequence: CLOSE was observed, or
// the transport reached EOF on a frame boundary.
var ErrDone = errors.New("pipes: end of stream")

// ErrorKind classifies a ProtocolError
type ErrorKind int

const (
	ErrorKindOutOfOrder ErrorKind = iota
	ErrorKindWrongDirection
	ErrorKindUnknownCommand
	ErrorKindMalformed
	ErrorKindAbort
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindOutOfOrder:
		return "out of order command"
	case ErrorKindWrongDirection:
		return "wrong direction"
	case ErrorKindUnknownCommand:
		return "unknown command"
	case ErrorKindMalformed:
		return "malformed command"
	case ErrorKindAbort:
		return "aborted"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ProtocolError reports a malformed or out-of-order command sequence. It is
// always fatal for the current task attempt.
type ProtocolError struct {
	Kind    ErrorKind
	Code    Code
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("protocol error: %s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Kind, e.Message)
}

// ProtocolAbort is raised when the framework sends ABORT. It is a
// ProtocolError too: errors.As(err, &protoErr) matches it.
type ProtocolAbort struct {
	ProtocolError
}

func (e *ProtocolAbort) Error() string {
	return "protocol abort: " + e.Message
}

// Unwrap exposes the embedded ProtocolError to errors.As.
func (e *ProtocolAbort) Unwrap() error {
	return &e.ProtocolError
}

// NewProtocolAbort creates the error returned when ABORT is observed
func NewProtocolAbort(message string) *ProtocolAbort {
	return &ProtocolAbort{ProtocolError{
		Kind:    ErrorKindAbort,
		Code:    Abort,
		Message: message,
	}}
}

func newOutOfOrder(code Code) *ProtocolError {
	return &ProtocolError{
		Kind:    ErrorKindOutOfOrder,
		Code:    code,
		Message: fmt.Sprintf("out of order command: %s", code),
	}
}

func newMalformed(code Code, message string) *ProtocolError {
	return &ProtocolError{
		Kind:    ErrorKindMalformed,
		Code:    code,
		Message: fmt.Sprintf("%s: %s", code, message),
	}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError,
// including aborts.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsAbort reports whether err is (or wraps) a ProtocolAbort
func IsAbort(err error) bool {
	var pa *ProtocolAbort
	return errors.As(err, &pa)
}
