package clamd

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed local input such as a blank command
	// name, a blank scan path, or a nil data stream. Nothing reaches the
	// daemon when it is returned.
	ErrInvalidArgument = errors.New("clamd: invalid argument")

	// ErrClientClosed is returned by every operation dispatched after Close.
	ErrClientClosed = errors.New("clamd: client closed")

	errConnDead = errors.New("connection no longer usable")
)

// ProtocolError reports a daemon reply that violates the expected shape or
// leads with the daemon's error marker. The daemon text is kept verbatim so
// callers can log it.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("clamd: protocol error: %s", e.Message)
	}
	return fmt.Sprintf("clamd: %s: protocol error: %s", e.Command, e.Message)
}

// TransportError reports a stream-level failure while dialing, writing, or
// reading. The connection that produced it is discarded and the next
// dispatch redials.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("clamd: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
