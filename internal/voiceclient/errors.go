package voiceclient

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig rejects an invalid option combination before any connection
	// attempt is made.
	ErrConfig = errors.New("invalid connection config")

	// ErrAlreadyConnecting guards overlapping lifecycle operations.
	ErrAlreadyConnecting = errors.New("connection lifecycle operation already in progress")

	// ErrNotReady rejects operations attempted outside their valid state.
	ErrNotReady = errors.New("connection not ready")
)

// TransportError wraps a socket-level failure. Fatal: the connection is
// Errored and only a fresh Start recovers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a malformed or unexpected frame. Non-fatal unless the
// backend classified the condition fatal via its error frame.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol frame %s: %v", e.Frame, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
