package syncer

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol failure; the engine's reaction depends on
// it, not on the message.
type Kind string

const (
	// KindTransport: network-level failure, retried with backoff.
	KindTransport Kind = "transport"
	// KindAuth: credentials rejected, terminal.
	KindAuth Kind = "auth"
	// KindHandshake: protocol version mismatch, terminal.
	KindHandshake Kind = "handshake"
	// KindDecode: response did not parse, retried with backoff.
	KindDecode Kind = "decode"
	// KindServer: authority-side error reply, retried with backoff.
	KindServer Kind = "server"
)

// ProtocolError reports a sync protocol failure.
type ProtocolError struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sync %s error (http %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("sync %s error: %s", e.Kind, e.Detail)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocol returns true if the error is a sync protocol error.
// Uses errors.As to handle wrapped errors.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTerminal reports whether the failure must stop the engine rather
// than be retried.
func IsTerminal(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindAuth || pe.Kind == KindHandshake
}
