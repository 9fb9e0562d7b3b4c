package protocol

import "errors"

// Error kinds. Callers match them with errors.Is; details are wrapped with %w.
var (
	// ErrConnection covers refused or failed connects past the retry budget
	// and mid-stream I/O failures.
	ErrConnection = errors.New("protocol: connection error")
	// ErrProtocol covers version mismatches, echo mismatches and non-success
	// handshake status.
	ErrProtocol = errors.New("protocol: protocol error")
	// ErrUsage is returned when an operation is invoked in the wrong lifecycle state.
	ErrUsage = errors.New("protocol: usage error")
	// ErrValidation is returned when captured data violates an analyzer invariant.
	ErrValidation = errors.New("protocol: validation failed")
)
