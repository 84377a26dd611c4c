package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy for the session coordinator. Device and transport failures
// at connect time are fatal to the whole session; negotiation and ICE failures
// stay scoped to a single peer link.
var (
	// ErrDevice: permission denied or no capture device. No retry.
	ErrDevice = errors.New("media device unavailable")
	// ErrConnection: the signaling transport could not be established or was
	// lost. Retried only as an explicit operator-triggered reconnect.
	ErrConnection = errors.New("signaling connection failed")
	// ErrNegotiation: malformed offer/answer or a remote description mismatch
	// on one peer link.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrIceFailure: ICE transport failed after the single automatic restart.
	ErrIceFailure = errors.New("ice transport failed")
)

// JoinError wraps the first failure of media acquisition or channel open
// during connect.
type JoinError struct {
	Stage string // "media" or "signaling"
	Err   error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join failed at %s: %v", e.Stage, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }
