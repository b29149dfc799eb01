// Package coreerr defines the error kinds the core distinguishes and a
// typed wrapper for them, replacing the source's exception hierarchy with
// explicit result values as described in the design notes: every fallible
// operation returns one of these kinds, and callers decide whether to
// surface or recover.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the core distinguishes. Kinds drive
// propagation policy: some are local to a connection, some are surfaced to
// the user. No kind triggers an automatic retry inside the core.
type Kind int

const (
	// KindNotFound — object hash not stored. Local to the caller; a CHUM
	// peer asking for a hash we don't have gets DENY, not this error.
	KindNotFound Kind = iota + 1
	// KindCorruptObject — serialization hash mismatch. Discarded on
	// import, fatal on a local read.
	KindCorruptObject
	// KindAccessDenied — peer lacks a grant. CHUM responds DENY; logged,
	// never surfaced to the user.
	KindAccessDenied
	// KindInvalidCredential — VC verification failed. Closes the transport
	// with this reason.
	KindInvalidCredential
	// KindTransportClosed — connection gone. CHUM abandons in-flight
	// requests; state is recoverable from grants on reconnection.
	KindTransportClosed
	// KindDecryptionFailure — AEAD tag mismatch. Counted; the transport
	// closes after a threshold of consecutive failures.
	KindDecryptionFailure
	// KindTimeout — QUIC-VC handshake or idle timeout. CHUM sets no
	// request timeout and never re-requests an outstanding hash.
	KindTimeout
	// KindConflict — concurrent append race, also returned for local
	// hashing and key-generation failures. It is not retried; callers
	// receive it as is.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCorruptObject:
		return "corrupt_object"
	case KindAccessDenied:
		return "access_denied"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindTransportClosed:
		return "transport_closed"
	case KindDecryptionFailure:
		return "decryption_failure"
	case KindTimeout:
		return "timeout"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the op that produced it and the kind
// it belongs to, so callers can branch on Kind without parsing messages.
type Error struct {
	Kind Kind
	Op   string
	Hash string // optional: the content/id hash involved, hex-encoded
	Err  error
}

func (e *Error) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Op, e.Kind, e.Hash, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error for op/kind wrapping err.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithHash attaches a hash to an Error built by New, for logging context.
func WithHash(op string, kind Kind, hash string, err error) *Error {
	return &Error{Op: op, Kind: kind, Hash: hash, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is a coreerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
