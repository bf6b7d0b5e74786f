package peer

import "errors"

// Sentinel errors returned by the peer connection core.
//
// These group into the error taxonomy used throughout this package:
// Implementation (caller misuse), NoChannel (expected lookup miss),
// NoResponseTimeout (transport timeout), PairRetransmissionLimitReached
// and RetransmissionLimitReached (exhaustion), Discovery (mDNS produced
// nothing usable), UninitializedDependency / IncapacitatedDependency
// (lifecycle violations), and IdentityConflict (shared with the
// storage-side sibling core; nothing in this package raises it).
var (
	// ErrImplementation indicates a programming error: invalid combination of
	// discovery mode and timeout, an unknown address family, or similar caller
	// misuse that must never be retried.
	ErrImplementation = errors.New("peer: implementation error")

	// ErrNoChannel indicates a channel lookup missed. Callers that want to
	// treat this as an expected condition should check with errors.Is.
	ErrNoChannel = errors.New("peer: no channel for address")

	// ErrNoResponseTimeout indicates the peer did not respond before the
	// transport's retransmission budget was exhausted.
	ErrNoResponseTimeout = errors.New("peer: no response, retransmission exhausted")

	// ErrPairRetransmissionLimitReached indicates CASE pairing failed because
	// the peer never acknowledged the handshake.
	ErrPairRetransmissionLimitReached = errors.New("peer: pair retransmission limit reached")

	// ErrRetransmissionLimitReached indicates a higher-level reliable exchange
	// exhausted its retransmission budget after a channel was established.
	ErrRetransmissionLimitReached = errors.New("peer: retransmission limit reached")

	// ErrDiscovery indicates operational discovery produced no usable address.
	ErrDiscovery = errors.New("peer: discovery failed to resolve peer")

	// ErrUninitializedDependency indicates a dependency was asserted before it
	// finished constructing, or was cancelled before it ever became ready.
	ErrUninitializedDependency = errors.New("peer: dependency not yet initialized")

	// ErrIncapacitatedDependency indicates a dependency's construction failed.
	// The original cause is available via errors.Unwrap.
	ErrIncapacitatedDependency = errors.New("peer: dependency failed to initialize")

	// ErrIdentityConflict indicates two parts claimed the same identity.
	// Defined here for taxonomy completeness with the storage-side sibling
	// core; this package never raises it itself.
	ErrIdentityConflict = errors.New("peer: identity conflict")

	// ErrAlreadyStarted indicates Start was called twice on the same
	// AsyncConstruction handle.
	ErrAlreadyStarted = errors.New("peer: construction already started")

	// ErrClosed indicates an operation was attempted on a closed PeerSet or
	// InteractionQueue.
	ErrClosed = errors.New("peer: closed")

	// ErrInvalidAddressFamily indicates an operational address literal is
	// neither a valid IPv4 nor IPv6 literal.
	ErrInvalidAddressFamily = errors.New("peer: cannot determine address family")

	// ErrNoInterface indicates no transport interface is registered for the
	// address family a pairing attempt requires.
	ErrNoInterface = errors.New("peer: no interface for address family")
)

// IncapacitatedError wraps the original construction failure so callers can
// both errors.Is against ErrIncapacitatedDependency and errors.Unwrap to the
// underlying cause.
type IncapacitatedError struct {
	Cause error
}

func (e *IncapacitatedError) Error() string {
	return "peer: dependency failed to initialize: " + e.Cause.Error()
}

func (e *IncapacitatedError) Unwrap() error {
	return e.Cause
}

func (e *IncapacitatedError) Is(target error) bool {
	return target == ErrIncapacitatedDependency
}
