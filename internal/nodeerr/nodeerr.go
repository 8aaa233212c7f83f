// Package nodeerr defines the tagged-variant error taxonomy shared by the
// mempool, PoW engine and peer subsystems (see spec §7).
package nodeerr

import "github.com/pkg/errors"

// Kind classifies an error the way the node's callers need to react to it:
// never re-raised as a panic, always logged and optionally audited.
type Kind int

const (
	// KindValidationRejected means the candidate (tx or block) is invalid;
	// it is not retried and may increment a peer's ban score.
	KindValidationRejected Kind = iota
	// KindTransient means a retryable collaborator failure (UTXO fetch, DB read).
	KindTransient
	// KindTimedOut means an explicit deadline elapsed.
	KindTimedOut
	// KindCircuitOpen means the call was short-circuited by a breaker.
	KindCircuitOpen
	// KindRateLimited means the call was dropped by DDoS protection.
	KindRateLimited
	// KindFatal means an unrecoverable local invariant was violated.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidationRejected:
		return "ValidationRejected"
	case KindTransient:
		return "Transient"
	case KindTimedOut:
		return "TimedOut"
	case KindCircuitOpen:
		return "CircuitOpen"
	case KindRateLimited:
		return "RateLimited"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// NodeError is the concrete error type returned across component
// boundaries. Reasons are always enumerable so audit logs can record
// rejection reasons verbatim (spec §7, "exposed verbatim to submitters").
type NodeError struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *NodeError) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *NodeError) Unwrap() error { return e.Cause }

// New builds a NodeError with no wrapped cause.
func New(kind Kind, reason string) *NodeError {
	return &NodeError{Kind: kind, Reason: reason}
}

// Wrap builds a NodeError around an existing error, preserving its stack
// trace via pkg/errors.
func Wrap(kind Kind, reason string, cause error) *NodeError {
	return &NodeError{Kind: kind, Reason: reason, Cause: errors.WithMessage(cause, reason)}
}

// Is reports whether err is a NodeError of the given kind.
func Is(err error, kind Kind) bool {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind == kind
	}
	return false
}
