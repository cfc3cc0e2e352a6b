package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBroker means the signal names a broker the router does not have.
	ErrUnknownBroker = errors.New("unknown broker")
	// ErrRouterClosed is returned by Dispatch after Stop.
	ErrRouterClosed = errors.New("router closed")
	// ErrInvalidQuantity means the sized quantity is not a positive integer.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Kind classifies dispatch failures.
type Kind int

const (
	// KindInvalid is a signal the router refuses by construction
	// (bad action, quantity or contract) or the broker rejected.
	KindInvalid Kind = iota
	// KindUnknownBroker is a configuration defect.
	KindUnknownBroker
	// KindTransient is a send failure: broker unreachable, timeout, breaker open.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnknownBroker:
		return "unknown_broker"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// DispatchError is the error returned by Router.Dispatch and Router.Validate.
type DispatchError struct {
	Kind   Kind
	Broker string
	Symbol string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s (%s): %v", e.Symbol, e.Broker, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retryable reports whether the same pipeline may succeed on a later bar.
// The router itself never retries a signal.
func (e *DispatchError) Retryable() bool { return e.Kind == KindTransient }

// Retryable reports whether err leaves the signal worth trying again on a
// later bar. Errors that are not DispatchErrors are treated as transient.
func Retryable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return err != nil
}

// KindOf returns the Kind of err, or KindTransient for errors that are not
// DispatchErrors.
func KindOf(err error) Kind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}
