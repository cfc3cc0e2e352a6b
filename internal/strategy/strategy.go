// Package strategy turns bars into candidate trading signals.
//
// A Strategy receives bars in time order per symbol and emits at most one
// Signal per bar. Signals leave the strategy with a placeholder quantity that
// the risk sizer overwrites.
package strategy

import (
	"crossover-trader/internal/model"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnBar is called for each new bar. Return a Signal if the strategy
	// wants to act, or nil to skip.
	OnBar(bar model.Bar) *model.Signal
}

// Phase is the per-symbol evaluator state.
type Phase int

const (
	// PhaseInsufficientData means at least one mean is still absent.
	PhaseInsufficientData Phase = iota
	// PhaseNeutral means both means are present and this bar did not cross.
	PhaseNeutral
	// PhaseSignalEmitted means this bar produced a signal.
	PhaseSignalEmitted
)

func (p Phase) String() string {
	switch p {
	case PhaseInsufficientData:
		return "INSUFFICIENT_DATA"
	case PhaseNeutral:
		return "NEUTRAL"
	case PhaseSignalEmitted:
		return "SIGNAL_EMITTED"
	default:
		return "UNKNOWN"
	}
}

// Instrument describes how a symbol is traded.
type Instrument struct {
	Symbol  string
	SecType model.SecType
	Terms   *model.DerivativeTerms
}
