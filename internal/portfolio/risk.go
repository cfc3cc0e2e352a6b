package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"crossover-trader/internal/model"
)

var (
	// ErrNonPositiveStop means the stop-loss sits on (or was never moved from)
	// the entry price.
	ErrNonPositiveStop = errors.New("stop distance must be positive")
	// ErrNonPositiveQuantity means the risk budget cannot buy a single unit.
	ErrNonPositiveQuantity = errors.New("sized quantity must be positive")
)

// RiskConfig defines per-trade sizing inputs.
type RiskConfig struct {
	RiskPerTrade float64                   `json:"risk_per_trade"` // percent of balance
	PipValue     float64                   `json:"pip_value"`      // account currency per unit of stop distance
	UnitSizes    map[model.SecType]float64 `json:"unit_sizes"`     // price change that equals one unit
}

// DefaultRiskConfig returns 1% risk with a pip value of 10.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		RiskPerTrade: 1,
		PipValue:     10,
		UnitSizes:    DefaultUnitSizes(),
	}
}

// DefaultUnitSizes maps CASH to a 0.0001 pip and everything else to a cent.
func DefaultUnitSizes() map[model.SecType]float64 {
	return map[model.SecType]float64{
		model.SecCash:   0.0001,
		model.SecStock:  0.01,
		model.SecFuture: 0.01,
		model.SecOption: 0.01,
	}
}

func (c RiskConfig) unitSize(st model.SecType) decimal.Decimal {
	if u, ok := c.UnitSizes[st]; ok && u > 0 {
		return decimal.NewFromFloat(u)
	}
	if st == model.SecCash || st == "" {
		return decimal.New(1, -4)
	}
	return decimal.New(1, -2)
}

// StopDistance returns |price - stop_loss| expressed in the instrument's risk unit.
func StopDistance(sig model.Signal, cfg RiskConfig) decimal.Decimal {
	diff := decimal.NewFromFloat(sig.Price).Sub(decimal.NewFromFloat(sig.StopLoss)).Abs()
	return diff.Div(cfg.unitSize(sig.SecType))
}

// Size returns a copy of sig with Quantity set so that hitting the stop loses
// risk_per_trade percent of balance:
//
//	quantity = floor(risk% / 100 * balance / (stop_units * pip_value))
//
// Size has no side effects; a rejected signal must not be dispatched.
func Size(sig model.Signal, balance float64, cfg RiskConfig) (model.Signal, error) {
	stop := StopDistance(sig, cfg)
	if !stop.IsPositive() {
		return sig, fmt.Errorf("%w: price=%v stop=%v", ErrNonPositiveStop, sig.Price, sig.StopLoss)
	}
	riskAmount := decimal.NewFromFloat(cfg.RiskPerTrade).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromFloat(balance))
	perUnit := stop.Mul(decimal.NewFromFloat(cfg.PipValue))
	if !perUnit.IsPositive() {
		return sig, fmt.Errorf("%w: pip value %v", ErrNonPositiveQuantity, cfg.PipValue)
	}

	qty := riskAmount.Div(perUnit).Floor()
	if !qty.IsPositive() {
		return sig, fmt.Errorf("%w: risk=%s stop_units=%s", ErrNonPositiveQuantity, riskAmount, stop)
	}
	sig.Quantity = qty.IntPart()
	return sig, nil
}

// MoneyValue converts a price move times quantity into account currency:
// each risk unit of the move is worth pip_value per unit of quantity.
func (c RiskConfig) MoneyValue(st model.SecType, priceQty float64) float64 {
	v, _ := decimal.NewFromFloat(priceQty).
		Div(c.unitSize(st)).
		Mul(decimal.NewFromFloat(c.PipValue)).
		Round(2).
		Float64()
	return v
}
