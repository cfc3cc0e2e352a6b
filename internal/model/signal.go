package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAction is returned for any action other than BUY or SELL.
var ErrInvalidAction = errors.New("invalid action")

// Action represents a trading direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction normalises s into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Valid reports whether a is one of the enumerated actions.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Signal is a trading instruction derived from strategy logic.
// The evaluator creates it with a placeholder quantity; the risk sizer
// overwrites Quantity before the router dispatches it.
type Signal struct {
	OrderID    string           `json:"order_id,omitempty"` // client order id, set before admission
	Strategy   string           `json:"strategy"`
	Symbol     string           `json:"symbol"`
	Action     Action           `json:"action"`
	Price      float64          `json:"price"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
	Quantity   int64            `json:"quantity"`
	Broker     string           `json:"broker"`
	SecType    SecType          `json:"sec_type"`
	Currency   string           `json:"currency"`
	Exchange   string           `json:"exchange"`
	Terms      *DerivativeTerms `json:"terms,omitempty"`
	Reason     string           `json:"reason"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewSignal builds a candidate signal with stop-loss and take-profit placed
// slPercent/tpPercent away from price. BUY places the stop below and the
// target above the entry; SELL mirrors this.
func NewSignal(symbol string, action Action, price, slPercent, tpPercent float64, ts time.Time) (Signal, error) {
	var sl, tp float64
	switch action {
	case ActionBuy:
		sl = price * (1 - slPercent/100)
		tp = price * (1 + tpPercent/100)
	case ActionSell:
		sl = price * (1 + slPercent/100)
		tp = price * (1 - tpPercent/100)
	default:
		return Signal{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return Signal{
		Symbol:     symbol,
		Action:     action,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Timestamp:  ts,
	}, nil
}

// Contract builds the broker-native contract descriptor for this signal.
func (s *Signal) Contract() (Contract, error) {
	return NewContract(s.Symbol, s.SecType, s.Currency, s.Exchange, s.Terms)
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
