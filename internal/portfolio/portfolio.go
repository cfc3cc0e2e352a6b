// Package portfolio is the risk side of the pipeline: it sizes candidate
// signals against the account balance, gates them through the shared daily
// ledger, and tracks positions and realized P&L from broker fills.
package portfolio

import "sync"

// Position is a net position for one symbol at one broker.
type Position struct {
	Symbol    string  `json:"symbol"`
	Broker    string  `json:"broker"`
	Qty       int64   `json:"qty"` // positive = long, negative = short
	AvgPrice  float64 `json:"avg_price"`
	LastPrice float64 `json:"last_price"`
}

// UnrealizedPnL returns the mark-to-market P&L at LastPrice.
func (p *Position) UnrealizedPnL() float64 {
	return (p.LastPrice - p.AvgPrice) * float64(p.Qty)
}

// Account holds the balance that every task sizes against.
type Account struct {
	mu         sync.RWMutex
	initial    float64
	balance    float64
	peak       float64
	maxDD      float64
	realizedPL float64
}

// NewAccount creates an account with a starting balance.
func NewAccount(balance float64) *Account {
	return &Account{initial: balance, balance: balance, peak: balance}
}

// Balance returns the current balance.
func (a *Account) Balance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// Apply books realized P&L against the balance and returns the new balance.
func (a *Account) Apply(pnl float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += pnl
	a.realizedPL += pnl
	if a.balance > a.peak {
		a.peak = a.balance
	}
	if dd := a.drawdownLocked(); dd > a.maxDD {
		a.maxDD = dd
	}
	return a.balance
}

// AccountStatus is a point-in-time account view.
type AccountStatus struct {
	Initial     float64 `json:"initial"`
	Balance     float64 `json:"balance"`
	Peak        float64 `json:"peak"`
	RealizedPnL float64 `json:"realized_pnl"`
	DrawdownPct float64 `json:"drawdown_pct"`
	// MaxDrawdownPct is the deepest peak-to-trough fall seen so far.
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// Status returns the current account status.
func (a *Account) Status() AccountStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AccountStatus{
		Initial:        a.initial,
		Balance:        a.balance,
		Peak:           a.peak,
		RealizedPnL:    a.realizedPL,
		DrawdownPct:    a.drawdownLocked(),
		MaxDrawdownPct: a.maxDD,
	}
}

func (a *Account) drawdownLocked() float64 {
	if a.peak <= 0 {
		return 0
	}
	return (a.peak - a.balance) / a.peak * 100
}
