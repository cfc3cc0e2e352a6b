package portfolio

import (
	"sync"

	"crossover-trader/internal/model"
)

// PnLTracker nets broker fills into per-(broker, symbol) positions and
// reports realized P&L as positions are reduced or flipped.
type PnLTracker struct {
	mu          sync.RWMutex
	fills       []model.Fill
	realizedPnL float64
	positions   map[string]*Position // key = "broker:symbol"
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		fills:     make([]model.Fill, 0, 500),
		positions: make(map[string]*Position),
	}
}

// RecordFill applies fill to its position and returns the P&L it realized.
// Fills that extend a position realize nothing and move the average price.
func (p *PnLTracker) RecordFill(f model.Fill) float64 {
	if f.Quantity <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fills = append(p.fills, f)
	key := f.Broker + ":" + f.Symbol
	pos, ok := p.positions[key]
	if !ok {
		pos = &Position{Symbol: f.Symbol, Broker: f.Broker}
		p.positions[key] = pos
	}
	pos.LastPrice = f.Price

	signed := f.Quantity
	if f.Action == model.ActionSell {
		signed = -signed
	}

	var realized float64
	switch {
	case pos.Qty == 0 || (pos.Qty > 0) == (signed > 0):
		total := abs(pos.Qty) + abs(signed)
		pos.AvgPrice = (pos.AvgPrice*float64(abs(pos.Qty)) + f.Price*float64(abs(signed))) / float64(total)
		pos.Qty += signed
	default:
		closed := min(abs(signed), abs(pos.Qty))
		dir := 1.0
		if pos.Qty < 0 {
			dir = -1
		}
		realized = (f.Price - pos.AvgPrice) * float64(closed) * dir
		pos.Qty += signed
		switch {
		case pos.Qty == 0:
			pos.AvgPrice = 0
		case (pos.Qty > 0) == (signed > 0):
			// flipped through flat; the remainder opens at the fill price
			pos.AvgPrice = f.Price
		}
	}
	p.realizedPnL += realized
	return realized
}

// MarkPrice updates the last price of every position in symbol.
func (p *PnLTracker) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range p.positions {
		if pos.Symbol == symbol {
			pos.LastPrice = price
		}
	}
}

// RealizedPnL returns total realized P&L.
func (p *PnLTracker) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// Positions returns a snapshot of open positions.
func (p *PnLTracker) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Qty != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Fills returns a snapshot of all recorded fills.
func (p *PnLTracker) Fills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// PnLSummary is a point-in-time P&L view.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalFills    int     `json:"total_fills"`
	OpenPositions int     `json:"open_positions"`
}

// Summary returns the current P&L summary, marking positions at their last price.
func (p *PnLTracker) Summary() PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var unrealized float64
	open := 0
	for _, pos := range p.positions {
		if pos.Qty == 0 {
			continue
		}
		open++
		unrealized += pos.UnrealizedPnL()
	}
	return PnLSummary{
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		TotalFills:    len(p.fills),
		OpenPositions: open,
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
