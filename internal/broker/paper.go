package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crossover-trader/internal/model"
)

// Paper simulates a broker without network calls. Orders fill immediately at
// the reference price moved against the trader by slippageBps.
type Paper struct {
	guard
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	fills    []model.Fill
	orderSeq int64
}

// NewPaper creates a paper broker.
func NewPaper(cfg Config, log *slog.Logger) *Paper {
	if log == nil {
		log = slog.Default()
	}
	return &Paper{
		cfg:   cfg,
		log:   log.With("component", "broker", "broker", cfg.Name, "type", "paper"),
		fills: make([]model.Fill, 0, 1000),
	}
}

func (p *Paper) Name() string { return p.cfg.Name }

func (p *Paper) Connect(ctx context.Context) error {
	p.life.Lock()
	defer p.life.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.set(StateConnected)
	p.log.Info("connected")
	return nil
}

func (p *Paper) Disconnect(ctx context.Context) error {
	p.life.Lock()
	defer p.life.Unlock()
	p.set(StateDisconnected)
	return nil
}

func (p *Paper) SendOrder(ctx context.Context, o Order) (model.Fill, error) {
	p.life.RLock()
	defer p.life.RUnlock()
	if p.State() != StateConnected {
		return model.Fill{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return model.Fill{}, err
	}

	price := o.RefPrice
	if price > 0 && p.cfg.SlippageBps > 0 {
		slip := price * float64(p.cfg.SlippageBps) / 10000
		if o.Action == model.ActionBuy {
			price += slip // buy higher
		} else {
			price -= slip // sell lower
		}
	}

	p.mu.Lock()
	p.orderSeq++
	id := o.ID
	if id == "" {
		id = fmt.Sprintf("PAPER-%d", p.orderSeq)
	}
	f := model.Fill{
		OrderID:  id,
		Broker:   p.cfg.Name,
		Symbol:   o.Symbol,
		Action:   o.Action,
		Quantity: o.Quantity,
		Price:    price,
		FilledAt: time.Now(),
	}
	p.fills = append(p.fills, f)
	p.mu.Unlock()

	p.log.Debug("paper fill", "order_id", id, "symbol", f.Symbol, "action", o.Action,
		"qty", o.Quantity, "price", price)
	return f, nil
}

// Fills returns a snapshot of all fills.
func (p *Paper) Fills() []model.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
