package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	"crossover-trader/internal/indicator"
	"crossover-trader/internal/markethours"
	"crossover-trader/internal/model"
)

// Params configures a crossover evaluator.
type Params struct {
	Name      string
	Broker    string
	ShortMA   int
	LongMA    int
	SLPercent float64
	TPPercent float64
	Quantity  int64 // placeholder, overwritten by the sizer
	Currency  string
	Exchange  string
	Window    *markethours.Window // nil admits every bar
}

// Crossover emits BUY on a golden cross (short rises above long) and SELL on a
// death cross (short falls below long). A bar outside the trading window still
// updates indicator state but never emits.
type Crossover struct {
	params      Params
	tracker     *indicator.Tracker
	instruments map[string]Instrument
	log         *slog.Logger

	mu     sync.Mutex
	phases map[string]Phase
}

// NewCrossover creates a crossover evaluator for the given instruments.
func NewCrossover(p Params, instruments []Instrument, log *slog.Logger) *Crossover {
	if log == nil {
		log = slog.Default()
	}
	inst := make(map[string]Instrument, len(instruments))
	for _, in := range instruments {
		inst[in.Symbol] = in
	}
	return &Crossover{
		params:      p,
		tracker:     indicator.NewTracker(p.ShortMA, p.LongMA),
		instruments: inst,
		log:         log.With("component", "strategy", "strategy", p.Name),
		phases:      make(map[string]Phase),
	}
}

func (c *Crossover) Name() string { return c.params.Name }

// Broker returns the broker this strategy routes to.
func (c *Crossover) Broker() string { return c.params.Broker }

// Tracker exposes the indicator state, used for warm-up.
func (c *Crossover) Tracker() *indicator.Tracker { return c.tracker }

// Phase returns the evaluator phase for symbol after its latest bar.
func (c *Crossover) Phase(symbol string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phases[symbol]
}

// OnBar updates indicator state with bar and returns a signal on a strict
// crossover transition.
func (c *Crossover) OnBar(bar model.Bar) *model.Signal {
	snap := c.tracker.Update(bar.Symbol, bar.Close)

	action, crossed := Cross(snap)
	phase := PhaseNeutral
	switch {
	case !snap.Ready():
		phase = PhaseInsufficientData
	case crossed && !c.params.Window.Contains(bar.TS):
		c.log.Debug("crossover outside trading window",
			"symbol", bar.Symbol, "action", action, "window", c.params.Window.String())
		crossed = false
	case crossed:
		phase = PhaseSignalEmitted
	}

	c.mu.Lock()
	c.phases[bar.Symbol] = phase
	c.mu.Unlock()

	if !crossed {
		return nil
	}
	sig, err := c.candidate(bar, action, snap)
	if err != nil {
		c.log.Error("build signal", "symbol", bar.Symbol, "error", err)
		return nil
	}
	return &sig
}

// Cross applies the transition rule to a snapshot. Both the previous and the
// current mean pair must be present.
func Cross(s indicator.Snapshot) (model.Action, bool) {
	if !s.Ready() || !s.PrevReady() {
		return "", false
	}
	ps, pl := s.PrevShort.Value, s.PrevLong.Value
	cs, cl := s.Short.Value, s.Long.Value
	switch {
	case ps <= pl && cs > cl:
		return model.ActionBuy, true
	case ps >= pl && cs < cl:
		return model.ActionSell, true
	}
	return "", false
}

func (c *Crossover) candidate(bar model.Bar, action model.Action, snap indicator.Snapshot) (model.Signal, error) {
	sig, err := model.NewSignal(bar.Symbol, action, bar.Close, c.params.SLPercent, c.params.TPPercent, bar.TS)
	if err != nil {
		return model.Signal{}, err
	}
	inst, ok := c.instruments[bar.Symbol]
	if !ok {
		inst = Instrument{Symbol: bar.Symbol, SecType: model.SecCash}
	}
	sig.Strategy = c.params.Name
	sig.Quantity = c.params.Quantity
	sig.Broker = c.params.Broker
	sig.SecType = inst.SecType
	sig.Terms = inst.Terms
	sig.Currency = c.params.Currency
	sig.Exchange = c.params.Exchange

	cross := "golden cross (short > long)"
	if action == model.ActionSell {
		cross = "death cross (short < long)"
	}
	sig.Reason = fmt.Sprintf("SMA%d/SMA%d %s: %s/%s",
		c.params.ShortMA, c.params.LongMA, cross, snap.Short, snap.Long)
	return sig, nil
}
