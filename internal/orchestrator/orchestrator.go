// Package orchestrator runs one task per (strategy, symbol) feed and wires
// each bar through indicator update, crossover evaluation, risk sizing,
// ledger admission and broker dispatch.
//
// Tasks are isolated: a failing feed or dispatch is logged, backed off and
// retried from the next bar without touching sibling tasks. The daily ledger
// and account are shared by every task through their own synchronisation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crossover-trader/internal/broker"
	"crossover-trader/internal/bus"
	"crossover-trader/internal/execution"
	"crossover-trader/internal/feed"
	"crossover-trader/internal/markethours"
	"crossover-trader/internal/metrics"
	"crossover-trader/internal/model"
	"crossover-trader/internal/notification"
	"crossover-trader/internal/portfolio"
	"crossover-trader/internal/strategy"
)

// Router is the execution surface the orchestrator drives.
type Router interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Validate(sig model.Signal) (broker.Order, error)
	Dispatch(ctx context.Context, sig model.Signal) (model.Fill, error)
	Outcomes() <-chan execution.Outcome
}

// SignalPublisher receives every generated signal.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig model.Signal) error
}

// LedgerSaver persists the ledger after every change.
type LedgerSaver interface {
	Save(ctx context.Context, snap portfolio.LedgerSnapshot) error
}

// Config tunes task pacing and sizing.
type Config struct {
	RetryDelay      time.Duration // first backoff after a failed iteration
	MaxRetryDelay   time.Duration // backoff cap
	DispatchTimeout time.Duration // bound on one dispatch, which ignores shutdown
	StopTimeout     time.Duration // bound on waiting for in-flight dispatches
	Risk            portfolio.RiskConfig

	// BarClock admits trades at the bar's timestamp instead of the wall
	// clock, so replayed history rolls the ledger on its own days.
	BarClock bool
}

func (c *Config) defaults() {
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = 30 * c.RetryDelay
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.Risk.PipValue == 0 {
		c.Risk = portfolio.DefaultRiskConfig()
	}
}

// Deps are the collaborators. Router, Ledger and Account are required.
type Deps struct {
	Router    Router
	Ledger    *portfolio.DailyLedger
	Account   *portfolio.Account
	PnL       *portfolio.PnLTracker
	Publisher SignalPublisher
	Store     LedgerSaver
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       *slog.Logger
}

// Sink consumes the outcome stream until it is closed.
type Sink func(ctx context.Context, in <-chan execution.Outcome)

type sink struct {
	name string
	ch   <-chan execution.Outcome
	run  Sink
}

// Orchestrator owns the feed tasks and the outcome fan-out.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	tasks []*Task
	fan   *bus.FanOut[execution.Outcome]
	sinks []sink

	mu         sync.Mutex
	deniedDays map[int64]bool // trading days already alerted, by day start
	ledgerSave sync.Mutex
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.defaults()
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Discard()
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier(deps.Log)
	}
	if deps.PnL == nil {
		deps.PnL = portfolio.NewPnLTracker()
	}
	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With("component", "orchestrator"),
		now:  time.Now,
		fan:  bus.New[execution.Outcome](256),
	}
	o.fan.OnDrop = func(name string) {
		deps.Metrics.FanoutDropsTotal.WithLabelValues(name).Inc()
		o.log.Warn("outcome dropped for slow consumer", "subscriber", name)
	}
	o.AddSink("pnl", o.applyOutcomes)
	return o
}

// AddTask registers a feed task for symbol under strat. Call before Run.
func (o *Orchestrator) AddTask(strat *strategy.Crossover, symbol string, src feed.Source) *Task {
	t := &Task{
		o:      o,
		strat:  strat,
		symbol: symbol,
		src:    src,
		log:    o.deps.Log.With("component", "task", "strategy", strat.Name(), "symbol", symbol),
	}
	o.tasks = append(o.tasks, t)
	return t
}

// AddSink registers a consumer of every dispatch outcome. Call before Run.
// Sinks run until the outcome stream closes at shutdown.
func (o *Orchestrator) AddSink(name string, run Sink) {
	o.sinks = append(o.sinks, sink{name: name, ch: o.fan.Subscribe(name), run: run})
}

// ObserveQueues publishes the backlog of every outcome sink.
func (o *Orchestrator) ObserveQueues() {
	for _, st := range o.fan.ChannelStats() {
		o.deps.Metrics.FanoutQueueDepth.WithLabelValues(st.Name).Set(float64(st.Len))
	}
}

// Tasks returns the registered tasks.
func (o *Orchestrator) Tasks() []*Task { return o.tasks }

// Run connects the brokers, runs every task until ctx is cancelled or all
// feeds are exhausted, then stops the router (waiting for in-flight
// dispatches, disconnecting every broker) and drains the outcome sinks.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.tasks) == 0 {
		return errors.New("orchestrator: no tasks")
	}
	if err := o.deps.Router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	// sinks outlive ctx: they drain until the router closes its stream
	drainCtx := context.WithoutCancel(ctx)
	var sinks sync.WaitGroup
	for _, s := range o.sinks {
		s := s
		sinks.Add(1)
		go func() {
			defer sinks.Done()
			s.run(drainCtx, s.ch)
			o.log.Debug("sink drained", "sink", s.name)
		}()
	}
	fanDone := make(chan struct{})
	go func() {
		o.fan.Run(drainCtx, o.deps.Router.Outcomes())
		close(fanDone)
	}()

	o.log.Info("starting tasks", "tasks", len(o.tasks))
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		t := t
		g.Go(func() error {
			t.run(gctx)
			return nil
		})
	}
	if !o.cfg.BarClock {
		go o.watchDay(gctx)
	}
	g.Wait()

	o.log.Info("tasks stopped, stopping router")
	stopCtx, cancel := context.WithTimeout(drainCtx, o.cfg.StopTimeout)
	defer cancel()
	err := o.deps.Router.Stop(stopCtx)
	<-fanDone
	sinks.Wait()

	for _, t := range o.tasks {
		t.src.Close()
	}
	o.log.Info("orchestrator stopped", "ledger_trades", o.deps.Ledger.Snapshot().TradeCount,
		"balance", o.deps.Account.Balance())
	return err
}

// watchDay rolls the ledger at the day boundary even when no trade is
// admitted, so gauges and the stored snapshot reflect the new day.
func (o *Orchestrator) watchDay(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if o.deps.Ledger.Advance(now) {
				snap := o.deps.Ledger.Snapshot()
				o.log.Info("daily ledger reset", "day_start", snap.DayStart,
					"next_reset_in", markethours.Until(now, snap.Boundary))
				o.observeLedger(ctx)
			}
		}
	}
}

// Process sizes, validates, admits and dispatches one candidate signal. It
// returns an error only for transient dispatch failures; everything else is
// logged and dropped.
func (o *Orchestrator) Process(ctx context.Context, sig model.Signal, log *slog.Logger) error {
	m := o.deps.Metrics

	sized, err := portfolio.Size(sig, o.deps.Account.Balance(), o.cfg.Risk)
	if err != nil {
		reason := "quantity"
		if errors.Is(err, portfolio.ErrNonPositiveStop) {
			reason = "stop"
		}
		m.SizingRejects.WithLabelValues(reason).Inc()
		log.Warn("signal rejected by sizing", "symbol", sig.Symbol, "broker", sig.Broker,
			"action", sig.Action, "reason", err.Error())
		return nil
	}
	sized.OrderID = execution.NewOrderID()

	if _, err := o.deps.Router.Validate(sized); err != nil {
		kind := execution.KindOf(err)
		m.FeedErrors.WithLabelValues(sig.Strategy, kind.String()).Inc()
		log.Warn("signal rejected by router", "symbol", sig.Symbol, "broker", sig.Broker,
			"action", sig.Action, "quantity", sized.Quantity, "kind", kind.String(), "reason", err.Error())
		return nil
	}

	at := o.now()
	if o.cfg.BarClock {
		at = sig.Timestamp
	}
	d := o.deps.Ledger.Admit(at, sized.OrderID, sized.Symbol, sized.Broker)
	if !d.Allowed {
		m.Admissions.WithLabelValues("denied", d.Reason).Inc()
		log.Warn("trade denied", "symbol", sized.Symbol, "broker", sized.Broker, "action", sized.Action,
			"quantity", sized.Quantity, "reason", d.Reason, "trade_count", d.TradeCount,
			"cumulative_loss", d.CumulativeLoss)
		o.alertDenied(ctx, at, sized, d)
		return nil
	}
	m.Admissions.WithLabelValues("allowed", "").Inc()
	log.Info("trade admitted", "order_id", sized.OrderID, "symbol", sized.Symbol, "broker", sized.Broker,
		"action", sized.Action, "quantity", sized.Quantity, "trade_count", d.TradeCount)
	o.observeLedger(ctx)

	// shutdown waits for this dispatch rather than aborting it mid-order
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DispatchTimeout)
	defer cancel()
	if _, err := o.deps.Router.Dispatch(dctx, sized); err != nil {
		if execution.Retryable(err) {
			return err
		}
		if execution.KindOf(err) == execution.KindUnknownBroker {
			o.deps.Notifier.Send(ctx, notification.Alert{
				Level: notification.AlertWarning, Title: "unknown broker",
				Message: err.Error(), Symbol: sized.Symbol, Broker: sized.Broker,
			})
		}
	}
	return nil
}

// alertDenied fires one WARNING per trading day when a limit starts denying.
func (o *Orchestrator) alertDenied(ctx context.Context, at time.Time, sig model.Signal, d portfolio.Decision) {
	day := o.deps.Ledger.SnapshotAt(at).DayStart.Unix()
	o.mu.Lock()
	if o.deniedDays == nil {
		o.deniedDays = make(map[int64]bool)
	}
	first := !o.deniedDays[day]
	o.deniedDays[day] = true
	o.mu.Unlock()
	if !first {
		return
	}
	o.deps.Notifier.Send(ctx, notification.Alert{
		Level:  notification.AlertWarning,
		Title:  "daily limit reached",
		Symbol: sig.Symbol,
		Broker: sig.Broker,
		Message: fmt.Sprintf("%s: %d trades, loss %.2f (limits %d trades, loss %.2f)", d.Reason,
			d.TradeCount, d.CumulativeLoss, o.deps.Ledger.Limits().MaxDailyTrades, o.deps.Ledger.Limits().MaxDailyLoss),
	})
}

// applyOutcomes feeds fills into the P&L tracker; realized losses go to the
// ledger and realized P&L to the account balance.
func (o *Orchestrator) applyOutcomes(ctx context.Context, in <-chan execution.Outcome) {
	m := o.deps.Metrics
	for out := range in {
		if out.Fill == nil {
			continue
		}
		fill := *out.Fill
		if fill.Broker == "" {
			fill.Broker = out.Signal.Broker
		}
		if fill.Symbol == "" {
			fill.Symbol = out.Signal.Symbol
		}
		if fill.Action == "" {
			fill.Action = out.Signal.Action
		}
		realized := o.cfg.Risk.MoneyValue(out.Signal.SecType, o.deps.PnL.RecordFill(fill))
		if realized == 0 {
			continue
		}
		if realized < 0 {
			o.deps.Ledger.RecordLoss(out.OrderID, -realized)
		}
		bal := o.deps.Account.Apply(realized)
		m.AccountBalance.Set(bal)
		m.RealizedPnL.Set(o.deps.Account.Status().RealizedPnL)
		o.log.Info("realized pnl", "order_id", out.OrderID, "symbol", fill.Symbol, "broker", fill.Broker,
			"pnl", realized, "balance", bal)
		o.observeLedger(ctx)
	}
}

func (o *Orchestrator) observeLedger(ctx context.Context) {
	snap := o.deps.Ledger.Snapshot()
	o.deps.Metrics.LedgerTrades.Set(float64(snap.TradeCount))
	o.deps.Metrics.LedgerLoss.Set(snap.CumulativeLoss)
	if o.deps.Store == nil {
		return
	}
	o.ledgerSave.Lock()
	defer o.ledgerSave.Unlock()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.deps.Store.Save(sctx, o.deps.Ledger.Snapshot()); err != nil {
		o.log.Warn("ledger snapshot save failed", "error", err)
	}
}
