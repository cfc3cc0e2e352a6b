package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"crossover-trader/internal/execution"
	"crossover-trader/internal/feed"
	"crossover-trader/internal/logger"
	"crossover-trader/internal/model"
	"crossover-trader/internal/strategy"
)

// Task drives one (strategy, symbol) feed. Bars are processed strictly in
// arrival order: the next bar is not fetched until the current one has
// passed through the whole pipeline.
type Task struct {
	o      *Orchestrator
	strat  *strategy.Crossover
	symbol string
	src    feed.Source
	log    *slog.Logger

	bars    int
	signals int
}

// Symbol returns the task's symbol.
func (t *Task) Symbol() string { return t.symbol }

// Bars returns the number of bars processed so far. Not safe to call while
// the task runs.
func (t *Task) Bars() int { return t.bars }

// Signals returns the number of signals generated so far. Not safe to call
// while the task runs.
func (t *Task) Signals() int { return t.signals }

// iterError tags a failed iteration with a metrics label.
type iterError struct {
	kind string
	err  error
}

func (e *iterError) Error() string { return e.kind + ": " + e.err.Error() }
func (e *iterError) Unwrap() error { return e.err }

func (t *Task) run(ctx context.Context) {
	cfg := t.o.cfg
	m := t.o.deps.Metrics
	delay := cfg.RetryDelay

	t.log.Info("task started")
	defer t.log.Info("task stopped", "bars", t.bars, "signals", t.signals)

	for {
		if ctx.Err() != nil {
			return
		}
		err := t.step(ctx)
		switch {
		case err == nil:
			delay = cfg.RetryDelay
			continue
		case errors.Is(err, io.EOF):
			t.log.Info("feed exhausted")
			return
		case ctx.Err() != nil:
			return
		}

		kind := "feed"
		var ie *iterError
		if errors.As(err, &ie) {
			kind = ie.kind
		}
		m.FeedErrors.WithLabelValues(t.strat.Name(), kind).Inc()
		m.TaskBackoffs.Inc()
		t.log.Warn("task iteration failed", "kind", kind, "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > cfg.MaxRetryDelay {
			delay = cfg.MaxRetryDelay
		}
	}
}

// step fetches one bar and runs it through the pipeline.
func (t *Task) step(ctx context.Context) error {
	bar, err := t.src.Next(ctx)
	if err != nil {
		switch {
		case !feed.IsTransient(err), ctx.Err() != nil:
			return err
		case errors.Is(err, feed.ErrStale):
			return &iterError{kind: "stale_bar", err: err}
		case errors.Is(err, model.ErrInvalidBar):
			return &iterError{kind: "invalid_bar", err: err}
		}
		return &iterError{kind: "feed", err: err}
	}

	t.bars++
	m := t.o.deps.Metrics
	m.BarsTotal.WithLabelValues(t.strat.Name()).Inc()
	if !t.o.cfg.BarClock {
		m.BarLag.Set(time.Since(bar.TS).Seconds())
	}
	t.o.deps.Health.SetLastBarTime(time.Now())
	t.o.deps.PnL.MarkPrice(bar.Symbol, bar.Close)

	sig := t.strat.OnBar(bar)
	if sig == nil {
		return nil
	}
	t.signals++

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Symbol, bar.TS))
	log := logger.WithTrace(ctx, t.log)
	m.SignalsTotal.WithLabelValues(t.strat.Name(), string(sig.Action)).Inc()
	log.Info("signal generated", "symbol", sig.Symbol, "broker", sig.Broker, "action", sig.Action,
		"price", sig.Price, "stop_loss", sig.StopLoss, "take_profit", sig.TakeProfit, "reason", sig.Reason)

	if p := t.o.deps.Publisher; p != nil {
		if err := p.PublishSignal(ctx, *sig); err != nil {
			log.Warn("publish signal failed", "error", err)
		}
	}

	if err := t.o.Process(ctx, *sig, log); err != nil {
		return &iterError{kind: execution.KindTransient.String(), err: err}
	}
	return nil
}
