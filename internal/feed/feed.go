// Package feed provides Bar Source adapters for the orchestrator.
//
// A Source yields bars for one symbol in timestamp order. Next blocks until a
// bar is available, the source is exhausted (io.EOF), ctx is cancelled, or a
// transient failure occurs; the caller decides whether and when to call Next
// again.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"crossover-trader/internal/model"
)

var (
	// ErrStale is returned for a bar whose timestamp is not after the last
	// accepted bar of the same symbol.
	ErrStale = errors.New("stale bar")
	// ErrFetchTimeout is returned when no bar arrives within the fetch timeout.
	ErrFetchTimeout = errors.New("fetch timeout")
	// ErrUnknownType is returned by Open for an unrecognised feed type.
	ErrUnknownType = errors.New("unknown feed type")
)

// Source yields time-ordered bars.
type Source interface {
	Next(ctx context.Context) (model.Bar, error)
	Close() error
}

// Config selects and tunes a source.
type Config struct {
	Type         string        // ws | sqlite
	URL          string        // ws: bar stream URL
	FetchTimeout time.Duration // ws: max wait per bar
	ReplaySpeed  float64       // sqlite: 0 = as fast as possible, 1 = real time
	From         time.Time     // sqlite: replay bars strictly after this instant
}

// Open builds the source for one symbol. bars is required for the sqlite type.
func Open(cfg Config, symbol string, bars BarReader, log *slog.Logger) (Source, error) {
	var src Source
	switch cfg.Type {
	case "ws", "":
		src = NewWSSource(WSConfig{URL: cfg.URL, Symbol: symbol, FetchTimeout: cfg.FetchTimeout}, log)
	case "sqlite":
		if bars == nil {
			return nil, fmt.Errorf("feed %s: sqlite source needs a bar store", symbol)
		}
		src = NewReplaySource(bars, symbol, cfg.From, cfg.ReplaySpeed, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	return Ordered(src), nil
}

// Ordered wraps src so that invalid bars and bars that do not advance the
// symbol's timestamp are reported as errors instead of being passed on.
func Ordered(src Source) Source {
	return &ordered{Source: src, last: make(map[string]time.Time)}
}

type ordered struct {
	Source
	last map[string]time.Time
}

func (o *ordered) Next(ctx context.Context) (model.Bar, error) {
	bar, err := o.Source.Next(ctx)
	if err != nil {
		return bar, err
	}
	if err := bar.Validate(); err != nil {
		return model.Bar{}, err
	}
	if last, ok := o.last[bar.Symbol]; ok && !bar.TS.After(last) {
		return model.Bar{}, fmt.Errorf("%w: %s at %s, last %s", ErrStale, bar.Symbol,
			bar.TS.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	o.last[bar.Symbol] = bar.TS
	return bar, nil
}

// ChanSource reads bars from a channel. A closed channel yields io.EOF.
type ChanSource struct {
	ch <-chan model.Bar
}

// NewChanSource wraps ch.
func NewChanSource(ch <-chan model.Bar) *ChanSource { return &ChanSource{ch: ch} }

func (s *ChanSource) Next(ctx context.Context) (model.Bar, error) {
	select {
	case <-ctx.Done():
		return model.Bar{}, ctx.Err()
	case bar, ok := <-s.ch:
		if !ok {
			return model.Bar{}, io.EOF
		}
		return bar, nil
	}
}

func (s *ChanSource) Close() error { return nil }

// IsTransient reports whether err from Next is worth retrying: anything but
// exhaustion or cancellation.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, io.EOF) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
