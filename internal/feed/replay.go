package feed

import (
	"context"
	"io"
	"log/slog"
	"time"

	"crossover-trader/internal/model"
)

// maxReplayGap caps the simulated wait between two replayed bars.
const maxReplayGap = 5 * time.Second

// BarReader loads stored bar history.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, after time.Time) ([]model.Bar, error)
}

// ReplaySource replays stored bars for one symbol. speed controls the
// playback rate: 1.0 = real time, 10.0 = 10x, 0 = as fast as possible.
type ReplaySource struct {
	reader BarReader
	symbol string
	from   time.Time
	speed  float64
	log    *slog.Logger

	loaded  bool
	bars    []model.Bar
	pos     int
	prevTS  time.Time
	emitted int
}

// NewReplaySource creates a source that loads its history on first Next.
func NewReplaySource(reader BarReader, symbol string, from time.Time, speed float64, log *slog.Logger) *ReplaySource {
	if log == nil {
		log = slog.Default()
	}
	return &ReplaySource{
		reader: reader,
		symbol: symbol,
		from:   from,
		speed:  speed,
		log:    log.With("component", "replay", "symbol", symbol),
	}
}

func (r *ReplaySource) Next(ctx context.Context) (model.Bar, error) {
	if !r.loaded {
		bars, err := r.reader.ReadBars(ctx, r.symbol, r.from)
		if err != nil {
			return model.Bar{}, err
		}
		r.bars, r.loaded = bars, true
		r.log.Info("loaded bars", "count", len(bars), "speed", r.speed)
	}
	if r.pos >= len(r.bars) {
		if r.pos == len(r.bars) {
			r.log.Info("replay completed", "bars", r.emitted)
			r.pos++
		}
		return model.Bar{}, io.EOF
	}

	bar := r.bars[r.pos]
	if r.speed > 0 && !r.prevTS.IsZero() {
		if gap := bar.TS.Sub(r.prevTS); gap > 0 {
			wait := time.Duration(float64(gap) / r.speed)
			if wait > maxReplayGap {
				wait = maxReplayGap
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return model.Bar{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	r.prevTS = bar.TS
	r.pos++
	r.emitted++
	return bar, nil
}

func (r *ReplaySource) Close() error { return nil }
