package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crossover-trader/internal/breaker"
	"crossover-trader/internal/metrics"
)

// Buffered wraps a Client with a circuit breaker. While the breaker is open,
// writes are buffered locally and replayed once it closes again. Reads and
// snapshot sets are not buffered.
type Buffered struct {
	Client
	br      *breaker.Breaker
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	buffer []Record
	maxBuf int

	// OnFlush is called after buffered writes are replayed, so Redis is
	// known to be reachable again.
	OnFlush func(count int)
}

// NewBuffered wraps c. maxBuf bounds the buffer; when full the oldest
// record is dropped. Defaults to 10000.
func NewBuffered(c Client, br *breaker.Breaker, maxBuf int, log *slog.Logger, m *metrics.Metrics) *Buffered {
	if maxBuf <= 0 {
		maxBuf = 10000
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	b := &Buffered{
		Client:  c,
		br:      br,
		log:     log.With("component", "redis-buffer"),
		metrics: m,
		buffer:  make([]Record, 0, 256),
		maxBuf:  maxBuf,
	}

	prev := br.OnStateChange
	br.OnStateChange = func(name string, from, to breaker.State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == breaker.StateClosed {
			go b.flush()
		}
	}
	return b
}

// Write sends recs through the breaker, buffering them if it is open.
func (b *Buffered) Write(ctx context.Context, recs ...Record) error {
	start := time.Now()
	err := b.br.Execute(func() error { return b.Client.Write(ctx, recs...) })
	if errors.Is(err, breaker.ErrOpen) {
		b.bufferWrite(recs)
		return nil
	}
	if err == nil {
		b.metrics.RedisWriteDur.Observe(time.Since(start).Seconds())
	}
	return err
}

func (b *Buffered) bufferWrite(recs []Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range recs {
		if len(b.buffer) >= b.maxBuf {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, r)
		b.metrics.RedisBufferedWrites.Inc()
	}
}

// flush replays buffered writes through the underlying client.
func (b *Buffered) flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	toFlush := b.buffer
	b.buffer = make([]Record, 0, 256)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Client.Write(ctx, toFlush...); err != nil {
		b.log.Warn("flush failed, records dropped", "count", len(toFlush), "error", err)
		return
	}
	b.log.Info("flushed buffered writes", "count", len(toFlush))
	if b.OnFlush != nil {
		b.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (b *Buffered) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// ObservePending publishes PendingCount as a gauge.
func (b *Buffered) ObservePending() {
	b.metrics.RedisPendingWrites.Set(float64(b.PendingCount()))
}
