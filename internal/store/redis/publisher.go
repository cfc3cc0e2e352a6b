package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"crossover-trader/internal/execution"
	"crossover-trader/internal/model"
)

const (
	signalStream  = "signals"
	orderStreamPf = "orders:"
	streamMaxLen  = 10000
)

// Publisher writes signals and dispatch outcomes to streams, latest keys and
// pub/sub channels:
//
//	signals                               stream of every generated signal
//	signal:latest:<strategy>:<symbol>     last signal per strategy and symbol
//	pub:signal:<symbol>                   live signal feed
//	orders:<broker>                       stream of dispatch outcomes
//	pub:order:<broker>                    live outcome feed
type Publisher struct {
	client Client
	log    *slog.Logger
}

// NewPublisher creates a publisher over c.
func NewPublisher(c Client, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: c, log: log.With("component", "publisher")}
}

// PublishSignal writes one generated signal.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())
	return p.client.Write(ctx, Record{
		Stream:    signalStream,
		MaxLen:    streamMaxLen,
		LatestKey: "signal:latest:" + sig.Strategy + ":" + sig.Symbol,
		Channel:   "pub:signal:" + sig.Symbol,
		Data:      data,
	})
}

// PublishOutcome writes one dispatch outcome.
func (p *Publisher) PublishOutcome(ctx context.Context, out execution.Outcome) error {
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	broker := out.Signal.Broker
	return p.client.Write(ctx, Record{
		Stream:  orderStreamPf + broker,
		MaxLen:  streamMaxLen,
		Channel: "pub:order:" + broker,
		Data:    string(b),
	})
}

// Run publishes outcomes from in until it is closed or ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, in <-chan execution.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			if err := p.PublishOutcome(ctx, out); err != nil {
				p.log.Warn("publish outcome failed", "order_id", out.OrderID, "error", err)
			}
		}
	}
}
