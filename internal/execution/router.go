// Package execution routes sized signals to broker connections.
//
// The Router owns one route per configured broker. Each route carries a rate
// limiter and a circuit breaker; Dispatch builds the contract, waits for a
// rate slot, reconnects a dropped connection once and submits a market order.
// Failed dispatches are reported, never retried: the feed task re-enters the
// pipeline on its next bar.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"crossover-trader/internal/breaker"
	"crossover-trader/internal/broker"
	"crossover-trader/internal/logger"
	"crossover-trader/internal/metrics"
	"crossover-trader/internal/model"
	"crossover-trader/internal/notification"
)

// Outcome statuses.
const (
	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
	StatusFailed   = "FAILED"
)

// Outcome reports one dispatch attempt.
type Outcome struct {
	OrderID string        `json:"order_id"`
	Signal  model.Signal  `json:"signal"`
	Status  string        `json:"status"`
	Fill    *model.Fill   `json:"fill,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
	At      time.Time     `json:"at"`
}

// RouteConfig limits traffic to one broker.
type RouteConfig struct {
	RatePerSec      float64 // 0 disables rate limiting
	Burst           int
	ConnectTimeout  time.Duration
	OrderTimeout    time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
}

func (c *RouteConfig) defaults() {
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OrderTimeout == 0 {
		c.OrderTimeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = 30 * time.Second
	}
}

type route struct {
	conn    broker.Connection
	cfg     RouteConfig
	limiter *rate.Limiter
	breaker *breaker.Breaker
}

// Router maps broker names to connections and dispatches orders.
type Router struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	notifier notification.Notifier
	routes   map[string]*route
	outcomes chan Outcome

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewRouter creates a router with an outcome buffer of size outcomeBuf.
// m, health and notifier may be nil.
func NewRouter(log *slog.Logger, m *metrics.Metrics, health *metrics.HealthStatus, notifier notification.Notifier, outcomeBuf int) *Router {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	if health == nil {
		health = metrics.NewHealthStatus()
	}
	if notifier == nil {
		notifier = notification.NewLogNotifier(log)
	}
	return &Router{
		log:      log.With("component", "router"),
		metrics:  m,
		health:   health,
		notifier: notifier,
		routes:   make(map[string]*route),
		outcomes: make(chan Outcome, outcomeBuf),
	}
}

// Register adds a broker connection under its name. Register before Start.
func (r *Router) Register(conn broker.Connection, cfg RouteConfig) {
	cfg.defaults()
	lim := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	br := breaker.New(conn.Name(), cfg.BreakerFailures, cfg.BreakerReset)
	br.IsFailure = func(err error) bool { return !errors.Is(err, broker.ErrOrderRejected) }
	br.OnStateChange = func(name string, _, to breaker.State) {
		r.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			r.metrics.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
	r.routes[conn.Name()] = &route{conn: conn, cfg: cfg, limiter: lim, breaker: br}
	r.observe(conn)
}

// Outcomes returns the stream of dispatch outcomes. It is closed by Stop.
func (r *Router) Outcomes() <-chan Outcome { return r.outcomes }

// Brokers returns each broker's current state.
func (r *Router) Brokers() map[string]broker.State {
	out := make(map[string]broker.State, len(r.routes))
	for name, rt := range r.routes {
		out[name] = rt.conn.State()
	}
	return out
}

// Start connects every broker concurrently. A broker that fails to connect is
// logged and alerted but does not stop the others; Dispatch will try it again.
func (r *Router) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range r.routes {
		rt := rt
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, rt.cfg.ConnectTimeout)
			defer cancel()
			err := rt.conn.Connect(cctx)
			r.observe(rt.conn)
			if err != nil {
				r.log.Warn("broker connect failed", "broker", rt.conn.Name(), "error", err)
				r.notifier.Send(ctx, notification.Alert{
					Level:   notification.AlertWarning,
					Title:   "broker connect failed",
					Message: err.Error(),
					Broker:  rt.conn.Name(),
				})
				return nil
			}
			r.log.Info("broker connected", "broker", rt.conn.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Stop refuses new dispatches, waits for in-flight ones (bounded by ctx),
// disconnects every broker and closes the outcome stream.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		r.log.Warn("stop: in-flight dispatches still running", "error", ctx.Err())
	}

	var g errgroup.Group
	for _, rt := range r.routes {
		rt := rt
		g.Go(func() error {
			err := rt.conn.Disconnect(ctx)
			r.observe(rt.conn)
			if err != nil {
				return fmt.Errorf("disconnect %s: %w", rt.conn.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	<-waited
	close(r.outcomes)
	r.log.Info("router stopped")
	return err
}

// NewOrderID returns a fresh client order id.
func NewOrderID() string { return uuid.NewString() }

// Validate performs every check Dispatch does before touching the network:
// action, quantity, broker name and contract construction. It returns the
// order that Dispatch would send.
func (r *Router) Validate(sig model.Signal) (broker.Order, error) {
	fail := func(kind Kind, err error) (broker.Order, error) {
		return broker.Order{}, &DispatchError{Kind: kind, Broker: sig.Broker, Symbol: sig.Symbol, Err: err}
	}
	if !sig.Action.Valid() {
		return fail(KindInvalid, fmt.Errorf("%w: %q", model.ErrInvalidAction, sig.Action))
	}
	if sig.Quantity <= 0 {
		return fail(KindInvalid, fmt.Errorf("%w: %d", ErrInvalidQuantity, sig.Quantity))
	}
	if _, ok := r.routes[sig.Broker]; !ok {
		return fail(KindUnknownBroker, fmt.Errorf("%w: %q", ErrUnknownBroker, sig.Broker))
	}
	contract, err := sig.Contract()
	if err != nil {
		return fail(KindInvalid, err)
	}
	id := sig.OrderID
	if id == "" {
		id = NewOrderID()
	}
	return broker.Order{
		ID:       id,
		Symbol:   sig.Symbol,
		Contract: contract,
		Action:   sig.Action,
		Quantity: sig.Quantity,
		RefPrice: sig.Price,
	}, nil
}

// Dispatch sends sig to its broker and reports the outcome. ctx bounds the
// whole attempt; each route additionally caps it at connect + order timeout.
func (r *Router) Dispatch(ctx context.Context, sig model.Signal) (model.Fill, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return model.Fill{}, &DispatchError{Kind: KindTransient, Broker: sig.Broker, Symbol: sig.Symbol, Err: ErrRouterClosed}
	}
	r.inflight.Add(1)
	r.mu.RUnlock()
	defer r.inflight.Done()

	log := logger.WithTrace(ctx, r.log)
	start := time.Now()

	order, err := r.Validate(sig)
	if err != nil {
		r.finish(log, sig, sig.OrderID, nil, err, start)
		return model.Fill{}, err
	}
	sig.OrderID = order.ID
	rt := r.routes[sig.Broker]

	ctx, cancel := context.WithTimeout(ctx, rt.cfg.ConnectTimeout+rt.cfg.OrderTimeout)
	defer cancel()

	var fill model.Fill
	err = rt.limiter.Wait(ctx)
	if err == nil {
		err = rt.breaker.Execute(func() error {
			if rt.conn.State() == broker.StateDisconnected {
				log.Info("reconnecting broker before dispatch", "broker", sig.Broker)
				cerr := rt.conn.Connect(ctx)
				r.observe(rt.conn)
				if cerr != nil {
					return cerr
				}
			}
			var serr error
			fill, serr = rt.conn.SendOrder(ctx, order)
			return serr
		})
		r.observe(rt.conn)
	}

	if err != nil {
		kind := KindTransient
		if errors.Is(err, broker.ErrOrderRejected) {
			kind = KindInvalid
		}
		derr := &DispatchError{Kind: kind, Broker: sig.Broker, Symbol: sig.Symbol, Err: err}
		r.finish(log, sig, order.ID, nil, derr, start)
		return model.Fill{}, derr
	}
	if fill.Price == 0 {
		fill.Price = sig.Price
	}
	r.finish(log, sig, order.ID, &fill, nil, start)
	return fill, nil
}

func (r *Router) finish(log *slog.Logger, sig model.Signal, orderID string, fill *model.Fill, err error, start time.Time) {
	latency := time.Since(start)
	out := Outcome{
		OrderID: orderID,
		Signal:  sig,
		Fill:    fill,
		Latency: latency,
		At:      time.Now(),
	}
	out.Signal.OrderID = orderID

	result := "filled"
	switch {
	case err == nil:
		out.Status = StatusFilled
		log.Info("order dispatched", "order_id", orderID, "symbol", sig.Symbol, "broker", sig.Broker,
			"action", sig.Action, "quantity", sig.Quantity, "fill_price", fill.Price, "latency", latency)
	default:
		out.Error = err.Error()
		out.Status = StatusFailed
		kind := KindOf(err)
		result = kind.String()
		if kind == KindInvalid || kind == KindUnknownBroker {
			out.Status = StatusRejected
		}
		log.Warn("dispatch failed", "order_id", orderID, "symbol", sig.Symbol, "broker", sig.Broker,
			"action", sig.Action, "quantity", sig.Quantity, "kind", kind.String(), "error", err)
	}
	r.metrics.DispatchTotal.WithLabelValues(sig.Broker, result).Inc()
	if _, ok := r.routes[sig.Broker]; ok {
		r.metrics.DispatchDur.WithLabelValues(sig.Broker).Observe(latency.Seconds())
	}

	select {
	case r.outcomes <- out:
	default:
		log.Warn("outcome stream full, dropping outcome", "order_id", orderID)
	}
}

func (r *Router) observe(conn broker.Connection) {
	st := conn.State()
	r.metrics.BrokerState.WithLabelValues(conn.Name()).Set(float64(st))
	r.health.SetBrokerState(conn.Name(), st.String())
}
