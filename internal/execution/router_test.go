package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/internal/breaker"
	"crossover-trader/internal/broker"
	"crossover-trader/internal/model"
)

// fakeConn is a scriptable broker connection.
type fakeConn struct {
	name       string
	state      atomic.Int32
	connectErr error
	connects   atomic.Int32
	sends      atomic.Int32
	send       func(ctx context.Context, o broker.Order) (model.Fill, error)
}

func newFake(name string) *fakeConn { return &fakeConn{name: name} }

func (f *fakeConn) Name() string         { return f.name }
func (f *fakeConn) State() broker.State { return broker.State(f.state.Load()) }

func (f *fakeConn) Connect(ctx context.Context) error {
	f.connects.Add(1)
	if f.connectErr != nil {
		f.state.Store(int32(broker.StateDisconnected))
		return f.connectErr
	}
	f.state.Store(int32(broker.StateConnected))
	return nil
}

func (f *fakeConn) Disconnect(ctx context.Context) error {
	f.state.Store(int32(broker.StateDisconnected))
	return nil
}

func (f *fakeConn) SendOrder(ctx context.Context, o broker.Order) (model.Fill, error) {
	f.sends.Add(1)
	if f.State() != broker.StateConnected {
		return model.Fill{}, broker.ErrNotConnected
	}
	if f.send != nil {
		return f.send(ctx, o)
	}
	return model.Fill{OrderID: o.ID, Broker: f.name, Symbol: o.Symbol, Action: o.Action, Quantity: o.Quantity, Price: o.RefPrice}, nil
}

func signal(brokerName string) model.Signal {
	return model.Signal{
		Symbol: "EURUSD", Action: model.ActionBuy, Price: 1.1, StopLoss: 1.095, TakeProfit: 1.11,
		Quantity: 2, Broker: brokerName, SecType: model.SecCash, Currency: "USD", Exchange: "IDEALPRO",
	}
}

func newRouter(conns ...broker.Connection) *Router {
	r := NewRouter(nil, nil, nil, nil, 64)
	for _, c := range conns {
		r.Register(c, RouteConfig{OrderTimeout: time.Second, ConnectTimeout: time.Second})
	}
	return r
}

func TestDispatch_Filled(t *testing.T) {
	ib := newFake("ib")
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))

	sig := signal("ib")
	sig.OrderID = "trade-1"
	fill, err := r.Dispatch(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "trade-1", fill.OrderID)
	assert.Equal(t, int64(2), fill.Quantity)

	out := <-r.Outcomes()
	assert.Equal(t, StatusFilled, out.Status)
	assert.Equal(t, "trade-1", out.OrderID)
	require.NotNil(t, out.Fill)
}

func TestDispatch_UnknownBroker(t *testing.T) {
	ib := newFake("ib")
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Dispatch(context.Background(), signal("nope"))
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindUnknownBroker, de.Kind)
	assert.False(t, de.Retryable())
	assert.False(t, Retryable(err))
	assert.ErrorIs(t, err, ErrUnknownBroker)
	assert.Equal(t, int32(0), ib.sends.Load())

	out := <-r.Outcomes()
	assert.Equal(t, StatusRejected, out.Status)
}

func TestValidate_RejectsBeforeNetwork(t *testing.T) {
	r := newRouter(newFake("ib"))

	bad := signal("ib")
	bad.SecType = "BOND"
	_, err := r.Validate(bad)
	assert.ErrorIs(t, err, model.ErrUnsupportedSecurityType)
	assert.Equal(t, KindInvalid, KindOf(err))

	bad = signal("ib")
	bad.Action = "HOLD"
	_, err = r.Validate(bad)
	assert.ErrorIs(t, err, model.ErrInvalidAction)

	bad = signal("ib")
	bad.Quantity = 0
	_, err = r.Validate(bad)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	bad = signal("ib")
	bad.SecType = model.SecFuture
	_, err = r.Validate(bad)
	assert.ErrorIs(t, err, model.ErrIncompleteContract)

	order, err := r.Validate(signal("ib"))
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "EUR", order.Contract.Symbol)
	assert.Equal(t, "USD", order.Contract.Currency)
}

func TestDispatch_TransientFailureNotRetried(t *testing.T) {
	ib := newFake("ib")
	ib.send = func(ctx context.Context, o broker.Order) (model.Fill, error) {
		return model.Fill{}, errors.New("socket reset")
	}
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Dispatch(context.Background(), signal("ib"))
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindTransient, de.Kind)
	assert.True(t, de.Retryable())
	assert.True(t, Retryable(err))
	assert.Equal(t, int32(1), ib.sends.Load(), "router must not loop on the same signal")
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(errors.New("timeout")))
	assert.True(t, Retryable(&DispatchError{Kind: KindTransient, Err: broker.ErrNotConnected}))
	assert.False(t, Retryable(&DispatchError{Kind: KindInvalid, Err: ErrInvalidQuantity}))
	assert.False(t, Retryable(&DispatchError{Kind: KindUnknownBroker, Err: ErrUnknownBroker}))
}

func TestDispatch_BrokerRejectionIsInvalid(t *testing.T) {
	ib := newFake("ib")
	ib.send = func(ctx context.Context, o broker.Order) (model.Fill, error) {
		return model.Fill{}, broker.ErrOrderRejected
	}
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))

	for i := 0; i < 10; i++ {
		_, err := r.Dispatch(context.Background(), signal("ib"))
		assert.Equal(t, KindInvalid, KindOf(err))
	}
	// rejections do not trip the breaker
	_, err := r.Dispatch(context.Background(), signal("ib"))
	assert.NotErrorIs(t, err, breaker.ErrOpen)
}

func TestDispatch_ReconnectsOnce(t *testing.T) {
	ib := newFake("ib")
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))
	require.Equal(t, int32(1), ib.connects.Load())

	ib.Disconnect(context.Background())
	_, err := r.Dispatch(context.Background(), signal("ib"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), ib.connects.Load())
	assert.Equal(t, broker.StateConnected, ib.State())
}

func TestStart_ConnectFailureNotFatal(t *testing.T) {
	bad := newFake("bad")
	bad.connectErr = errors.New("refused")
	good := newFake("good")
	r := newRouter(bad, good)

	require.NoError(t, r.Start(context.Background()))
	states := r.Brokers()
	assert.Equal(t, broker.StateDisconnected, states["bad"])
	assert.Equal(t, broker.StateConnected, states["good"])

	_, err := r.Dispatch(context.Background(), signal("good"))
	assert.NoError(t, err)

	// a dispatch to the failed broker retries connect once and fails transiently
	_, err = r.Dispatch(context.Background(), signal("bad"))
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, int32(2), bad.connects.Load())
}

func TestStop_WaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ib := newFake("ib")
	ib.send = func(ctx context.Context, o broker.Order) (model.Fill, error) {
		close(started)
		<-release
		return model.Fill{OrderID: o.ID, Quantity: o.Quantity, Price: o.RefPrice}, nil
	}
	r := newRouter(ib)
	require.NoError(t, r.Start(context.Background()))

	var dispatchErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, dispatchErr = r.Dispatch(context.Background(), signal("ib"))
	}()
	<-started

	stopped := make(chan struct{})
	go func() {
		r.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a dispatch was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, broker.StateConnected, ib.State(), "must not disconnect under an in-flight order")

	close(release)
	wg.Wait()
	<-stopped
	assert.NoError(t, dispatchErr)
	assert.Equal(t, broker.StateDisconnected, ib.State())

	// outcome stream drains then closes
	n := 0
	for range r.Outcomes() {
		n++
	}
	assert.Equal(t, 1, n)

	_, err := r.Dispatch(context.Background(), signal("ib"))
	assert.ErrorIs(t, err, ErrRouterClosed)
}

func TestDispatch_RateLimited(t *testing.T) {
	ib := newFake("ib")
	r := NewRouter(nil, nil, nil, nil, 64)
	r.Register(ib, RouteConfig{RatePerSec: 20, Burst: 1})
	require.NoError(t, r.Start(context.Background()))

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := r.Dispatch(context.Background(), signal("ib"))
		require.NoError(t, err)
	}
	// burst 1 at 20/s: three waits of ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestDispatch_BreakerOpensOnRepeatedFailures(t *testing.T) {
	ib := newFake("ib")
	ib.send = func(ctx context.Context, o broker.Order) (model.Fill, error) {
		return model.Fill{}, errors.New("gateway down")
	}
	r := NewRouter(nil, nil, nil, nil, 64)
	r.Register(ib, RouteConfig{BreakerFailures: 2, BreakerReset: time.Minute})
	require.NoError(t, r.Start(context.Background()))

	r.Dispatch(context.Background(), signal("ib"))
	r.Dispatch(context.Background(), signal("ib"))
	_, err := r.Dispatch(context.Background(), signal("ib"))
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, int32(2), ib.sends.Load())
}
