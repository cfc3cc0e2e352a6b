package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/internal/execution"
	"crossover-trader/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func outcome(id, status string, fill *model.Fill) execution.Outcome {
	return execution.Outcome{
		OrderID: id,
		Signal: model.Signal{OrderID: id, Strategy: "sma_cross", Symbol: "EURUSD", Action: model.ActionBuy,
			Price: 1.1, Quantity: 2, Broker: "ib", SecType: model.SecCash, Reason: "golden cross"},
		Status:  status,
		Fill:    fill,
		Latency: 1500 * time.Microsecond,
		At:      t0,
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), nil, nil)
	require.NoError(t, err)
	defer j.Close()
	ctx := context.Background()

	require.NoError(t, j.Record(ctx,
		outcome("a", execution.StatusFilled, &model.Fill{OrderID: "a", Price: 1.1002}),
		outcome("b", execution.StatusFailed, nil),
	))

	recs, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "b", recs[0].OrderID, "newest first")
	assert.Equal(t, execution.StatusFailed, recs[0].Status)
	assert.Zero(t, recs[0].FillPrice)

	a := recs[1]
	assert.Equal(t, "sma_cross", a.Strategy)
	assert.Equal(t, "CASH", a.SecType)
	assert.Equal(t, int64(2), a.Quantity)
	assert.Equal(t, 1.1002, a.FillPrice)
	assert.Equal(t, 1500*time.Microsecond, a.Latency)
	assert.True(t, a.At.Equal(t0))
}

func TestJournal_RunFlushesOnClose(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), nil, nil)
	require.NoError(t, err)
	defer j.Close()

	in := make(chan execution.Outcome, 3)
	in <- outcome("1", execution.StatusFilled, nil)
	in <- outcome("2", execution.StatusFilled, nil)
	in <- outcome("3", execution.StatusRejected, nil)
	close(in)

	done := make(chan struct{})
	go func() {
		j.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after input closed")
	}

	recs, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestJournal_RunFlushesOnCancel(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), nil, nil)
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan execution.Outcome)
	done := make(chan struct{})
	go func() {
		j.Run(ctx, in)
		close(done)
	}()
	in <- outcome("x", execution.StatusFilled, nil)
	cancel()
	<-done

	recs, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBarStore_InsertReadReplayOrder(t *testing.T) {
	s, err := OpenBarStore(filepath.Join(t.TempDir(), "bars.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	mk := func(sym string, min int, c float64) model.Bar {
		return model.Bar{Symbol: sym, TS: t0.Add(time.Duration(min) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	// inserted out of order
	require.NoError(t, s.Insert(ctx, mk("EURUSD", 2, 1.3), mk("EURUSD", 0, 1.1), mk("GBPUSD", 1, 1.27), mk("EURUSD", 1, 1.2)))
	// upsert replaces
	require.NoError(t, s.Insert(ctx, mk("EURUSD", 2, 1.35)))

	bars, err := s.ReadBars(ctx, "EURUSD", time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, []float64{1.1, 1.2, 1.35}, []float64{bars[0].Close, bars[1].Close, bars[2].Close})
	assert.True(t, bars[0].TS.Equal(t0))
	assert.Equal(t, 10.0, bars[0].Volume)

	after, err := s.ReadBars(ctx, "EURUSD", t0)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	closes, err := s.LastCloses(ctx, "EURUSD", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2, 1.35}, closes)

	syms, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, syms)
}

func TestBarStore_InsertRollsBackOnCancelledContext(t *testing.T) {
	s, err := OpenBarStore(filepath.Join(t.TempDir(), "bars.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Insert(ctx, model.Bar{Symbol: "EURUSD", TS: t0, Close: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
