package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/config"
	"crossover-trader/internal/execution"
	"crossover-trader/internal/model"
	sqlitestore "crossover-trader/internal/store/sqlite"
)

const replayConfig = `
feed:
  type: sqlite
brokers:
  live:
    type: gateway
    port: 1
strategies:
  - name: stk_cross
    broker: live
    symbols:
      - symbol: AAPL
        sec_type: STK
    params:
      short_ma: 2
      long_ma: 3
      exchange: SMART
`

func seedBars(t *testing.T, path string, closes ...float64) {
	t.Helper()
	store, err := sqlitestore.OpenBarStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	start := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Symbol: "AAPL", TS: start.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c}
	}
	require.NoError(t, store.Insert(context.Background(), bars...))
}

func TestApp_ReplayEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(replayConfig))
	require.NoError(t, err)
	cfg.Feed.DBPath = filepath.Join(dir, "bars.db")
	cfg.SQLite.JournalPath = filepath.Join(dir, "journal", "orders.db")
	require.NoError(t, cfg.Validate())

	seedBars(t, cfg.Feed.DBPath, 10, 10, 10, 12, 8, 7)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, cfg, Options{PaperBrokers: true, BarClock: true})
	require.NoError(t, err)
	defer a.Close()
	require.Len(t, a.Orchestrator.Tasks(), 1)

	require.NoError(t, a.Run(ctx))

	recs, err := a.Journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// newest first
	assert.Equal(t, "SELL", recs[0].Action)
	assert.Equal(t, "BUY", recs[1].Action)
	for _, r := range recs {
		assert.Equal(t, execution.StatusFilled, r.Status)
		assert.Equal(t, "live", r.Broker)
		assert.Equal(t, "AAPL", r.Symbol)
	}

	snap := a.Ledger.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	assert.True(t, snap.DayStart.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), "day start %s", snap.DayStart)
	assert.Equal(t, 2, a.PnL.Summary().TotalFills)
}

func TestApp_RedisUnavailableIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(replayConfig))
	require.NoError(t, err)
	cfg.Feed.DBPath = filepath.Join(dir, "bars.db")
	cfg.SQLite.JournalPath = filepath.Join(dir, "orders.db")
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := New(ctx, cfg, Options{PaperBrokers: true, BarClock: true})
	require.NoError(t, err)
	a.Close()
}

func TestApp_BadJournalPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg, err := config.Parse([]byte(replayConfig))
	require.NoError(t, err)
	cfg.Feed.DBPath = filepath.Join(dir, "bars.db")
	cfg.SQLite.JournalPath = filepath.Join(blocker, "orders.db")

	_, err = New(context.Background(), cfg, Options{BarClock: true})
	assert.Error(t, err)
}
