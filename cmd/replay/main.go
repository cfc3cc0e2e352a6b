// cmd/replay replays historical bars from SQLite through the full pipeline
// (strategies, sizing, the daily ledger) against paper brokers. The ledger
// runs on bar time, so daily limits reset as the replay crosses trading days.
//
// Usage:
//
//	replay -config config.yaml -db data/bars.db [-import bars.csv] [-speed 0] [-from 2024-01-02T00:00:00Z]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossover-trader/config"
	"crossover-trader/internal/app"
	"crossover-trader/internal/logger"
	"crossover-trader/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $TRADER_CONFIG or config.yaml)")
	dbPath := flag.String("db", "data/bars.db", "path to the SQLite bar store")
	journalPath := flag.String("journal", "data/replay-journal.db", "path to the replay order journal")
	importPath := flag.String("import", "", "CSV of bars to load before replaying (symbol,ts,open,high,low,close,volume)")
	speed := flag.Float64("speed", 0, "playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromStr := flag.String("from", "", "replay bars after this RFC3339 instant (default: all)")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	log := logger.Init("replay", level)

	var from time.Time
	if *fromStr != "" {
		if from, err = time.Parse(time.RFC3339, *fromStr); err != nil {
			log.Error("bad -from", "error", err)
			os.Exit(1)
		}
	}

	// ---- Force an offline setup ----
	cfg.Feed.Type = "sqlite"
	cfg.Feed.DBPath = *dbPath
	cfg.Feed.ReplaySpeed = *speed
	cfg.Feed.Warmup = false
	cfg.Redis.Enabled = false
	cfg.SQLite.JournalPath = *journalPath
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{
		Log:          log,
		Metrics:      metrics.Discard(),
		PaperBrokers: true,
		BarClock:     true,
		From:         from,
	})
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *importPath != "" {
		n, err := importCSV(ctx, a.Bars, *importPath)
		if err != nil {
			log.Error("import failed", "path", *importPath, "error", err)
			os.Exit(1)
		}
		log.Info("bars imported", "path", *importPath, "bars", n)
	}

	began := time.Now()
	if err := a.Run(ctx); err != nil {
		log.Error("replay stopped", "error", err)
	}

	snap := a.Ledger.Snapshot()
	acct := a.Account.Status()
	pnl := a.PnL.Summary()

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          REPLAY COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Elapsed:           %-16s ║\n", time.Since(began).Round(time.Millisecond))
	fmt.Printf("║  Last trading day:  %-16s ║\n", snap.DayStart.Format("2006-01-02"))
	fmt.Printf("║  Trades that day:   %-16d ║\n", snap.TradeCount)
	fmt.Printf("║  Loss that day:     %-16.2f ║\n", snap.CumulativeLoss)
	fmt.Printf("║  Fills:             %-16d ║\n", pnl.TotalFills)
	fmt.Printf("║  Open positions:    %-16d ║\n", pnl.OpenPositions)
	fmt.Printf("║  Realized P&L:      %-16.2f ║\n", acct.RealizedPnL)
	fmt.Printf("║  Balance:           %-16.2f ║\n", acct.Balance)
	fmt.Printf("║  Max drawdown %%:    %-16.2f ║\n", acct.MaxDrawdownPct)
	fmt.Println("╚══════════════════════════════════════╝")
}
