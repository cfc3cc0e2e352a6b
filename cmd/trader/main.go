// cmd/trader runs the live crossover pipeline: bar feeds, strategy
// evaluation, risk sizing, the daily ledger and broker execution.
//
// Usage:
//
//	trader -config config.yaml [-paper]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crossover-trader/config"
	"crossover-trader/internal/app"
	"crossover-trader/internal/logger"
	"crossover-trader/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $TRADER_CONFIG or config.yaml)")
	paper := flag.Bool("paper", false, "route every order to a paper broker")
	flag.Parse()

	// ---- Load config ----
	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		slog.Error("bad log level", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.App.Name, level)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	m := metrics.New(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.App.MetricsAddr, health, prometheus.DefaultGatherer, log)
	metricsSrv.Start()

	// ---- Pipeline ----
	a, err := app.New(ctx, cfg, app.Options{
		Log:          log,
		Metrics:      m,
		Health:       health,
		PaperBrokers: *paper,
	})
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	log.Info("trader started", "tasks", len(a.Orchestrator.Tasks()), "metrics_addr", cfg.App.MetricsAddr, "paper", *paper)

	runErr := a.Run(ctx)
	if runErr != nil {
		log.Error("pipeline stopped", "error", runErr)
	}

	// ---- Shutdown ----
	a.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)

	snap := a.Ledger.Snapshot()
	log.Info("shutdown complete",
		"trade_count", snap.TradeCount,
		"cumulative_loss", snap.CumulativeLoss,
		"balance", a.Account.Balance(),
		"brokers", a.Router.Brokers(),
	)
	if runErr != nil {
		os.Exit(1)
	}
}
