// Package app assembles the trading pipeline from a validated config: stores,
// notifier, broker router, ledger, account and one orchestrator task per
// (strategy, symbol).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"crossover-trader/config"
	"crossover-trader/internal/breaker"
	"crossover-trader/internal/broker"
	"crossover-trader/internal/execution"
	"crossover-trader/internal/feed"
	"crossover-trader/internal/metrics"
	"crossover-trader/internal/notification"
	"crossover-trader/internal/orchestrator"
	"crossover-trader/internal/portfolio"
	redisstore "crossover-trader/internal/store/redis"
	sqlitestore "crossover-trader/internal/store/sqlite"
	"crossover-trader/internal/strategy"
)

// Options adjust the wiring for live trading or replay.
type Options struct {
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus

	PaperBrokers bool // replace every broker with a paper connection
	BarClock     bool // admit trades at bar time (replay)
	From         time.Time
}

// App is an assembled pipeline.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *execution.Router
	Ledger       *portfolio.DailyLedger
	Account      *portfolio.Account
	PnL          *portfolio.PnLTracker
	Journal      *sqlitestore.Journal
	Bars         *sqlitestore.BarStore

	log      *slog.Logger
	health   *metrics.HealthStatus
	notifier *notification.Async
	redis    *redisstore.Conn
}

// New builds the pipeline. Any error leaves nothing running; call Close on
// success.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Health == nil {
		opts.Health = metrics.NewHealthStatus()
	}
	log, m, health := opts.Log, opts.Metrics, opts.Health

	a = &App{log: log.With("component", "app"), health: health}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.notifier = notification.NewAsync(buildNotifier(cfg, log), 64, log)

	// ---- SQLite ----
	if dir := filepath.Dir(cfg.SQLite.JournalPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	if a.Journal, err = sqlitestore.NewJournal(cfg.SQLite.JournalPath, log, m); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	health.SetSQLiteOK(true)
	if cfg.Feed.DBPath != "" {
		if a.Bars, err = sqlitestore.OpenBarStore(cfg.Feed.DBPath, log); err != nil {
			return nil, fmt.Errorf("bar store: %w", err)
		}
	}

	// ---- Redis (optional, never fatal) ----
	var (
		publisher *redisstore.Publisher
		ledgerDB  *redisstore.LedgerStore
	)
	health.SetRedisEnabled(cfg.Redis.Enabled)
	if cfg.Redis.Enabled {
		a.redis, err = redisstore.Dial(ctx, redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.log.Warn("redis init failed, continuing without redis", "addr", cfg.Redis.Addr, "error", err)
			err = nil
		} else {
			health.SetRedisConnected(true)
			br := breaker.New("redis", 5, 10*time.Second)
			br.OnStateChange = func(name string, _, to breaker.State) {
				m.BreakerState.WithLabelValues(name).Set(float64(to))
				if to == breaker.StateOpen {
					m.BreakerTrips.WithLabelValues(name).Inc()
				}
			}
			buffered := redisstore.NewBuffered(a.redis, br, 0, log, m)
			buffered.OnFlush = func(n int) {
				m.RedisFlushedWrites.Add(float64(n))
				health.SetRedisConnected(true)
			}
			health.AddSampler(buffered.ObservePending)
			publisher = redisstore.NewPublisher(buffered, log)
			ledgerDB = redisstore.NewLedgerStore(a.redis)
		}
	}
	var rdb *goredis.Client
	if a.redis != nil {
		rdb = a.redis.Raw()
	}
	health.StartLivenessChecker(ctx, rdb, a.Journal.DB(), 10*time.Second)

	// ---- Brokers ----
	a.Router = execution.NewRouter(log, m, health, a.notifier, 1024)
	for _, bc := range cfg.BrokerConfigs() {
		if opts.PaperBrokers {
			bc.Type = "paper"
		}
		conn, err := broker.New(bc, log)
		if err != nil {
			return nil, err
		}
		a.Router.Register(conn, cfg.RouteConfig(bc.Name))
	}

	// ---- Ledger and account ----
	resetAt, loc, err := cfg.LedgerReset()
	if err != nil {
		return nil, err
	}
	if opts.BarClock {
		a.Ledger = portfolio.NewBarClockLedger(cfg.LedgerLimits(), resetAt, loc)
	} else {
		a.Ledger = portfolio.NewDailyLedger(cfg.LedgerLimits(), resetAt, loc, time.Now())
		if ledgerDB != nil {
			a.restoreLedger(ctx, ledgerDB)
		}
	}
	a.Account = portfolio.NewAccount(cfg.Account.Balance)
	a.PnL = portfolio.NewPnLTracker()
	m.AccountBalance.Set(a.Account.Balance())

	// ---- Orchestrator ----
	deps := orchestrator.Deps{
		Router:   a.Router,
		Ledger:   a.Ledger,
		Account:  a.Account,
		PnL:      a.PnL,
		Notifier: a.notifier,
		Metrics:  m,
		Health:   health,
		Log:      log,
	}
	if publisher != nil {
		deps.Publisher = publisher
		deps.Store = ledgerDB
	}
	a.Orchestrator = orchestrator.New(orchestrator.Config{
		RetryDelay:    cfg.Feed.RetryDelay,
		MaxRetryDelay: cfg.Feed.MaxRetryDelay,
		Risk:          cfg.RiskConfig(),
		BarClock:      opts.BarClock,
	}, deps)
	a.Orchestrator.AddSink("journal", a.Journal.Run)
	if publisher != nil {
		a.Orchestrator.AddSink("redis", publisher.Run)
	}
	health.AddSampler(a.Orchestrator.ObserveQueues)

	if err := a.addTasks(ctx, cfg, opts); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) addTasks(ctx context.Context, cfg *config.Config, opts Options) error {
	var reader feed.BarReader
	if a.Bars != nil {
		reader = a.Bars
	}
	fc := feed.Config{
		Type:         cfg.Feed.Type,
		URL:          cfg.Feed.URL,
		FetchTimeout: cfg.Feed.FetchTimeout,
		ReplaySpeed:  cfg.Feed.ReplaySpeed,
		From:         opts.From,
	}
	for _, sc := range cfg.Strategies {
		params, insts, err := sc.StrategyParams()
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
		strat := strategy.NewCrossover(params, insts, a.log)
		for _, inst := range insts {
			if cfg.Feed.Warmup && a.Bars != nil {
				_, long := strat.Tracker().Windows()
				closes, err := a.Bars.LastCloses(ctx, inst.Symbol, long+1)
				if err != nil {
					return fmt.Errorf("warmup %s: %w", inst.Symbol, err)
				}
				snap := strat.Tracker().Warmup(inst.Symbol, closes)
				a.log.Info("indicators warmed up", "strategy", sc.Name, "symbol", inst.Symbol,
					"closes", len(closes), "short", snap.Short.String(), "long", snap.Long.String())
			}
			src, err := feed.Open(fc, inst.Symbol, reader, a.log)
			if err != nil {
				return fmt.Errorf("feed %s: %w", inst.Symbol, err)
			}
			a.Orchestrator.AddTask(strat, inst.Symbol, src)
		}
	}
	return nil
}

func (a *App) restoreLedger(ctx context.Context, store *redisstore.LedgerStore) {
	snap, ok, err := store.Load(ctx)
	switch {
	case err != nil:
		a.log.Warn("ledger restore failed", "error", err)
	case !ok:
	case a.Ledger.Restore(snap):
		a.log.Info("ledger restored", "trade_count", snap.TradeCount, "cumulative_loss", snap.CumulativeLoss)
	default:
		a.log.Info("stored ledger is from another day, starting fresh", "day_start", snap.DayStart)
	}
}

// Run runs the orchestrator until ctx is cancelled or every feed ends.
func (a *App) Run(ctx context.Context) error {
	return a.Orchestrator.Run(ctx)
}

// Close flushes pending alerts and closes the stores.
func (a *App) Close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.Journal != nil {
		a.Journal.Close()
	}
	if a.Bars != nil {
		a.Bars.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Notify.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, log))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log))
	}
	return n
}
