// Package config loads the trader configuration from a YAML file with
// environment overrides. Validate must pass before anything is started.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"crossover-trader/internal/broker"
	"crossover-trader/internal/execution"
	"crossover-trader/internal/markethours"
	"crossover-trader/internal/model"
	"crossover-trader/internal/portfolio"
	"crossover-trader/internal/strategy"
)

// Config is the whole trader configuration.
type Config struct {
	App        App               `yaml:"app"`
	Account    Account           `yaml:"account"`
	Risk       Risk              `yaml:"risk"`
	Ledger     Ledger            `yaml:"ledger"`
	Feed       Feed              `yaml:"feed"`
	Brokers    map[string]Broker `yaml:"brokers"`
	Strategies []Strategy        `yaml:"strategies"`
	Redis      Redis             `yaml:"redis"`
	SQLite     SQLite            `yaml:"sqlite"`
	Notify     Notify            `yaml:"notify"`
}

type App struct {
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type Account struct {
	Balance float64 `yaml:"balance"`
}

type Risk struct {
	RiskPerTrade   float64            `yaml:"risk_per_trade"` // percent
	PipValue       float64            `yaml:"pip_value"`
	MaxDailyLoss   float64            `yaml:"max_daily_loss"`
	MaxDailyTrades int                `yaml:"max_daily_trades"`
	UnitSizes      map[string]float64 `yaml:"unit_sizes"` // sec type -> price unit
}

// Ledger sets the daily reset: ResetTime (HH:MM) in Timezone.
type Ledger struct {
	ResetTime string `yaml:"reset_time"`
	Timezone  string `yaml:"timezone"`
}

type Feed struct {
	Type          string        `yaml:"type"` // ws | sqlite
	URL           string        `yaml:"url"`
	DBPath        string        `yaml:"db_path"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	ReplaySpeed   float64       `yaml:"replay_speed"`
	Warmup        bool          `yaml:"warmup"` // seed indicators from the bar store
}

type Broker struct {
	Type           string        `yaml:"type"` // gateway | paper
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ClientID       int           `yaml:"client_id"`
	TOTPSecret     string        `yaml:"totp_secret"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	OrderTimeout   time.Duration `yaml:"order_timeout"`
	RatePerSec     float64       `yaml:"rate_per_sec"`
	Burst          int           `yaml:"burst"`
	SlippageBps    int64         `yaml:"slippage_bps"`
}

type Symbol struct {
	Symbol  string  `yaml:"symbol"`
	SecType string  `yaml:"sec_type"`
	Expiry  string  `yaml:"expiry"`
	Right   string  `yaml:"right"`
	Strike  float64 `yaml:"strike"`
}

type Params struct {
	ShortMA   int     `yaml:"short_ma"`
	LongMA    int     `yaml:"long_ma"`
	SLPercent float64 `yaml:"sl_percent"`
	TPPercent float64 `yaml:"tp_percent"`
	Quantity  int64   `yaml:"quantity"`
	Currency  string  `yaml:"currency"`
	Exchange  string  `yaml:"exchange"`
}

// Window is an optional trading-time window; an empty Start disables it.
type Window struct {
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Timezone string   `yaml:"timezone"`
	Weekdays bool     `yaml:"weekdays"`
	Holidays []string `yaml:"holidays"`
}

type Strategy struct {
	Name          string   `yaml:"name"`
	Broker        string   `yaml:"broker"`
	Symbols       []Symbol `yaml:"symbols"`
	Params        Params   `yaml:"params"`
	TradingWindow Window   `yaml:"trading_window"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SQLite struct {
	JournalPath string `yaml:"journal_path"`
}

type Notify struct {
	WebhookURL     string `yaml:"webhook_url"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// Load reads path, applies environment overrides and defaults. It does not
// validate.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML, applies environment overrides and defaults.
func Parse(raw []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// Path returns the config path from the flag value, TRADER_CONFIG or the
// default, in that order.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv("TRADER_CONFIG", "config.yaml")
}

func (c *Config) applyEnv() {
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.App.MetricsAddr = getEnv("METRICS_ADDR", c.App.MetricsAddr)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.SQLite.JournalPath = getEnv("JOURNAL_PATH", c.SQLite.JournalPath)
	for name, b := range c.Brokers {
		key := "BROKER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_TOTP_SECRET"
		b.TOTPSecret = getEnv(key, b.TOTPSecret)
		c.Brokers[name] = b
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.App.Name, "crossover-trader")
	setDefault(&c.App.LogLevel, "info")
	setDefault(&c.App.MetricsAddr, ":9090")
	if c.Account.Balance == 0 {
		c.Account.Balance = 100000
	}
	if c.Risk.RiskPerTrade == 0 {
		c.Risk.RiskPerTrade = 1
	}
	if c.Risk.PipValue == 0 {
		c.Risk.PipValue = 10
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 500
	}
	if c.Risk.MaxDailyTrades == 0 {
		c.Risk.MaxDailyTrades = 10
	}
	setDefault(&c.Ledger.ResetTime, "00:00")
	setDefault(&c.Ledger.Timezone, "UTC")
	setDefault(&c.Feed.Type, "ws")
	if c.Feed.FetchTimeout == 0 {
		c.Feed.FetchTimeout = 60 * time.Second
	}
	if c.Feed.RetryDelay == 0 {
		c.Feed.RetryDelay = 5 * time.Second
	}
	if c.Feed.MaxRetryDelay == 0 {
		c.Feed.MaxRetryDelay = time.Minute
	}
	setDefault(&c.Redis.Addr, "localhost:6379")
	setDefault(&c.SQLite.JournalPath, "data/journal.db")

	for name, b := range c.Brokers {
		setDefault(&b.Type, "gateway")
		setDefault(&b.Host, "127.0.0.1")
		if b.Port == 0 {
			b.Port = 7497
		}
		if b.ClientID == 0 {
			b.ClientID = 1
		}
		c.Brokers[name] = b
	}
	for i := range c.Strategies {
		p := &c.Strategies[i].Params
		if p.SLPercent == 0 {
			p.SLPercent = 7
		}
		if p.TPPercent == 0 {
			p.TPPercent = 14
		}
		if p.Quantity == 0 {
			p.Quantity = 100000
		}
		setDefault(&p.Currency, "USD")
		setDefault(&p.Exchange, "IDEALPRO")
	}
}

// Validate reports every configuration defect at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := markethours.ParseClock(c.Ledger.ResetTime); err != nil {
		fail("ledger.reset_time: %w", err)
	}
	if _, err := markethours.LoadLocation(c.Ledger.Timezone); err != nil {
		fail("ledger.timezone: %w", err)
	}
	if c.Account.Balance <= 0 {
		fail("account.balance must be positive")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.PipValue <= 0 {
		fail("risk.risk_per_trade and risk.pip_value must be positive")
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyTrades <= 0 {
		fail("risk.max_daily_loss and risk.max_daily_trades must be positive")
	}
	for st, u := range c.Risk.UnitSizes {
		if _, err := model.ParseSecType(st); err != nil {
			fail("risk.unit_sizes: %w", err)
		}
		if u <= 0 {
			fail("risk.unit_sizes[%s] must be positive", st)
		}
	}
	switch c.Feed.Type {
	case "ws":
		if c.Feed.URL == "" {
			fail("feed.url is required for the ws feed")
		}
	case "sqlite":
		if c.Feed.DBPath == "" {
			fail("feed.db_path is required for the sqlite feed")
		}
	default:
		fail("feed.type %q: want ws or sqlite", c.Feed.Type)
	}
	if c.Feed.Warmup && c.Feed.DBPath == "" {
		fail("feed.warmup needs feed.db_path")
	}

	if len(c.Brokers) == 0 {
		fail("at least one broker is required")
	}
	for name, b := range c.Brokers {
		if b.Type != "gateway" && b.Type != "paper" {
			fail("brokers.%s.type %q: want gateway or paper", name, b.Type)
		}
	}

	if len(c.Strategies) == 0 {
		fail("at least one strategy is required")
	}
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		where := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			fail("%s.name is required", where)
		} else if seen[s.Name] {
			fail("%s.name %q is duplicated", where, s.Name)
		}
		seen[s.Name] = true
		if _, ok := c.Brokers[s.Broker]; !ok {
			fail("%s.broker %q is not configured", where, s.Broker)
		}
		p := s.Params
		if p.ShortMA < 1 || p.LongMA < 1 {
			fail("%s.params: short_ma and long_ma must be >= 1", where)
		}
		if p.SLPercent <= 0 || p.TPPercent <= 0 {
			fail("%s.params: sl_percent and tp_percent must be positive", where)
		}
		if len(s.Symbols) == 0 {
			fail("%s.symbols is empty", where)
		}
		for _, sym := range s.Symbols {
			if _, err := sym.Instrument(); err != nil {
				fail("%s.symbols[%s]: %w", where, sym.Symbol, err)
			}
		}
		if _, err := s.TradingWindow.Parse(); err != nil {
			fail("%s.trading_window: %w", where, err)
		}
	}
	return errors.Join(errs...)
}

// Instrument converts the symbol entry, checking the contract can be built.
func (s Symbol) Instrument() (strategy.Instrument, error) {
	if s.Symbol == "" {
		return strategy.Instrument{}, errors.New("symbol is required")
	}
	st, err := model.ParseSecType(s.SecType)
	if err != nil {
		return strategy.Instrument{}, err
	}
	inst := strategy.Instrument{Symbol: s.Symbol, SecType: st}
	if st == model.SecFuture || st == model.SecOption {
		inst.Terms = &model.DerivativeTerms{
			Expiry: s.Expiry,
			Right:  model.OptionRight(strings.ToUpper(s.Right)),
			Strike: s.Strike,
		}
	}
	if _, err := model.NewContract(inst.Symbol, st, "USD", "", inst.Terms); err != nil {
		return strategy.Instrument{}, err
	}
	return inst, nil
}

// Parse returns the window, or nil when none is configured.
func (w Window) Parse() (*markethours.Window, error) {
	if w.Start == "" && w.End == "" {
		return nil, nil
	}
	win, err := markethours.ParseWindow(w.Start, w.End, w.Timezone)
	if err != nil {
		return nil, err
	}
	win.Weekdays = w.Weekdays
	if len(w.Holidays) > 0 {
		h, err := markethours.ParseHolidays(w.Holidays)
		if err != nil {
			return nil, err
		}
		win.Holidays = h
	}
	return win, nil
}

// StrategyParams builds the evaluator parameters and instruments of s.
// Call after Validate.
func (s Strategy) StrategyParams() (strategy.Params, []strategy.Instrument, error) {
	win, err := s.TradingWindow.Parse()
	if err != nil {
		return strategy.Params{}, nil, err
	}
	insts := make([]strategy.Instrument, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		inst, err := sym.Instrument()
		if err != nil {
			return strategy.Params{}, nil, err
		}
		insts = append(insts, inst)
	}
	return strategy.Params{
		Name:      s.Name,
		Broker:    s.Broker,
		ShortMA:   s.Params.ShortMA,
		LongMA:    s.Params.LongMA,
		SLPercent: s.Params.SLPercent,
		TPPercent: s.Params.TPPercent,
		Quantity:  s.Params.Quantity,
		Currency:  s.Params.Currency,
		Exchange:  s.Params.Exchange,
		Window:    win,
	}, insts, nil
}

// BrokerConfigs returns the broker connection configs sorted by name.
func (c *Config) BrokerConfigs() []broker.Config {
	names := make([]string, 0, len(c.Brokers))
	for n := range c.Brokers {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]broker.Config, 0, len(names))
	for _, n := range names {
		b := c.Brokers[n]
		out = append(out, broker.Config{
			Name:           n,
			Type:           b.Type,
			Host:           b.Host,
			Port:           b.Port,
			ClientID:       b.ClientID,
			TOTPSecret:     b.TOTPSecret,
			ConnectTimeout: b.ConnectTimeout,
			OrderTimeout:   b.OrderTimeout,
			SlippageBps:    b.SlippageBps,
		})
	}
	return out
}

// RiskConfig returns the sizing inputs.
func (c *Config) RiskConfig() portfolio.RiskConfig {
	rc := portfolio.RiskConfig{
		RiskPerTrade: c.Risk.RiskPerTrade,
		PipValue:     c.Risk.PipValue,
		UnitSizes:    portfolio.DefaultUnitSizes(),
	}
	for st, u := range c.Risk.UnitSizes {
		if t, err := model.ParseSecType(st); err == nil {
			rc.UnitSizes[t] = u
		}
	}
	return rc
}

// LedgerLimits returns the daily limits.
func (c *Config) LedgerLimits() portfolio.LedgerLimits {
	return portfolio.LedgerLimits{MaxDailyLoss: c.Risk.MaxDailyLoss, MaxDailyTrades: c.Risk.MaxDailyTrades}
}

// LedgerReset returns the parsed daily reset time and zone. Call after Validate.
func (c *Config) LedgerReset() (markethours.Clock, *time.Location, error) {
	at, err := markethours.ParseClock(c.Ledger.ResetTime)
	if err != nil {
		return 0, nil, err
	}
	loc, err := markethours.LoadLocation(c.Ledger.Timezone)
	return at, loc, err
}

func setDefault(v *string, fallback string) {
	if *v == "" {
		*v = fallback
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// RouteConfig returns the router limits for broker name.
func (c *Config) RouteConfig(name string) execution.RouteConfig {
	b := c.Brokers[name]
	return execution.RouteConfig{
		RatePerSec:     b.RatePerSec,
		Burst:          b.Burst,
		ConnectTimeout: b.ConnectTimeout,
		OrderTimeout:   b.OrderTimeout,
	}
}
