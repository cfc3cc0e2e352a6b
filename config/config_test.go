package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/internal/model"
)

const sample = `
app:
  log_level: debug
feed:
  type: ws
  url: ws://localhost:9001/bars
  retry_delay: 2s
brokers:
  ib:
    type: gateway
    port: 4002
    rate_per_sec: 5
  paper:
    type: paper
    slippage_bps: 2
strategies:
  - name: fx_cross
    broker: ib
    symbols:
      - symbol: EURUSD
        sec_type: CASH
      - symbol: ES
        sec_type: FUT
        expiry: "202412"
    params:
      short_ma: 10
      long_ma: 30
    trading_window:
      start: "08:00"
      end: "17:00"
      timezone: America/New_York
      weekdays: true
      holidays: ["2024-12-25"]
`

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "debug", c.App.LogLevel)
	assert.Equal(t, 100000.0, c.Account.Balance)
	assert.Equal(t, 1.0, c.Risk.RiskPerTrade)
	assert.Equal(t, 10.0, c.Risk.PipValue)
	assert.Equal(t, 500.0, c.Risk.MaxDailyLoss)
	assert.Equal(t, 10, c.Risk.MaxDailyTrades)
	assert.Equal(t, 2*time.Second, c.Feed.RetryDelay)
	assert.Equal(t, "127.0.0.1", c.Brokers["ib"].Host)
	assert.Equal(t, 4002, c.Brokers["ib"].Port)
	assert.Equal(t, 1, c.Brokers["ib"].ClientID)

	p := c.Strategies[0].Params
	assert.Equal(t, 7.0, p.SLPercent)
	assert.Equal(t, 14.0, p.TPPercent)
	assert.Equal(t, int64(100000), p.Quantity)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "IDEALPRO", p.Exchange)
}

func TestStrategyParams(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	params, insts, err := c.Strategies[0].StrategyParams()
	require.NoError(t, err)
	assert.Equal(t, "fx_cross", params.Name)
	assert.Equal(t, 10, params.ShortMA)
	require.NotNil(t, params.Window)
	assert.True(t, params.Window.Weekdays)

	require.Len(t, insts, 2)
	assert.Equal(t, model.SecCash, insts[0].SecType)
	assert.Nil(t, insts[0].Terms)
	require.NotNil(t, insts[1].Terms)
	assert.Equal(t, "202412", insts[1].Terms.Expiry)

	brokers := c.BrokerConfigs()
	require.Len(t, brokers, 2)
	assert.Equal(t, "ib", brokers[0].Name)
	assert.Equal(t, int64(2), brokers[1].SlippageBps)
}

func TestValidate_CollectsErrors(t *testing.T) {
	bad := `
feed:
  type: ws
brokers:
  ib: {type: fax}
strategies:
  - name: s
    broker: missing
    symbols:
      - {symbol: X, sec_type: BOND}
      - {symbol: Y, sec_type: OPT, expiry: "202412"}
    params: {short_ma: 0, long_ma: 3}
    trading_window: {start: "25:00", end: "17:00"}
ledger:
  reset_time: noon
`
	c, err := Parse([]byte(bad))
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"ledger.reset_time", "feed.url", "brokers.ib.type", `broker "missing"`,
		"short_ma", "unsupported security type", "incomplete contract", "trading_window",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("risk:\n  max_daily_los: 5\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("BROKER_IB_TOTP_SECRET", "JBSWY3DPEHPK3PXP")

	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", c.Redis.Addr)
	assert.Equal(t, "warn", c.App.LogLevel)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", c.Brokers["ib"].TOTPSecret)
	assert.Empty(t, c.Brokers["paper"].TOTPSecret)
}

func TestLoadAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv("TRADER_CONFIG", path)
	assert.Equal(t, path, Path(""))
	assert.Equal(t, "x.yaml", Path("x.yaml"))

	c, err := Load(Path(""))
	require.NoError(t, err)
	assert.Len(t, c.Strategies, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRiskConfigUnitOverride(t *testing.T) {
	c, err := Parse([]byte(sample + "risk:\n  unit_sizes:\n    STK: 0.05\n"))
	require.NoError(t, err)
	rc := c.RiskConfig()
	assert.Equal(t, 0.05, rc.UnitSizes[model.SecStock])
	assert.Equal(t, 0.0001, rc.UnitSizes[model.SecCash])
}
