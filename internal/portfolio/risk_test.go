package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossover-trader/internal/model"
)

func fxSignal(price, stop float64) model.Signal {
	return model.Signal{Symbol: "EURUSD", Action: model.ActionBuy, Price: price, StopLoss: stop,
		Quantity: 100000, SecType: model.SecCash}
}

func TestSize_FiftyPipScenario(t *testing.T) {
	sig := fxSignal(1.1000, 1.0950)
	cfg := DefaultRiskConfig()

	assert.True(t, StopDistance(sig, cfg).Equal(decimalFromInt(50)))

	sized, err := Size(sig, 100000, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sized.Quantity)
	assert.Equal(t, int64(100000), sig.Quantity, "input signal must not be mutated")
}

func TestSize_Rejects(t *testing.T) {
	cfg := DefaultRiskConfig()

	_, err := Size(fxSignal(1.1, 1.1), 100000, cfg)
	assert.ErrorIs(t, err, ErrNonPositiveStop)

	// 1% of 100 cannot cover a 500 pip stop at 10 per pip
	_, err = Size(fxSignal(1.1, 1.05), 100, cfg)
	assert.ErrorIs(t, err, ErrNonPositiveQuantity)

	cfg.PipValue = 0
	_, err = Size(fxSignal(1.1, 1.095), 100000, cfg)
	assert.ErrorIs(t, err, ErrNonPositiveQuantity)
}

func TestSize_StockUnits(t *testing.T) {
	sig := model.Signal{Symbol: "AAPL", Action: model.ActionSell, Price: 200, StopLoss: 202, SecType: model.SecStock}
	cfg := RiskConfig{RiskPerTrade: 1, PipValue: 1, UnitSizes: DefaultUnitSizes()}

	// 200 cents of stop at 1 per cent, 1000 at risk
	sized, err := Size(sig, 100000, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sized.Quantity)
}

func TestSize_MonotonicInRisk(t *testing.T) {
	sig := fxSignal(1.2345, 1.2200)
	prev := int64(0)
	for _, pct := range []float64{0.5, 1, 1.5, 2, 3, 5} {
		cfg := DefaultRiskConfig()
		cfg.RiskPerTrade = pct
		sized, err := Size(sig, 250000, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sized.Quantity, prev, "risk %.1f%%", pct)
		prev = sized.Quantity
	}
}

func TestSize_MonotonicInStop(t *testing.T) {
	cfg := DefaultRiskConfig()
	prev := int64(1 << 62)
	for _, pips := range []float64{5, 10, 20, 35, 50, 80} {
		sig := fxSignal(1.3, 1.3-pips*0.0001)
		sized, err := Size(sig, 100000, cfg)
		require.NoError(t, err)
		assert.LessOrEqual(t, sized.Quantity, prev, "%v pips", pips)
		prev = sized.Quantity
	}
}

func TestMoneyValue(t *testing.T) {
	cfg := DefaultRiskConfig()
	// 50 pips on 2 units at 10 per pip
	assert.Equal(t, 1000.0, cfg.MoneyValue(model.SecCash, 0.0050*2))
	assert.Equal(t, -1000.0, cfg.MoneyValue(model.SecCash, -0.0050*2))
}
