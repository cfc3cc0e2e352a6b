package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignal_BuyStopsBelow(t *testing.T) {
	sig, err := NewSignal("EURUSD", ActionBuy, 100, 7, 14, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 93.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 114.0, sig.TakeProfit, 1e-9)
}

func TestNewSignal_SellMirrors(t *testing.T) {
	sig, err := NewSignal("EURUSD", ActionSell, 100, 7, 14, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 107.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 86.0, sig.TakeProfit, 1e-9)
}

func TestNewSignal_InvalidAction(t *testing.T) {
	_, err := NewSignal("EURUSD", Action("HOLD"), 100, 7, 14, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidAction))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" sell ")
	require.NoError(t, err)
	assert.Equal(t, ActionSell, a)

	_, err = ParseAction("EXIT")
	assert.Error(t, err)
}

func TestBarValidate(t *testing.T) {
	ok := Bar{Symbol: "EURUSD", TS: time.Now(), Open: 1, High: 1.2, Low: 0.9, Close: 1.1}
	assert.NoError(t, ok.Validate())

	cases := map[string]Bar{
		"no symbol":  {TS: time.Now(), Close: 1},
		"no ts":      {Symbol: "A", Close: 1},
		"zero close": {Symbol: "A", TS: time.Now()},
		"high<low":   {Symbol: "A", TS: time.Now(), Close: 1, High: 1, Low: 2},
	}
	for name, b := range cases {
		assert.True(t, errors.Is(b.Validate(), ErrInvalidBar), name)
	}
}
