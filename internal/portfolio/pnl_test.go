package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"crossover-trader/internal/model"
)

func decimalFromInt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func fill(action model.Action, qty int64, price float64) model.Fill {
	return model.Fill{OrderID: "o", Broker: "ib", Symbol: "EURUSD", Action: action, Quantity: qty, Price: price}
}

func TestPnL_LongRoundTrip(t *testing.T) {
	p := NewPnLTracker()
	assert.Equal(t, 0.0, p.RecordFill(fill(model.ActionBuy, 10, 100)))
	assert.Equal(t, 0.0, p.RecordFill(fill(model.ActionBuy, 10, 110)))

	pos := p.Positions()
	if assert.Len(t, pos, 1) {
		assert.Equal(t, int64(20), pos[0].Qty)
		assert.InDelta(t, 105, pos[0].AvgPrice, 1e-9)
	}

	assert.InDelta(t, -50, p.RecordFill(fill(model.ActionSell, 10, 100)), 1e-9)
	assert.InDelta(t, 150, p.RecordFill(fill(model.ActionSell, 10, 120)), 1e-9)
	assert.Empty(t, p.Positions())
	assert.InDelta(t, 100, p.RealizedPnL(), 1e-9)
}

func TestPnL_ShortAndFlip(t *testing.T) {
	p := NewPnLTracker()
	p.RecordFill(fill(model.ActionSell, 5, 50))

	// buy 8: closes 5 short at a 10 loss each, opens 3 long at 60
	assert.InDelta(t, -50, p.RecordFill(fill(model.ActionBuy, 8, 60)), 1e-9)
	pos := p.Positions()
	if assert.Len(t, pos, 1) {
		assert.Equal(t, int64(3), pos[0].Qty)
		assert.Equal(t, 60.0, pos[0].AvgPrice)
	}

	p.MarkPrice("EURUSD", 70)
	s := p.Summary()
	assert.InDelta(t, 30, s.UnrealizedPnL, 1e-9)
	assert.InDelta(t, -20, s.TotalPnL, 1e-9)
	assert.Equal(t, 2, s.TotalFills)
	assert.Equal(t, 1, s.OpenPositions)
}

func TestAccount_Apply(t *testing.T) {
	a := NewAccount(100000)
	a.Apply(500)
	a.Apply(-1000)

	st := a.Status()
	assert.Equal(t, 99500.0, st.Balance)
	assert.Equal(t, 100500.0, st.Peak)
	assert.InDelta(t, 1000.0/100500*100, st.DrawdownPct, 1e-9)
	assert.InDelta(t, st.DrawdownPct, st.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 99500.0, a.Balance())
}

func TestAccount_MaxDrawdownSurvivesRecovery(t *testing.T) {
	a := NewAccount(1000)
	a.Apply(-200)
	a.Apply(300)
	a.Apply(-55)

	st := a.Status()
	assert.Equal(t, 1100.0, st.Peak)
	assert.InDelta(t, 5, st.DrawdownPct, 1e-9)
	assert.InDelta(t, 20, st.MaxDrawdownPct, 1e-9)
}
