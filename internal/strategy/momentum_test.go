package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tommyca/spotengine/internal/engine/types"
)

func closes(prices ...float64) []types.Candle {
	out := make([]types.Candle, len(prices))
	base := time.Now()
	for i, p := range prices {
		c := decimal.NewFromFloat(p)
		out[i] = types.Candle{OpenTime: base.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func TestMomentum_InsufficientHistoryHolds(t *testing.T) {
	m := NewMomentum(5, decimal.NewFromFloat(1), decimal.NewFromFloat(5))
	sig := m.OnCandle("BTCUSD", closes(100, 101))
	assert.Equal(t, types.ActionHold, sig.Action)
}

func TestMomentum_MoveBelowThresholdHolds(t *testing.T) {
	m := NewMomentum(2, decimal.NewFromFloat(5), decimal.NewFromFloat(10))
	sig := m.OnCandle("BTCUSD", closes(100, 100.5, 100.8))
	assert.Equal(t, types.ActionHold, sig.Action)
}

func TestMomentum_PositiveMoveBuysWithScaledConfidence(t *testing.T) {
	m := NewMomentum(1, decimal.NewFromFloat(1), decimal.NewFromFloat(10))
	sig := m.OnCandle("BTCUSD", closes(100, 105))
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
}

func TestMomentum_NegativeMoveSells(t *testing.T) {
	m := NewMomentum(1, decimal.NewFromFloat(1), decimal.NewFromFloat(10))
	sig := m.OnCandle("BTCUSD", closes(100, 95))
	assert.Equal(t, types.ActionSell, sig.Action)
}

func TestMomentum_ConfidenceClampsAtOne(t *testing.T) {
	m := NewMomentum(1, decimal.NewFromFloat(1), decimal.NewFromFloat(2))
	sig := m.OnCandle("BTCUSD", closes(100, 120))
	assert.Equal(t, types.ActionBuy, sig.Action)
	assert.Equal(t, 1.0, sig.Confidence)
}
