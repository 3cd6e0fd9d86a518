// Package strategy holds the one default Strategy implementation shipped
// with the engine. Strategy indicator math (EMA/RSI/MACD etc.) is out of
// scope for the core; this package exists only so cmd/tradingd has something
// concrete to wire behind loops.Strategy, and is meant to be replaced.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// Momentum emits BUY/SELL on the sign of the percent change over LookbackBars
// closes, with confidence scaled by the magnitude of that change, clamped to
// [0,1]. It holds below MinMovePct. This is a reference strategy, not a
// production signal generator.
type Momentum struct {
	LookbackBars int
	MinMovePct   decimal.Decimal
	MaxMovePct   decimal.Decimal // the move magnitude that saturates confidence at 1.0
}

func NewMomentum(lookbackBars int, minMovePct, maxMovePct decimal.Decimal) *Momentum {
	return &Momentum{LookbackBars: lookbackBars, MinMovePct: minMovePct, MaxMovePct: maxMovePct}
}

func (m *Momentum) OnCandle(symbol string, recent []types.Candle) types.Signal {
	if len(recent) <= m.LookbackBars {
		return types.Signal{Action: types.ActionHold, Reason: "insufficient history"}
	}

	latest := recent[len(recent)-1]
	past := recent[len(recent)-1-m.LookbackBars]
	if past.Close.IsZero() {
		return types.Signal{Action: types.ActionHold, Reason: "zero reference price"}
	}

	movePct := latest.Close.Sub(past.Close).Div(past.Close).Mul(decimal.NewFromInt(100))
	absMove := movePct.Abs()

	if absMove.LessThan(m.MinMovePct) {
		return types.Signal{Action: types.ActionHold, Reason: "move below threshold"}
	}

	confidence := 1.0
	if m.MaxMovePct.IsPositive() {
		ratio := absMove.Div(m.MaxMovePct).InexactFloat64()
		if ratio < confidence {
			confidence = ratio
		}
	}

	action := types.ActionBuy
	if movePct.IsNegative() {
		action = types.ActionSell
	}
	return types.Signal{Action: action, Confidence: confidence, Reason: "momentum over lookback window"}
}
