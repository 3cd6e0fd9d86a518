package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tommyca/spotengine/internal/engine/types"
)

type fakeKillSwitch struct {
	triggered    bool
	spreadEvents int
}

func (f *fakeKillSwitch) IsTriggered() bool { return f.triggered }
func (f *fakeKillSwitch) RecordSpreadViolation() error {
	f.spreadEvents++
	return nil
}

type fakeInventory struct {
	canSell   bool
	reason    string
	available decimal.Decimal
	clamp     decimal.Decimal
}

func (f *fakeInventory) CanSell(symbol string, qty decimal.Decimal) (bool, string, decimal.Decimal) {
	return f.canSell, f.reason, f.available
}

func (f *fakeInventory) ClampSellQty(symbol string, desired decimal.Decimal) decimal.Decimal {
	return f.clamp
}

func testEngine() (*Engine, *fakeKillSwitch, *fakeInventory) {
	ks := &fakeKillSwitch{}
	inv := &fakeInventory{canSell: true, clamp: decimal.NewFromInt(1)}
	cfg := Config{
		MinConfidence:        0.5,
		AllowLiveTrading:     true,
		MaxDailyLossUsd:      decimal.NewFromInt(1000),
		MaxOpenPositions:     5,
		MaxPositionUsd:       decimal.NewFromInt(10000),
		MaxSpreadBps:         decimal.NewFromInt(50),
		CooldownMinutes:      10,
		FeeRateBps:           decimal.NewFromInt(10),
		EstimatedSlippageBps: decimal.NewFromInt(5),
		SafetyMarginBps:      decimal.NewFromInt(5),
		MinNotionalUsd:       decimal.NewFromInt(10),
		ChopAdxThreshold:     decimal.NewFromInt(20),
		SignalCooldown:       5 * time.Minute,
	}
	return New(cfg, ks, inv), ks, inv
}

func baseRequest() Request {
	return Request{
		Symbol:     "BTCUSD",
		Signal:     types.Signal{Action: types.ActionBuy, Confidence: 0.9},
		Snapshot:   types.NewAccountSnapshot(decimal.NewFromInt(10000)),
		Ticker:     types.Ticker{Bid: decimal.NewFromInt(100), Ask: decimal.NewFromFloat(100.1), Last: decimal.NewFromInt(100)},
		Features:   MarketFeatures{Adx: decimal.NewFromInt(30)},
		DesiredQty: decimal.NewFromInt(10),
		Now:        time.Now(),
	}
}

func TestEngine_AllowsAQualifyingBuy(t *testing.T) {
	e, _, _ := testEngine()
	d := e.Evaluate(baseRequest())
	assert.True(t, d.Allowed)
}

func TestEngine_KillSwitchVetoesFirst(t *testing.T) {
	e, ks, _ := testEngine()
	ks.triggered = true
	d := e.Evaluate(baseRequest())
	assert.False(t, d.Allowed)
	assert.Equal(t, GateKillSwitch, d.BlockedBy)
}

func TestEngine_HoldActionIsVetoed(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Signal.Action = types.ActionHold
	d := e.Evaluate(req)
	assert.Equal(t, GateHoldOrZeroConfidence, d.BlockedBy)
}

func TestEngine_LowConfidenceIsVetoed(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Signal.Confidence = 0.1
	d := e.Evaluate(req)
	assert.Equal(t, GateHoldOrZeroConfidence, d.BlockedBy)
}

func TestEngine_LiveSignalVetoedWhenLiveTradingDisabled(t *testing.T) {
	e, _, _ := testEngine()
	e.cfg.AllowLiveTrading = false
	req := baseRequest()
	req.Live = true
	d := e.Evaluate(req)
	assert.Equal(t, GateModeGate, d.BlockedBy)
}

func TestEngine_DailyLossLimitVetoes(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Snapshot.RealizedPnlUsd = decimal.NewFromInt(-1000)
	d := e.Evaluate(req)
	assert.Equal(t, GateDailyLoss, d.BlockedBy)
}

func TestEngine_MaxOpenPositionsVetoesNewSymbol(t *testing.T) {
	e, _, _ := testEngine()
	e.cfg.MaxOpenPositions = 1
	req := baseRequest()
	req.Snapshot.OpenPositions["ETHUSD"] = types.Position{Symbol: "ETHUSD"}
	d := e.Evaluate(req)
	assert.Equal(t, GateMaxOpenPositions, d.BlockedBy)
}

func TestEngine_MaxOpenPositionsAllowsAddingToExistingSymbol(t *testing.T) {
	e, _, _ := testEngine()
	e.cfg.MaxOpenPositions = 1
	req := baseRequest()
	req.Snapshot.OpenPositions["BTCUSD"] = types.Position{Symbol: "BTCUSD"}
	d := e.Evaluate(req)
	assert.True(t, d.Allowed)
}

func TestEngine_MaxPositionSizeVetoes(t *testing.T) {
	e, _, _ := testEngine()
	e.cfg.MaxPositionUsd = decimal.NewFromInt(100)
	req := baseRequest()
	req.DesiredQty = decimal.NewFromInt(1000)
	d := e.Evaluate(req)
	assert.Equal(t, GateMaxPositionSize, d.BlockedBy)
}

func TestEngine_SpreadGuardVetoesAndRecordsViolation(t *testing.T) {
	e, ks, _ := testEngine()
	req := baseRequest()
	req.Ticker = types.Ticker{Bid: decimal.NewFromInt(90), Ask: decimal.NewFromInt(100)}
	d := e.Evaluate(req)
	assert.Equal(t, GateSpreadGuard, d.BlockedBy)
	assert.Equal(t, 1, ks.spreadEvents)
}

func TestEngine_SignalCooldownBlocksDuplicateWithinWindow(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	d1 := e.Evaluate(req)
	assert.True(t, d1.Allowed)

	req2 := baseRequest()
	req2.Now = req.Now.Add(time.Minute)
	d2 := e.Evaluate(req2)
	assert.Equal(t, GateSignalCooldown, d2.BlockedBy)
}

func TestEngine_SignalCooldownAllowsAfterWindowElapses(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	d1 := e.Evaluate(req)
	assert.True(t, d1.Allowed)

	req2 := baseRequest()
	req2.Now = req.Now.Add(10 * time.Minute)
	d2 := e.Evaluate(req2)
	assert.True(t, d2.Allowed)
}

func TestEngine_CooldownBySymbolVetoesAfterStopOut(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Snapshot.LastStopOutAtBySymbol["BTCUSD"] = req.Now.Add(-time.Minute)
	d := e.Evaluate(req)
	assert.Equal(t, GateCooldownBySymbol, d.BlockedBy)
}

func TestEngine_InventoryGuardVetoesSellWhenDisallowed(t *testing.T) {
	e, _, inv := testEngine()
	inv.canSell = false
	inv.reason = "insufficient available inventory"
	req := baseRequest()
	req.Signal.Action = types.ActionSell
	d := e.Evaluate(req)
	assert.Equal(t, GateInventoryGuard, d.BlockedBy)
	assert.Equal(t, "insufficient available inventory", d.Reason)
}

func TestEngine_SellClampsQuantityFromInventory(t *testing.T) {
	e, _, inv := testEngine()
	inv.clamp = decimal.NewFromInt(3)
	req := baseRequest()
	req.Signal.Action = types.ActionSell
	d := e.Evaluate(req)
	assert.True(t, d.Allowed)
	assert.True(t, d.ClampedQty.Equal(decimal.NewFromInt(3)))
}

func TestEngine_ExpectedEdgeFloorVetoesLowConfidenceEdge(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Signal.Confidence = 0.5
	req.Features.Adx = decimal.NewFromInt(30)
	e.cfg.FeeRateBps = decimal.NewFromInt(400)
	e.cfg.EstimatedSlippageBps = decimal.NewFromInt(100)
	e.cfg.SafetyMarginBps = decimal.NewFromInt(0)
	d := e.Evaluate(req)
	assert.Equal(t, GateExpectedEdgeFloor, d.BlockedBy)
}

func TestEngine_ChopFilterVetoesLowAdx(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.Features.Adx = decimal.NewFromInt(5)
	d := e.Evaluate(req)
	assert.Equal(t, GateChopFilter, d.BlockedBy)
}

func TestEngine_MinNotionalVetoesTinyOrder(t *testing.T) {
	e, _, _ := testEngine()
	req := baseRequest()
	req.DesiredQty = decimal.NewFromFloat(0.01)
	d := e.Evaluate(req)
	assert.Equal(t, GateMinNotional, d.BlockedBy)
}
