// Package risk implements the Risk Engine + Trade Gatekeeper component (C8):
// an ordered veto pipeline over thirteen gates, the first block wins. Grounded
// on internal/safety/checker.go's sequential-check style and
// internal/risk/monitor.go's market-feature (ADX/ATR) plumbing, generalized
// from the teacher's leverage/margin focus (a Non-goal here) to the spot
// gate set in SPEC_FULL.md.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// GateName identifies one veto step, surfaced for telemetry as blockedBy.
type GateName string

const (
	GateKillSwitch          GateName = "killSwitch"
	GateHoldOrZeroConfidence GateName = "holdOrZeroConfidence"
	GateModeGate            GateName = "modeGate"
	GateDailyLoss           GateName = "dailyLoss"
	GateMaxOpenPositions    GateName = "maxOpenPositions"
	GateMaxPositionSize     GateName = "maxPositionSize"
	GateSpreadGuard         GateName = "spreadGuard"
	GateSignalCooldown      GateName = "signalCooldown"
	GateCooldownBySymbol    GateName = "cooldownBySymbol"
	GateInventoryGuard      GateName = "inventoryGuard"
	GateExpectedEdgeFloor   GateName = "expectedEdgeFloor"
	GateChopFilter          GateName = "chopFilter"
	GateMinNotional         GateName = "minNotional"
)

// Config holds the thresholds from configuration's risk/guards/gatekeeper
// sections (§6).
type Config struct {
	MinConfidence      float64
	AllowLiveTrading   bool
	MaxDailyLossUsd    decimal.Decimal
	MaxOpenPositions   int
	MaxPositionUsd     decimal.Decimal
	MaxSpreadBps       decimal.Decimal
	CooldownMinutes    int
	SellCooldownMinutes int
	FeeRateBps         decimal.Decimal
	EstimatedSlippageBps decimal.Decimal
	SafetyMarginBps    decimal.Decimal
	MinNotionalUsd     decimal.Decimal
	ChopAdxThreshold   decimal.Decimal
	SignalCooldown     time.Duration // keyed by (symbol, action); zero disables; LoadEngineConfig defaults it to 5 minutes
}

// MarketFeatures carries the ADX/volatility proxies the chop filter needs.
type MarketFeatures struct {
	Adx decimal.Decimal
}

// InventoryGuard is the subset of the Inventory Manager the gatekeeper needs.
type InventoryGuard interface {
	CanSell(symbol string, qty decimal.Decimal) (allowed bool, reason string, availableQty decimal.Decimal)
	ClampSellQty(symbol string, desired decimal.Decimal) decimal.Decimal
}

// KillSwitchReader is the subset of the Kill Switch the gatekeeper needs.
type KillSwitchReader interface {
	IsTriggered() bool
	RecordSpreadViolation() error
}

// Request bundles everything one gate pass evaluates.
type Request struct {
	Symbol          string
	Signal          types.Signal
	Snapshot        *types.AccountSnapshot
	Ticker          types.Ticker
	Features        MarketFeatures
	DesiredQty      decimal.Decimal // projected quantity before any inventory clamp
	Live            bool            // true when this signal would route to the live broker
	Now             time.Time
}

// Decision is the gatekeeper's result. It never raises an error; a vetoed
// signal is DomainBlocked, not a Go error.
type Decision struct {
	Allowed    bool
	Reason     string
	BlockedBy  GateName
	ClampedQty decimal.Decimal // inventoryGuard's clamped sell quantity, when applicable
}

// Engine runs the ordered gate pipeline.
type Engine struct {
	cfg        Config
	killSwitch KillSwitchReader
	inventory  InventoryGuard
	mu         sync.Mutex
	lastSignal map[string]time.Time // key: symbol|action, for the single cooldown dedup point (Open Question c)
}

func New(cfg Config, ks KillSwitchReader, inv InventoryGuard) *Engine {
	return &Engine{cfg: cfg, killSwitch: ks, inventory: inv, lastSignal: make(map[string]time.Time)}
}

// Evaluate runs the thirteen gates in order; the first failing gate wins.
func (e *Engine) Evaluate(req Request) Decision {
	if e.killSwitch.IsTriggered() {
		return deny(GateKillSwitch, "kill switch is triggered")
	}

	if req.Signal.Action == types.ActionHold || req.Signal.Confidence < e.cfg.MinConfidence {
		return deny(GateHoldOrZeroConfidence, "hold or confidence below minimum")
	}

	if req.Live && !e.cfg.AllowLiveTrading {
		return deny(GateModeGate, "live trading disabled")
	}

	totalPnl := req.Snapshot.RealizedPnlUsd.Add(req.Snapshot.UnrealizedPnlUsd)
	if totalPnl.LessThanOrEqual(e.cfg.MaxDailyLossUsd.Neg()) {
		return deny(GateDailyLoss, "daily loss limit reached")
	}

	_, alreadyHeld := req.Snapshot.OpenPositions[req.Symbol]
	if req.Signal.Action == types.ActionBuy && !alreadyHeld && len(req.Snapshot.OpenPositions) >= e.cfg.MaxOpenPositions {
		return deny(GateMaxOpenPositions, "max open positions reached")
	}

	projectedNotional := req.DesiredQty.Mul(req.Ticker.Last)
	if req.Signal.Action == types.ActionBuy && projectedNotional.GreaterThan(e.cfg.MaxPositionUsd) {
		return deny(GateMaxPositionSize, "projected notional exceeds max position size")
	}

	if req.Ticker.Ask.IsPositive() {
		spreadBps := req.Ticker.Ask.Sub(req.Ticker.Bid).Div(req.Ticker.Ask).Mul(decimal.NewFromInt(10000))
		if spreadBps.GreaterThan(e.cfg.MaxSpreadBps) {
			_ = e.killSwitch.RecordSpreadViolation()
			return deny(GateSpreadGuard, "spread exceeds maximum")
		}
	}

	// signalCooldown: the single cooldown dedup point per Open Question (c).
	// The strategy loop (C12) holds no loop-local cooldown map.
	cooldownKey := req.Symbol + "|" + string(req.Signal.Action)
	e.mu.Lock()
	last, onCooldown := e.lastSignal[cooldownKey]
	e.mu.Unlock()
	if onCooldown && req.Now.Sub(last) < e.cfg.SignalCooldown {
		return deny(GateSignalCooldown, "duplicate signal within cooldown window")
	}

	if lastStopOut, ok := req.Snapshot.LastStopOutAtBySymbol[req.Symbol]; ok {
		if req.Now.Sub(lastStopOut) < time.Duration(e.cfg.CooldownMinutes)*time.Minute {
			return deny(GateCooldownBySymbol, "symbol is in post-stop-out cooldown")
		}
	}

	clampedQty := req.DesiredQty
	if req.Signal.Action == types.ActionSell {
		allowed, reason, _ := e.inventory.CanSell(req.Symbol, req.DesiredQty)
		if !allowed {
			return deny(GateInventoryGuard, reason)
		}
		clampedQty = e.inventory.ClampSellQty(req.Symbol, req.DesiredQty)
	}

	expectedEdgeBps := estimateEdgeBps(req)
	floorBps := e.cfg.FeeRateBps.Add(e.cfg.EstimatedSlippageBps).Add(e.cfg.SafetyMarginBps)
	if expectedEdgeBps.LessThanOrEqual(floorBps) {
		return deny(GateExpectedEdgeFloor, "expected edge below fee+slippage+safety floor")
	}

	if req.Features.Adx.LessThan(e.cfg.ChopAdxThreshold) {
		return deny(GateChopFilter, "low-directional market (chop filter)")
	}

	finalNotional := clampedQty.Mul(req.Ticker.Last)
	if finalNotional.LessThan(e.cfg.MinNotionalUsd) {
		return deny(GateMinNotional, "projected notional below exchange minimum")
	}

	e.mu.Lock()
	e.lastSignal[cooldownKey] = req.Now
	e.mu.Unlock()
	return Decision{Allowed: true, ClampedQty: clampedQty}
}

func deny(gate GateName, reason string) Decision {
	return Decision{Allowed: false, Reason: reason, BlockedBy: gate}
}

// estimateEdgeBps is a minimal, deterministic proxy for expected edge: the
// signal's confidence scaled into basis points. Real edge estimation belongs
// to the strategy layer, which is out of scope (§1); the gate only needs a
// comparable bps figure to floor against costs.
func estimateEdgeBps(req Request) decimal.Decimal {
	return decimal.NewFromFloat(req.Signal.Confidence * 100).Mul(decimal.NewFromInt(10))
}
