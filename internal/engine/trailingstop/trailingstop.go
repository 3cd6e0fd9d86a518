// Package trailingstop implements the Trailing Stop Manager component (C10):
// per-symbol activating trailing stops, percent or ATR-based, that ratchet
// upward only after activation. This is the canonical activating/ratcheting
// variant per SPEC_FULL.md's resolution of Open Question (b); the ATR
// parameter is grounded on internal/risk/monitor.go's True-Range-based ATR.
package trailingstop

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// Config holds the activation/trail percentages, or an ATR multiplier when
// ATR is supplied on Update.
type Config struct {
	ActivationPct   decimal.Decimal
	TrailPct        decimal.Decimal
	AtrMultiplier   decimal.Decimal
}

type trackedStop struct {
	types.TrackedTrailingStopState
}

// Manager tracks an activating trailing stop per symbol.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	stops  map[string]*trackedStop
}

func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, stops: make(map[string]*trackedStop)}
}

// OpenPosition records a new position with activated=false.
func (m *Manager) OpenPosition(symbol string, entryPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[symbol] = &trackedStop{types.TrackedTrailingStopState{
		Symbol:      symbol,
		EntryPrice:  entryPrice,
		HighestPrice: entryPrice,
		Activated:   false,
		EntryTime:   time.Now(),
	}}
}

// ClosePosition removes tracking for symbol, e.g. after an exit is executed.
func (m *Manager) ClosePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, symbol)
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	ShouldExit bool
	Reason     string
}

// ExitReasonTrailingStop is the Reason on an UpdateResult (and the downstream
// synthetic sell Signal) when Update signals an exit.
const ExitReasonTrailingStop = "trailing stop hit"

// Update advances the trailing stop for symbol given the latest price (and
// optional ATR). Before activation it watches for the activation threshold;
// after activation the stop only ratchets upward and signals exit once price
// falls to or below the current stop.
func (m *Manager) Update(symbol string, price decimal.Decimal, atr *decimal.Decimal) UpdateResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stops[symbol]
	if !ok {
		return UpdateResult{}
	}

	if !s.Activated {
		gainPct := price.Sub(s.EntryPrice).Div(s.EntryPrice)
		if gainPct.GreaterThanOrEqual(m.cfg.ActivationPct) {
			s.Activated = true
			s.HighestPrice = price
			s.CurrentStopPrice = m.stopFor(price, atr)
		}
		return UpdateResult{}
	}

	if price.GreaterThan(s.HighestPrice) {
		s.HighestPrice = price
		newStop := m.stopFor(price, atr)
		if newStop.GreaterThan(s.CurrentStopPrice) {
			s.CurrentStopPrice = newStop
		}
	}

	if price.LessThanOrEqual(s.CurrentStopPrice) {
		return UpdateResult{ShouldExit: true, Reason: ExitReasonTrailingStop}
	}
	return UpdateResult{}
}

func (m *Manager) stopFor(price decimal.Decimal, atr *decimal.Decimal) decimal.Decimal {
	if atr != nil {
		return price.Sub(atr.Mul(m.cfg.AtrMultiplier))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailPct))
}

// Get returns the current tracked state for symbol, if any.
func (m *Manager) Get(symbol string) (types.TrackedTrailingStopState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stops[symbol]
	if !ok {
		return types.TrackedTrailingStopState{}, false
	}
	return s.TrackedTrailingStopState, true
}
