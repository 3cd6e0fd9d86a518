// Package inventory implements the Inventory Manager component (C4):
// authoritative cash and per-symbol base-asset balances with an
// available/reserved split, hydrated and resynced from the exchange. The
// serialize-all-mutations-per-instance discipline and weighted-average-entry
// fill accounting are grounded on
// internal/trading/position/manager.go's SuperPositionManager.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// ExchangeAdapter is the subset of the exchange interface the Inventory
// Manager needs to hydrate and resync.
type ExchangeAdapter interface {
	GetBalances(ctx context.Context) ([]types.Balance, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)
}

// DustEpsilon is subtracted from sellable quantity so the exchange never
// rejects a sell for a rounding-dust amount.
var DustEpsilon = decimal.New(1, -8)

// Diff describes a discrepancy corrected during Resync, for alerting.
type Diff struct {
	Symbol      string
	Field       string // "cash" or "quantity"
	LocalValue  decimal.Decimal
	RemoteValue decimal.Decimal
}

// resyncEpsilon bounds how much local/remote may differ before it is treated
// as drift rather than noise.
var resyncEpsilon = decimal.New(1, -6)

// quoteAssets are the cash-equivalent suffixes a trading symbol is built
// from (e.g. "BTCUSD" = base "BTC" + quote "USD").
var quoteAssets = []string{"USDT", "USDC", "USD"}

func isCashAsset(asset string) bool {
	for _, q := range quoteAssets {
		if asset == q {
			return true
		}
	}
	return false
}

// baseAssetOf strips a known quote suffix from a trading symbol, e.g.
// "BTCUSD" -> "BTC".
func baseAssetOf(symbol string) string {
	for _, q := range quoteAssets {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return strings.TrimSuffix(symbol, q)
		}
	}
	return symbol
}

// assetToSymbol maps each configured symbol's base asset code (e.g. "BTC")
// to its full trading-pair symbol (e.g. "BTCUSD"), so a balance reported by
// bare asset code resolves to the key CanSell/Reserve/ConfirmFill read.
func assetToSymbol(symbols []string) map[string]string {
	m := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		m[baseAssetOf(sym)] = sym
	}
	return m
}

// resolveSymbol looks up asset's trading symbol in byAsset, falling back to
// asset itself when it is already the symbol (or unknown).
func resolveSymbol(byAsset map[string]string, asset string) string {
	if sym, ok := byAsset[asset]; ok {
		return sym
	}
	return asset
}

// Manager is the single authoritative owner of inventory state. All mutating
// methods serialize on mu; callers must never hold it across an exchange call.
type Manager struct {
	mu        sync.Mutex
	cashUsd   decimal.Decimal
	available map[string]decimal.Decimal
	reserved  map[string]decimal.Decimal
	positions map[string]types.Position
	lastSync  int64
}

func New() *Manager {
	return &Manager{
		available: make(map[string]decimal.Decimal),
		reserved:  make(map[string]decimal.Decimal),
		positions: make(map[string]types.Position),
	}
}

// HydrateFromExchange pulls balances and open orders from the exchange,
// seeding available from free balance, reserved from locked balance, and
// importing each open sell's remaining quantity into reserved.
func (m *Manager) HydrateFromExchange(ctx context.Context, adapter ExchangeAdapter, symbols []string) error {
	balances, err := adapter.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("inventory: hydrate: get balances: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byAsset := assetToSymbol(symbols)
	for _, b := range balances {
		if isCashAsset(b.Asset) {
			m.cashUsd = b.Free
			continue
		}
		symbol := resolveSymbol(byAsset, b.Asset)
		m.available[symbol] = b.Free
		m.reserved[symbol] = b.Locked
	}

	for _, symbol := range symbols {
		openOrders, err := adapter.ListOpenOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("inventory: hydrate: open orders for %s: %w", symbol, err)
		}
		for _, o := range openOrders {
			if o.Side != types.SideSell {
				continue
			}
			remaining := o.RequestedQty.Sub(o.FilledQty)
			if remaining.IsPositive() {
				m.reserved[symbol] = m.reserved[symbol].Add(remaining)
			}
		}
	}

	return nil
}

// CanSell reports whether qty of symbol can be sold given available minus the
// dust buffer.
func (m *Manager) CanSell(symbol string, qty decimal.Decimal) (allowed bool, reason string, availableQty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	avail := m.available[symbol]
	sellable := avail.Sub(DustEpsilon)
	if sellable.LessThan(qty) {
		return false, "insufficient available inventory", sellable
	}
	return true, "", sellable
}

// ClampSellQty returns the largest sellable quantity <= desired.
func (m *Manager) ClampSellQty(symbol string, desired decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	sellable := m.available[symbol].Sub(DustEpsilon)
	if sellable.IsNegative() {
		return decimal.Zero
	}
	if desired.LessThanOrEqual(sellable) {
		return desired
	}
	return sellable
}

// Reserve atomically moves qty from available to reserved for orderID.
func (m *Manager) Reserve(symbol string, qty decimal.Decimal, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.available[symbol].LessThan(qty) {
		return fmt.Errorf("inventory: insufficient available %s to reserve %s for order %s", symbol, qty, orderID)
	}
	m.available[symbol] = m.available[symbol].Sub(qty)
	m.reserved[symbol] = m.reserved[symbol].Add(qty)
	return nil
}

// ReleaseReservation is the inverse of Reserve, used on cancel/reject.
func (m *Manager) ReleaseReservation(symbol string, qty decimal.Decimal, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	release := qty
	if m.reserved[symbol].LessThan(release) {
		release = m.reserved[symbol]
	}
	m.reserved[symbol] = m.reserved[symbol].Sub(release)
	m.available[symbol] = m.available[symbol].Add(release)
	return nil
}

// ConfirmFill applies a fill's cash and quantity effects and updates the
// weighted-average-entry position record.
func (m *Manager) ConfirmFill(order types.Order, fillPrice, fees decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := order.Symbol
	qty := order.FilledQty
	notional := qty.Mul(fillPrice)

	switch order.Side {
	case types.SideSell:
		dec := qty
		if m.reserved[symbol].LessThan(dec) {
			dec = m.reserved[symbol]
			remainder := qty.Sub(dec)
			if m.available[symbol].LessThan(remainder) {
				return fmt.Errorf("inventory: oversold %s: no reservation or available balance to cover fill", symbol)
			}
			m.available[symbol] = m.available[symbol].Sub(remainder)
		}
		m.reserved[symbol] = m.reserved[symbol].Sub(dec)
		m.cashUsd = m.cashUsd.Add(notional).Sub(fees)

		pos := m.positions[symbol]
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.LessThan(types.DustEpsilon) {
			delete(m.positions, symbol)
		} else {
			m.positions[symbol] = pos
		}

	case types.SideBuy:
		m.available[symbol] = m.available[symbol].Add(qty)
		m.cashUsd = m.cashUsd.Sub(notional).Sub(fees)

		pos := m.positions[symbol]
		totalQty := pos.Quantity.Add(qty)
		if totalQty.IsPositive() {
			weighted := pos.AvgEntryPrice.Mul(pos.Quantity).Add(fillPrice.Mul(qty)).Div(totalQty)
			pos.AvgEntryPrice = weighted
		}
		pos.Quantity = totalQty
		pos.Symbol = symbol
		m.positions[symbol] = pos
	}

	return nil
}

// Resync re-pulls balances; if the absolute difference in cash or total
// per-symbol holding exceeds epsilon, it overwrites local state with the
// exchange's and returns the diffs for alerting.
func (m *Manager) Resync(ctx context.Context, adapter ExchangeAdapter, symbols []string) ([]Diff, error) {
	balances, err := adapter.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: resync: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byAsset := assetToSymbol(symbols)
	var diffs []Diff
	for _, b := range balances {
		if isCashAsset(b.Asset) {
			if m.cashUsd.Sub(b.Free).Abs().GreaterThan(resyncEpsilon) {
				diffs = append(diffs, Diff{Symbol: b.Asset, Field: "cash", LocalValue: m.cashUsd, RemoteValue: b.Free})
				m.cashUsd = b.Free
			}
			continue
		}
		symbol := resolveSymbol(byAsset, b.Asset)
		localTotal := m.available[symbol].Add(m.reserved[symbol])
		remoteTotal := b.Free.Add(b.Locked)
		if localTotal.Sub(remoteTotal).Abs().GreaterThan(resyncEpsilon) {
			diffs = append(diffs, Diff{Symbol: symbol, Field: "quantity", LocalValue: localTotal, RemoteValue: remoteTotal})
			m.available[symbol] = b.Free
			m.reserved[symbol] = b.Locked
		}
	}
	return diffs, nil
}

// Snapshot returns a defensive copy of the current state for the status API.
func (m *Manager) Snapshot() types.InventoryStateView {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := types.InventoryStateView{
		CashUsd:   m.cashUsd,
		Available: make(map[string]decimal.Decimal, len(m.available)),
		Reserved:  make(map[string]decimal.Decimal, len(m.reserved)),
		Positions: make(map[string]types.Position, len(m.positions)),
	}
	for k, val := range m.available {
		v.Available[k] = val
	}
	for k, val := range m.reserved {
		v.Reserved[k] = val
	}
	for k, val := range m.positions {
		v.Positions[k] = val
	}
	return v
}
