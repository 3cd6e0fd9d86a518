// Package ordermanager implements the Order Manager component (C9):
// idempotent signal-to-order submission, broker selection by mode, sizing,
// and fill write-back to inventory and the position state machine. Grounded
// on internal/trading/order/executor.go's retry/rate-limit/classification
// pattern, generalized from per-order retry to routing through the Retry
// Executor component (C6).
package ordermanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/inventory"
	"github.com/tommyca/spotengine/internal/engine/orders"
	"github.com/tommyca/spotengine/internal/engine/position"
	"github.com/tommyca/spotengine/internal/engine/risk"
	"github.com/tommyca/spotengine/internal/engine/trailingstop"
	"github.com/tommyca/spotengine/internal/engine/types"
	apperrors "github.com/tommyca/spotengine/pkg/errors"
	"github.com/tommyca/spotengine/pkg/tradingutils"
)

// defaultQuantityDecimals is the lot-size precision applied to a computed
// order quantity when the broker doesn't expose a per-symbol step size.
const defaultQuantityDecimals = 6

// Broker is the side-effecting order placement surface, implemented once per
// mode (paper, live) against the exchange adapter interface in §6.
type Broker interface {
	PlaceOrder(ctx context.Context, req BrokerOrderRequest) (types.Order, error)
	MinNotionalUsd(symbol string) decimal.Decimal
}

// BrokerOrderRequest is what the Order Manager hands to a broker.
type BrokerOrderRequest struct {
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ClientOrderID string
}

// RetryExecutor is the subset of the Retry Executor (C6) the Order Manager needs.
type RetryExecutor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// JournalWriter is the subset of the persistence store the Order Manager
// needs to record one entry/exit leg per fill (§4.9).
type JournalWriter interface {
	SaveJournalEntry(e types.JournalEntry) error
}

// TradeResultRecorder is the subset of the Kill Switch the Order Manager
// drives directly: every closed sell's profit/loss outcome feeds the
// consecutive-losses trip condition.
type TradeResultRecorder interface {
	RecordTradeResult(profitable bool) error
}

// SubmitRequest bundles a strategy signal with its market context.
type SubmitRequest struct {
	Symbol         string
	Signal         types.Signal
	Ticker         types.Ticker
	IdempotencyKey string
	Live           bool
	MaxPositionUsd decimal.Decimal
	DeployPercent  decimal.Decimal
}

// CounterValues is a point-in-time copy of Counters for status reporting.
type CounterValues struct {
	IdempotentHit int64
	Submitted     int64
	Blocked       int64
}

// Counters exposes hit/miss bookkeeping for telemetry and tests.
type Counters struct {
	mu            sync.Mutex
	idempotentHit int64
	submitted     int64
	blocked       int64
}

func (c *Counters) incIdempotentHit() { c.mu.Lock(); c.idempotentHit++; c.mu.Unlock() }
func (c *Counters) incSubmitted()     { c.mu.Lock(); c.submitted++; c.mu.Unlock() }
func (c *Counters) incBlocked()       { c.mu.Lock(); c.blocked++; c.mu.Unlock() }

// Manager is the Order Manager component.
type Manager struct {
	orderStore *orders.Store
	inventory  *inventory.Manager
	positionSM *position.Machine
	gatekeeper *risk.Engine
	broker     map[bool]Broker // keyed by Live
	retry      RetryExecutor
	bus        *eventbus.Bus
	limiter    *rate.Limiter
	snapshot   *types.AccountSnapshot
	journal    JournalWriter       // optional; nil disables journal persistence
	killSwitch TradeResultRecorder // optional; nil disables the consecutive-losses trip
	counters   Counters
}

func New(
	orderStore *orders.Store,
	inv *inventory.Manager,
	positionSM *position.Machine,
	gatekeeper *risk.Engine,
	paperBroker, liveBroker Broker,
	retry RetryExecutor,
	bus *eventbus.Bus,
	snapshot *types.AccountSnapshot,
	journal JournalWriter,
	killSwitch TradeResultRecorder,
) *Manager {
	return &Manager{
		orderStore: orderStore,
		inventory:  inv,
		positionSM: positionSM,
		gatekeeper: gatekeeper,
		broker:     map[bool]Broker{false: paperBroker, true: liveBroker},
		retry:      retry,
		bus:        bus,
		limiter:    rate.NewLimiter(rate.Limit(25), 30),
		snapshot:   snapshot,
		journal:    journal,
		killSwitch: killSwitch,
	}
}

// SubmitSignal is the single entry point: HOLD returns nil; an existing
// idempotency key returns the prior order with no broker call; otherwise it
// gates, sizes, submits, and writes fills back to inventory and the position
// state machine.
func (m *Manager) SubmitSignal(ctx context.Context, req SubmitRequest) (*types.Order, error) {
	if req.Signal.Action == types.ActionHold {
		return nil, nil
	}

	if req.IdempotencyKey != "" {
		if existing, ok := m.orderStore.GetByClientOrderID(req.IdempotencyKey); ok {
			m.counters.incIdempotentHit()
			return &existing, nil
		}
	}

	desiredQty := m.sizeOrder(req)

	decision := m.gatekeeper.Evaluate(risk.Request{
		Symbol:     req.Symbol,
		Signal:     req.Signal,
		Snapshot:   m.snapshot,
		Ticker:     req.Ticker,
		DesiredQty: desiredQty,
		Live:       req.Live,
		Now:        time.Now(),
	})
	if !decision.Allowed {
		m.counters.incBlocked()
		return nil, nil
	}
	if decision.ClampedQty.IsPositive() {
		desiredQty = decision.ClampedQty
	}

	broker := m.broker[req.Live]
	if broker == nil {
		return nil, fmt.Errorf("ordermanager: no broker configured for live=%v", req.Live)
	}
	minNotional := broker.MinNotionalUsd(req.Symbol)
	if desiredQty.Mul(req.Ticker.Last).LessThan(minNotional) {
		m.counters.incBlocked()
		return nil, nil
	}

	clientOrderID := req.IdempotencyKey
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	side := types.SideBuy
	if req.Signal.Action == types.ActionSell {
		side = types.SideSell
		if err := m.inventory.Reserve(req.Symbol, desiredQty, clientOrderID); err != nil {
			return nil, fmt.Errorf("ordermanager: reserve before sell: %w: %w", apperrors.ErrInsufficientFunds, err)
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ordermanager: rate limit wait: %w", err)
	}

	brokerReq := BrokerOrderRequest{
		Symbol:        req.Symbol,
		Side:          side,
		Type:          types.OrderTypeMarket,
		Quantity:      desiredQty,
		Price:         req.Ticker.Last,
		ClientOrderID: clientOrderID,
	}

	result, err := m.retry.Execute(ctx, func(ctx context.Context) (any, error) {
		return broker.PlaceOrder(ctx, brokerReq)
	})
	if err != nil {
		if side == types.SideSell {
			_ = m.inventory.ReleaseReservation(req.Symbol, desiredQty, clientOrderID)
		}
		return nil, fmt.Errorf("ordermanager: broker call failed: %w: %w", apperrors.ErrOrderRejected, err)
	}
	order := result.(types.Order)

	if err := m.orderStore.Upsert(order); err != nil {
		return nil, fmt.Errorf("ordermanager: persist order: %w", err)
	}
	m.counters.incSubmitted()

	if _, err := m.positionSM.Transition(req.Symbol, position.StatePendingEntry); err != nil {
		// The position may already be pending_entry from a prior retry of the
		// same idempotency key; that is not an invariant violation here.
	}

	var realized *decimal.Decimal
	if order.Status == types.OrderStatusFilled {
		prevPos, hadPosition := m.snapshot.OpenPositions[req.Symbol]

		if err := m.inventory.ConfirmFill(order, order.AvgFillPrice, order.FeesUsd); err != nil {
			return nil, fmt.Errorf("ordermanager: confirm fill: %w", err)
		}
		if _, err := m.positionSM.Transition(req.Symbol, position.StateFilled, position.WithEntryPrice(order.AvgFillPrice)); err == nil {
			_, _ = m.positionSM.Transition(req.Symbol, position.StateManaging)
		}

		realized = m.applyFillToSnapshot(req.Symbol, order, req.Signal, req.Ticker.Last, prevPos, hadPosition)
		m.recordJournalEntry(req, order, realized)
		if realized != nil && m.killSwitch != nil {
			_ = m.killSwitch.RecordTradeResult(!realized.IsNegative())
		}
	}

	m.publishFill(order, realized)
	return &order, nil
}

// applyFillToSnapshot is the Order Manager's single write path into the
// shared AccountSnapshot: cash, the symbol's open position, realized and
// unrealized P&L, and (on a stop-out close) the post-exit cooldown clock.
// prevPos/hadPosition are read before ConfirmFill so a closing sell's
// realized P&L is computed against the pre-fill entry price.
func (m *Manager) applyFillToSnapshot(symbol string, order types.Order, signal types.Signal, lastPrice decimal.Decimal, prevPos types.Position, hadPosition bool) *decimal.Decimal {
	inv := m.inventory.Snapshot()
	m.snapshot.CashUsd = inv.CashUsd

	newPos, stillOpen := inv.Positions[symbol]
	if stillOpen {
		newPos.MarketPrice = lastPrice
		m.snapshot.OpenPositions[symbol] = newPos
	} else {
		delete(m.snapshot.OpenPositions, symbol)
	}

	var realized *decimal.Decimal
	if order.Side == types.SideSell && hadPosition {
		pnl := order.FilledQty.Mul(order.AvgFillPrice.Sub(prevPos.AvgEntryPrice)).Sub(order.FeesUsd)
		realized = &pnl
		m.snapshot.RealizedPnlUsd = m.snapshot.RealizedPnlUsd.Add(pnl)
		if !stillOpen && signal.Reason == trailingstop.ExitReasonTrailingStop {
			m.snapshot.LastStopOutAtBySymbol[symbol] = order.UpdatedAt
		}
	}

	total := decimal.Zero
	for _, p := range m.snapshot.OpenPositions {
		total = total.Add(p.UnrealizedPnlUsd())
	}
	m.snapshot.UnrealizedPnlUsd = total

	return realized
}

// recordJournalEntry appends one append-only journal row per fill (§4.9). A
// nil JournalWriter (e.g. in tests) silently disables persistence.
func (m *Manager) recordJournalEntry(req SubmitRequest, order types.Order, realized *decimal.Decimal) {
	if m.journal == nil {
		return
	}
	realizedPnl := decimal.Zero
	if realized != nil {
		realizedPnl = *realized
	}
	entry := types.JournalEntry{
		ID:             order.OrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		RequestedPrice: order.RequestedPrice,
		FilledPrice:    order.AvgFillPrice,
		Quantity:       order.FilledQty,
		Notional:       order.FilledQty.Mul(order.AvgFillPrice),
		Commission:     order.FeesUsd,
		Confidence:     req.Signal.Confidence,
		Reason:         req.Signal.Reason,
		RiskDecision:   "allowed",
		RealizedPnlUsd: realizedPnl,
		CreatedAt:      order.UpdatedAt,
	}
	_ = m.journal.SaveJournalEntry(entry)
}

// sizeOrder applies the sizing formula from the component contract: market
// buys use min(maxPositionUsd/last, deployPercent*cash/last); sells use the
// held quantity, clamped by the gatekeeper's inventory guard.
func (m *Manager) sizeOrder(req SubmitRequest) decimal.Decimal {
	if req.Ticker.Last.IsZero() {
		return decimal.Zero
	}
	if req.Signal.Action == types.ActionSell {
		pos := m.snapshot.OpenPositions[req.Symbol]
		return pos.Quantity
	}

	byCap := req.MaxPositionUsd.Div(req.Ticker.Last)
	byDeploy := req.DeployPercent.Mul(m.snapshot.CashUsd).Div(req.Ticker.Last)
	return tradingutils.RoundQuantity(decimal.Min(byCap, byDeploy), defaultQuantityDecimals)
}

func (m *Manager) publishFill(order types.Order, realized *decimal.Decimal) {
	_ = m.bus.Publish(types.ChannelTrades, types.TradePayload{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.FilledQty,
		Price:          order.AvgFillPrice,
		Fees:           order.FeesUsd,
		RealizedPnlUsd: realized,
		Timestamp:      order.UpdatedAt,
	})
}

// CounterSnapshot exposes the idempotent-hit/submitted/blocked counts for status reporting.
func (m *Manager) CounterSnapshot() CounterValues {
	m.counters.mu.Lock()
	defer m.counters.mu.Unlock()
	return CounterValues{IdempotentHit: m.counters.idempotentHit, Submitted: m.counters.submitted, Blocked: m.counters.blocked}
}
