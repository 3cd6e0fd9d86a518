package ordermanager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/inventory"
	"github.com/tommyca/spotengine/internal/engine/orders"
	"github.com/tommyca/spotengine/internal/engine/position"
	"github.com/tommyca/spotengine/internal/engine/retryx"
	"github.com/tommyca/spotengine/internal/engine/risk"
	"github.com/tommyca/spotengine/internal/engine/types"
	"github.com/tommyca/spotengine/pkg/logging"
)

func testLogger(t *testing.T) *logging.ZapLogger {
	t.Helper()
	l, err := logging.NewZapLogger("FATAL")
	require.NoError(t, err)
	return l
}

type fakeBroker struct {
	calls       int
	fillPrice   decimal.Decimal
	minNotional decimal.Decimal
	err         error
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req BrokerOrderRequest) (types.Order, error) {
	b.calls++
	if b.err != nil {
		return types.Order{}, b.err
	}
	now := time.Now()
	return types.Order{
		OrderID:       "order-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		RequestedQty:  req.Quantity,
		FilledQty:     req.Quantity,
		AvgFillPrice:  b.fillPrice,
		Status:        types.OrderStatusFilled,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}, nil
}

func (b *fakeBroker) MinNotionalUsd(symbol string) decimal.Decimal { return b.minNotional }

type permissiveKillSwitch struct{}

func (permissiveKillSwitch) IsTriggered() bool            { return false }
func (permissiveKillSwitch) RecordSpreadViolation() error { return nil }

func riskConfig() risk.Config {
	return risk.Config{
		MinConfidence:        0.1,
		AllowLiveTrading:     true,
		MaxDailyLossUsd:      decimal.NewFromInt(100000),
		MaxOpenPositions:     10,
		MaxPositionUsd:       decimal.NewFromInt(1000),
		MaxSpreadBps:         decimal.NewFromInt(100),
		CooldownMinutes:      0,
		FeeRateBps:           decimal.NewFromInt(1),
		EstimatedSlippageBps: decimal.NewFromInt(1),
		SafetyMarginBps:      decimal.NewFromInt(1),
		MinNotionalUsd:       decimal.NewFromInt(1),
		ChopAdxThreshold:     decimal.Zero,
		SignalCooldown:       0,
	}
}

type fakeJournal struct {
	entries []types.JournalEntry
}

func (f *fakeJournal) SaveJournalEntry(e types.JournalEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakeTradeResultRecorder struct {
	calls []bool
}

func (f *fakeTradeResultRecorder) RecordTradeResult(profitable bool) error {
	f.calls = append(f.calls, profitable)
	return nil
}

func newManagerForTest(t *testing.T, broker *fakeBroker) (*Manager, *types.AccountSnapshot, *inventory.Manager) {
	t.Helper()
	m, snapshot, inv, _, _ := newManagerForTestWithDeps(t, broker)
	return m, snapshot, inv
}

func newManagerForTestWithDeps(t *testing.T, broker *fakeBroker) (*Manager, *types.AccountSnapshot, *inventory.Manager, *fakeJournal, *fakeTradeResultRecorder) {
	t.Helper()
	snapshot := types.NewAccountSnapshot(decimal.NewFromInt(10000))
	inv := inventory.New()
	orderStore := orders.New(nil)
	positionSM := position.New(nil)
	gatekeeper := risk.New(riskConfig(), permissiveKillSwitch{}, inv)
	retry := retryx.New("test", retryx.DefaultConfig(), testLogger(t))
	bus := eventbus.New(testLogger(t))
	journal := &fakeJournal{}
	killSwitch := &fakeTradeResultRecorder{}
	m := New(orderStore, inv, positionSM, gatekeeper, broker, broker, retry, bus, snapshot, journal, killSwitch)
	return m, snapshot, inv, journal, killSwitch
}

type fakeExchangeAdapter struct {
	balances []types.Balance
}

func (f *fakeExchangeAdapter) GetBalances(ctx context.Context) ([]types.Balance, error) {
	return f.balances, nil
}

func (f *fakeExchangeAdapter) ListOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return nil, nil
}

func TestOrderManager_HoldReturnsNoOrder(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(50000)}
	m, _, _ := newManagerForTest(t, broker)
	order, err := m.SubmitSignal(context.Background(), SubmitRequest{
		Symbol:         "BTCUSD",
		Signal:         types.Signal{Action: types.ActionHold},
		Ticker:         types.Ticker{Symbol: "BTCUSD", Bid: decimal.NewFromInt(50000), Ask: decimal.NewFromInt(50000), Last: decimal.NewFromInt(50000)},
		MaxPositionUsd: decimal.NewFromInt(250),
		DeployPercent:  decimal.NewFromFloat(0.1),
	})
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Equal(t, 0, broker.calls)
}

func TestOrderManager_HappyPathBuy(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(50000)}
	m, snapshot, _ := newManagerForTest(t, broker)

	order, err := m.SubmitSignal(context.Background(), SubmitRequest{
		Symbol:         "BTCUSD",
		Signal:         types.Signal{Action: types.ActionBuy, Confidence: 0.8},
		Ticker:         types.Ticker{Symbol: "BTCUSD", Bid: decimal.NewFromInt(50000), Ask: decimal.NewFromInt(50000), Last: decimal.NewFromInt(50000)},
		MaxPositionUsd: decimal.NewFromInt(250),
		DeployPercent:  decimal.NewFromFloat(0.5),
	})
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, types.SideBuy, order.Side)
	assert.True(t, order.FilledQty.Equal(decimal.NewFromFloat(0.005)), "expected quantity 0.005, got %s", order.FilledQty)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.Equal(t, 1, broker.calls)

	pos, ok := snapshot.OpenPositions["BTCUSD"]
	require.True(t, ok)
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, int64(1), m.CounterSnapshot().Submitted)
}

func TestOrderManager_IdempotentReplayReturnsSameOrderNoSecondBrokerCall(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(50000)}
	m, _, _ := newManagerForTest(t, broker)

	req := SubmitRequest{
		Symbol:         "BTCUSD",
		Signal:         types.Signal{Action: types.ActionBuy, Confidence: 0.8},
		Ticker:         types.Ticker{Symbol: "BTCUSD", Bid: decimal.NewFromInt(50000), Ask: decimal.NewFromInt(50000), Last: decimal.NewFromInt(50000)},
		IdempotencyKey: "fixed-key",
		MaxPositionUsd: decimal.NewFromInt(250),
		DeployPercent:  decimal.NewFromFloat(0.5),
	}

	first, err := m.SubmitSignal(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.SubmitSignal(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, broker.calls, "idempotent replay must not call the broker again")
	assert.Equal(t, int64(1), m.CounterSnapshot().IdempotentHit)
}

func TestOrderManager_BelowMinNotionalBlocksWithoutBrokerCall(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(50000), minNotional: decimal.NewFromInt(1000000)}
	m, _, _ := newManagerForTest(t, broker)

	order, err := m.SubmitSignal(context.Background(), SubmitRequest{
		Symbol:         "BTCUSD",
		Signal:         types.Signal{Action: types.ActionBuy, Confidence: 0.8},
		Ticker:         types.Ticker{Symbol: "BTCUSD", Bid: decimal.NewFromInt(50000), Ask: decimal.NewFromInt(50000), Last: decimal.NewFromInt(50000)},
		MaxPositionUsd: decimal.NewFromInt(250),
		DeployPercent:  decimal.NewFromFloat(0.5),
	})
	require.NoError(t, err)
	assert.Nil(t, order)
	assert.Equal(t, 0, broker.calls)
}

func TestOrderManager_SellReservesInventoryBeforePlacingOrder(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(100)}
	m, snapshot, inv, journal, killSwitch := newManagerForTestWithDeps(t, broker)
	snapshot.OpenPositions["ETHUSD"] = types.Position{Symbol: "ETHUSD", Quantity: decimal.NewFromFloat(1.5), AvgEntryPrice: decimal.NewFromInt(90)}
	require.NoError(t, inv.HydrateFromExchange(context.Background(), &fakeExchangeAdapter{
		balances: []types.Balance{{Asset: "ETHUSD", Free: decimal.NewFromInt(2)}},
	}, []string{"ETHUSD"}))

	order, err := m.SubmitSignal(context.Background(), SubmitRequest{
		Symbol: "ETHUSD",
		Signal: types.Signal{Action: types.ActionSell, Confidence: 0.8},
		Ticker: types.Ticker{Symbol: "ETHUSD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100), Last: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, types.SideSell, order.Side)

	snap := inv.Snapshot()
	assert.True(t, snap.Reserved["ETHUSD"].IsZero(), "reservation released on immediate fill confirmation")

	// The sell fully closes the position (1.5 sold against a 1.5 holding),
	// so the snapshot's open position is gone and the realized gain
	// (1.5 * (100-90) = 15) is recorded.
	_, stillOpen := snapshot.OpenPositions["ETHUSD"]
	assert.False(t, stillOpen)
	assert.True(t, snapshot.RealizedPnlUsd.Equal(decimal.NewFromInt(15)), "expected realized pnl 15, got %s", snapshot.RealizedPnlUsd)
	assert.True(t, snapshot.CashUsd.Equal(inv.Snapshot().CashUsd))

	require.Len(t, journal.entries, 1)
	assert.Equal(t, types.SideSell, journal.entries[0].Side)
	assert.True(t, journal.entries[0].RealizedPnlUsd.Equal(decimal.NewFromInt(15)))

	require.Len(t, killSwitch.calls, 1)
	assert.True(t, killSwitch.calls[0], "a positive realized pnl must be recorded as a win")
}

func TestOrderManager_StopOutSellSetsCooldownAndLoss(t *testing.T) {
	broker := &fakeBroker{fillPrice: decimal.NewFromInt(80)}
	m, snapshot, inv, journal, killSwitch := newManagerForTestWithDeps(t, broker)
	snapshot.OpenPositions["ETHUSD"] = types.Position{Symbol: "ETHUSD", Quantity: decimal.NewFromInt(1), AvgEntryPrice: decimal.NewFromInt(100)}
	require.NoError(t, inv.HydrateFromExchange(context.Background(), &fakeExchangeAdapter{
		balances: []types.Balance{{Asset: "ETHUSD", Free: decimal.NewFromInt(1)}},
	}, []string{"ETHUSD"}))

	before := time.Now()
	order, err := m.SubmitSignal(context.Background(), SubmitRequest{
		Symbol: "ETHUSD",
		Signal: types.Signal{Action: types.ActionSell, Confidence: 1, Reason: "trailing stop hit"},
		Ticker: types.Ticker{Symbol: "ETHUSD", Bid: decimal.NewFromInt(80), Ask: decimal.NewFromInt(80), Last: decimal.NewFromInt(80)},
	})
	require.NoError(t, err)
	require.NotNil(t, order)

	lastStopOut, ok := snapshot.LastStopOutAtBySymbol["ETHUSD"]
	require.True(t, ok, "a stop-out exit must set the post-exit cooldown clock")
	assert.True(t, !lastStopOut.Before(before))

	assert.True(t, snapshot.RealizedPnlUsd.Equal(decimal.NewFromInt(-20)), "expected realized loss -20, got %s", snapshot.RealizedPnlUsd)
	require.Len(t, journal.entries, 1)
	require.Len(t, killSwitch.calls, 1)
	assert.False(t, killSwitch.calls[0], "a negative realized pnl must be recorded as a loss")
}
