package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/internal/engine/types"
)

type fakeExchange struct {
	balances   []types.Balance
	openOrders map[string][]types.Order
}

func (f *fakeExchange) GetBalances(ctx context.Context) ([]types.Balance, error) {
	return f.balances, nil
}

func (f *fakeExchange) ListOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	return f.openOrders[symbol], nil
}

func TestManager_HydrateFromExchangeSeedsCashAndReservations(t *testing.T) {
	m := New()
	fx := &fakeExchange{
		balances: []types.Balance{
			{Asset: "USD", Free: decimal.NewFromInt(1000)},
			{Asset: "BTCUSD", Free: decimal.NewFromInt(2), Locked: decimal.NewFromInt(1)},
		},
		openOrders: map[string][]types.Order{
			"BTCUSD": {
				{Side: types.SideSell, RequestedQty: decimal.NewFromInt(1), FilledQty: decimal.Zero},
			},
		},
	}
	require.NoError(t, m.HydrateFromExchange(context.Background(), fx, []string{"BTCUSD"}))

	snap := m.Snapshot()
	assert.True(t, snap.CashUsd.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.Available["BTCUSD"].Equal(decimal.NewFromInt(2)))
	// Locked (1) + open sell order remaining (1) = 2 reserved.
	assert.True(t, snap.Reserved["BTCUSD"].Equal(decimal.NewFromInt(2)))
}

func TestManager_CanSellRespectsDustEpsilon(t *testing.T) {
	m := New()
	require.NoError(t, m.Reserve("BTCUSD", decimal.Zero, "noop"))
	m.available["BTCUSD"] = decimal.NewFromFloat(1.0)

	allowed, _, _ := m.CanSell("BTCUSD", decimal.NewFromFloat(1.0))
	assert.False(t, allowed, "selling the full available balance should be blocked by the dust buffer")

	allowed, _, _ = m.CanSell("BTCUSD", decimal.NewFromFloat(0.5))
	assert.True(t, allowed)
}

func TestManager_ReserveAndRelease(t *testing.T) {
	m := New()
	m.available["ETHUSD"] = decimal.NewFromInt(10)

	require.NoError(t, m.Reserve("ETHUSD", decimal.NewFromInt(4), "o1"))
	snap := m.Snapshot()
	assert.True(t, snap.Available["ETHUSD"].Equal(decimal.NewFromInt(6)))
	assert.True(t, snap.Reserved["ETHUSD"].Equal(decimal.NewFromInt(4)))

	require.NoError(t, m.ReleaseReservation("ETHUSD", decimal.NewFromInt(4), "o1"))
	snap = m.Snapshot()
	assert.True(t, snap.Available["ETHUSD"].Equal(decimal.NewFromInt(10)))
	assert.True(t, snap.Reserved["ETHUSD"].IsZero())
}

func TestManager_ReserveFailsWhenInsufficientAvailable(t *testing.T) {
	m := New()
	m.available["ETHUSD"] = decimal.NewFromInt(1)
	err := m.Reserve("ETHUSD", decimal.NewFromInt(5), "o1")
	assert.Error(t, err)
}

func TestManager_ConfirmFillBuyUpdatesWeightedAverageEntry(t *testing.T) {
	m := New()
	order := types.Order{Symbol: "BTCUSD", Side: types.SideBuy, FilledQty: decimal.NewFromInt(1)}
	require.NoError(t, m.ConfirmFill(order, decimal.NewFromInt(100), decimal.Zero))

	order2 := types.Order{Symbol: "BTCUSD", Side: types.SideBuy, FilledQty: decimal.NewFromInt(1)}
	require.NoError(t, m.ConfirmFill(order2, decimal.NewFromInt(200), decimal.Zero))

	snap := m.Snapshot()
	pos := snap.Positions["BTCUSD"]
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, snap.Available["BTCUSD"].Equal(decimal.NewFromInt(2)))
	assert.True(t, snap.CashUsd.Equal(decimal.NewFromInt(-300)))
}

func TestManager_ConfirmFillSellReleasesReservationAndClosesDustPosition(t *testing.T) {
	m := New()
	m.reserved["BTCUSD"] = decimal.NewFromInt(1)
	m.positions["BTCUSD"] = types.Position{Symbol: "BTCUSD", Quantity: decimal.NewFromInt(1), AvgEntryPrice: decimal.NewFromInt(100)}

	order := types.Order{Symbol: "BTCUSD", Side: types.SideSell, FilledQty: decimal.NewFromInt(1)}
	require.NoError(t, m.ConfirmFill(order, decimal.NewFromInt(110), decimal.NewFromInt(1)))

	snap := m.Snapshot()
	assert.True(t, snap.Reserved["BTCUSD"].IsZero())
	assert.True(t, snap.CashUsd.Equal(decimal.NewFromInt(109)))
	_, stillOpen := snap.Positions["BTCUSD"]
	assert.False(t, stillOpen)
}

func TestManager_ResyncOverwritesOnDrift(t *testing.T) {
	m := New()
	m.cashUsd = decimal.NewFromInt(100)
	fx := &fakeExchange{balances: []types.Balance{{Asset: "USD", Free: decimal.NewFromInt(500)}}}

	diffs, err := m.Resync(context.Background(), fx, nil)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "cash", diffs[0].Field)

	snap := m.Snapshot()
	assert.True(t, snap.CashUsd.Equal(decimal.NewFromInt(500)))
}

func TestManager_ResyncIgnoresNoiseWithinEpsilon(t *testing.T) {
	m := New()
	m.cashUsd = decimal.NewFromFloat(100.0000001)
	fx := &fakeExchange{balances: []types.Balance{{Asset: "USD", Free: decimal.NewFromInt(100)}}}

	diffs, err := m.Resync(context.Background(), fx, nil)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}
