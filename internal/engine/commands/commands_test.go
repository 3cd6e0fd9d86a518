package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/orders"
	"github.com/tommyca/spotengine/internal/engine/position"
	"github.com/tommyca/spotengine/internal/engine/scheduler"
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
	canceled []string
	err      error
}

func (b *fakeBroker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	b.canceled = append(b.canceled, orderID)
	return b.err
}

func newHooksForTest(t *testing.T, broker CancelBroker) (*Hooks, *scheduler.Scheduler, *orders.Store, *position.Machine, *eventbus.Bus) {
	t.Helper()
	logger := testLogger(t)
	sched := scheduler.New(logger)
	require.NoError(t, sched.Register("strategy", 10_000, func(ctx context.Context) error { return nil }))
	sched.Start()
	t.Cleanup(func() { sched.Shutdown(time.Second) })

	orderStore := orders.New(nil)
	positionSM := position.New(nil)
	bus := eventbus.New(logger)
	h := New(orderStore, positionSM, sched, bus, broker, logger, "strategy")
	return h, sched, orderStore, positionSM, bus
}

func subscribeAlerts(t *testing.T, bus *eventbus.Bus) chan types.AlertPayload {
	t.Helper()
	ch := make(chan types.AlertPayload, 4)
	_, err := bus.Subscribe(types.ChannelAlerts, func(payload interface{}) error {
		ch <- payload.(types.AlertPayload)
		return nil
	})
	require.NoError(t, err)
	return ch
}

func TestHooks_StrategySwitchPublishesAlert(t *testing.T) {
	h, _, _, _, bus := newHooksForTest(t, &fakeBroker{})
	alerts := subscribeAlerts(t, bus)

	h.OnStrategySwitch("momentum")
	alert := <-alerts
	assert.Equal(t, types.AlertInfo, alert.Level)
	assert.Contains(t, alert.Message, "momentum")
}

func TestHooks_SessionPauseThenResume(t *testing.T) {
	h, sched, _, _, bus := newHooksForTest(t, &fakeBroker{})
	alerts := subscribeAlerts(t, bus)

	require.NoError(t, h.OnSessionPause())
	require.NoError(t, h.OnSessionPause(), "pausing twice must be a no-op")
	assert.Equal(t, types.AlertWarn, (<-alerts).Level)

	require.NoError(t, h.OnSessionResume())
	assert.Equal(t, types.AlertInfo, (<-alerts).Level)

	_ = sched
}

func TestHooks_ConfigUpdateReschedulesStrategyLoop(t *testing.T) {
	h, _, _, _, bus := newHooksForTest(t, &fakeBroker{})
	alerts := subscribeAlerts(t, bus)

	require.NoError(t, h.OnConfigUpdate(5_000))
	alert := <-alerts
	assert.Contains(t, alert.Message, "5000ms")
}

func TestHooks_ConfigUpdateUnknownJobFails(t *testing.T) {
	logger := testLogger(t)
	sched := scheduler.New(logger)
	sched.Start()
	defer sched.Shutdown(time.Second)
	h := New(orders.New(nil), position.New(nil), sched, eventbus.New(logger), &fakeBroker{}, logger, "missing")
	assert.Error(t, h.OnConfigUpdate(1000))
}

func TestHooks_PositionCloseRequiresManagingState(t *testing.T) {
	h, _, _, positionSM, _ := newHooksForTest(t, &fakeBroker{})

	// No tracked position: force-close is a silent no-op.
	require.NoError(t, h.OnPositionClose("BTCUSD"))

	_, err := positionSM.Transition("BTCUSD", position.StatePendingEntry)
	require.NoError(t, err)
	err = h.OnPositionClose("BTCUSD")
	assert.Error(t, err, "cannot force-close a position still pending entry")
}

func TestHooks_PositionCloseTransitionsToPendingExit(t *testing.T) {
	h, _, _, positionSM, bus := newHooksForTest(t, &fakeBroker{})
	alerts := subscribeAlerts(t, bus)

	_, err := positionSM.Transition("BTCUSD", position.StatePendingEntry)
	require.NoError(t, err)
	_, err = positionSM.Transition("BTCUSD", position.StateFilled)
	require.NoError(t, err)
	_, err = positionSM.Transition("BTCUSD", position.StateManaging)
	require.NoError(t, err)

	require.NoError(t, h.OnPositionClose("BTCUSD"))
	rec, ok := positionSM.GetBySymbol("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, position.StatePendingExit, rec.State)
	assert.Equal(t, types.AlertInfo, (<-alerts).Level)
}

func TestHooks_CancelAllCancelsEveryOpenOrderForSymbol(t *testing.T) {
	broker := &fakeBroker{}
	h, _, orderStore, _, bus := newHooksForTest(t, broker)
	alerts := subscribeAlerts(t, bus)

	require.NoError(t, orderStore.Upsert(types.Order{OrderID: "o1", ClientOrderID: "c1", Symbol: "BTCUSD", Status: types.OrderStatusOpen}))
	require.NoError(t, orderStore.Upsert(types.Order{OrderID: "o2", ClientOrderID: "c2", Symbol: "BTCUSD", Status: types.OrderStatusOpen}))
	require.NoError(t, orderStore.Upsert(types.Order{OrderID: "o3", ClientOrderID: "c3", Symbol: "ETHUSD", Status: types.OrderStatusFilled}))

	require.NoError(t, h.OnCancelAll(context.Background(), "BTCUSD"))
	assert.ElementsMatch(t, []string{"o1", "o2"}, broker.canceled)
	alert := <-alerts
	assert.Equal(t, types.AlertWarn, alert.Level)
}

func TestHooks_CancelAllSurfacesFirstBrokerError(t *testing.T) {
	broker := &fakeBroker{err: assert.AnError}
	h, _, orderStore, _, _ := newHooksForTest(t, broker)
	require.NoError(t, orderStore.Upsert(types.Order{OrderID: "o1", ClientOrderID: "c1", Symbol: "BTCUSD", Status: types.OrderStatusOpen}))

	err := h.OnCancelAll(context.Background(), "BTCUSD")
	assert.ErrorIs(t, err, assert.AnError)
}
