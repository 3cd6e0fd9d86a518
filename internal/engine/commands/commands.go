// Package commands implements the supplemented operator command hooks: the
// small set of imperative actions an operator (CLI, admin endpoint, or a
// future control-plane caller) can take against a running engine, mirroring
// internal/engine/commands.go's pause/resume/cancel-all surface from the
// teacher but retargeted at the Position State Machine (C7), Order State
// (C3), and Scheduler (C1) components built for this domain.
package commands

import (
	"context"
	"fmt"

	"github.com/tommyca/spotengine/internal/core"
	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/orders"
	"github.com/tommyca/spotengine/internal/engine/position"
	"github.com/tommyca/spotengine/internal/engine/scheduler"
	"github.com/tommyca/spotengine/internal/engine/types"
)

// CancelBroker is the subset of the broker surface commands needs to cancel
// a resting order.
type CancelBroker interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Hooks wires the engine's mutable components behind a small named-action
// surface, so the operator never reaches into component internals directly.
type Hooks struct {
	orderStore *orders.Store
	positionSM *position.Machine
	scheduler  *scheduler.Scheduler
	bus        *eventbus.Bus
	broker     CancelBroker
	logger     core.ILogger

	strategyLoopJobName string
	paused              bool
}

func New(
	orderStore *orders.Store,
	positionSM *position.Machine,
	sched *scheduler.Scheduler,
	bus *eventbus.Bus,
	broker CancelBroker,
	logger core.ILogger,
	strategyLoopJobName string,
) *Hooks {
	return &Hooks{
		orderStore:          orderStore,
		positionSM:          positionSM,
		scheduler:           sched,
		bus:                 bus,
		broker:              broker,
		logger:              logger.WithField("component", "commands"),
		strategyLoopJobName: strategyLoopJobName,
	}
}

// OnStrategySwitch announces a strategy switch so it is auditable. It only
// publishes an info alert naming the new strategy; it does not swap the
// strategy instance or change any loop state.
func (h *Hooks) OnStrategySwitch(newStrategyName string) {
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{
		Level:   types.AlertInfo,
		Title:   "command.strategy_switch",
		Message: fmt.Sprintf("strategy switched to %s", newStrategyName),
	})
}

// OnConfigUpdate reschedules the strategy loop at a new period after a
// config reload, and announces the change.
func (h *Hooks) OnConfigUpdate(newStrategyIntervalMs int64) error {
	if err := h.scheduler.Reschedule(h.strategyLoopJobName, newStrategyIntervalMs); err != nil {
		return fmt.Errorf("commands: reschedule strategy loop: %w", err)
	}
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{
		Level:   types.AlertInfo,
		Title:   "command.config_update",
		Message: fmt.Sprintf("strategy loop rescheduled to %dms", newStrategyIntervalMs),
	})
	return nil
}

// OnSessionPause stops the strategy loop job without tearing down the
// process; open positions continue to be reconciled.
func (h *Hooks) OnSessionPause() error {
	if h.paused {
		return nil
	}
	if err := h.scheduler.Pause(h.strategyLoopJobName); err != nil {
		return fmt.Errorf("commands: pause strategy loop: %w", err)
	}
	h.paused = true
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{Level: types.AlertWarn, Title: "command.session_pause", Message: "strategy loop paused"})
	return nil
}

// OnSessionResume re-enables the strategy loop job.
func (h *Hooks) OnSessionResume() error {
	if err := h.scheduler.Resume(h.strategyLoopJobName); err != nil {
		return fmt.Errorf("commands: resume strategy loop: %w", err)
	}
	h.paused = false
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{Level: types.AlertInfo, Title: "command.session_resume", Message: "strategy loop resumed"})
	return nil
}

// OnPositionClose forces an exit transition for symbol's open position. The
// actual sell order still flows through the Order Manager (C9); this hook
// only marks the lifecycle intent so a subsequent strategy-loop tick issues
// the exit rather than re-entering.
func (h *Hooks) OnPositionClose(symbol string) error {
	rec, ok := h.positionSM.GetBySymbol(symbol)
	if !ok {
		return nil
	}
	if rec.State != position.StateManaging {
		return fmt.Errorf("commands: cannot force-close %s from state %s", symbol, rec.State)
	}
	if _, err := h.positionSM.Transition(symbol, position.StatePendingExit); err != nil {
		return fmt.Errorf("commands: force-close %s: %w", symbol, err)
	}
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{Level: types.AlertInfo, Title: "command.position_close", Message: fmt.Sprintf("forced exit requested for %s", symbol)})
	return nil
}

// OnCancelAll cancels every open order for symbol (or every symbol when
// empty) at the broker, leaving the local Order State rows as-is for the
// next reconciliation pass to reflect the cancellation.
func (h *Hooks) OnCancelAll(ctx context.Context, symbol string) error {
	open := h.orderStore.GetOpenOrders(symbol)
	var firstErr error
	for _, o := range open {
		if err := h.broker.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			h.logger.Warn("commands: cancel order failed", "order_id", o.OrderID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	_ = h.bus.Publish(types.ChannelAlerts, types.AlertPayload{Level: types.AlertWarn, Title: "command.cancel_all", Message: fmt.Sprintf("cancel-all requested for %q, %d orders targeted", symbol, len(open))})
	return firstErr
}
