// Package loops implements the Trading Loops component (C12): the bodies of
// the six scheduled jobs (market-data, strategy, execute, reconcile,
// risk-monitor, sentiment) and the in-memory AccountSnapshot they share. Grounded on internal/engine/simple/engine.go's
// persist-before-apply ordering and cmd/live_server's polling cadence.
package loops

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/google/uuid"

	"github.com/tommyca/spotengine/internal/core"
	"github.com/tommyca/spotengine/internal/engine/candles"
	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/ordermanager"
	"github.com/tommyca/spotengine/internal/engine/reconcile"
	"github.com/tommyca/spotengine/internal/engine/signalqueue"
	"github.com/tommyca/spotengine/internal/engine/trailingstop"
	"github.com/tommyca/spotengine/internal/engine/types"
)

// Strategy is the pluggable signal-generation surface; its indicator math is
// out of scope (§1) and lives outside this package.
type Strategy interface {
	OnCandle(symbol string, recent []types.Candle) types.Signal
}

// MarketDataAdapter is the subset of the exchange adapter the market-data
// loop needs.
type MarketDataAdapter interface {
	GetTicker(ctx context.Context, symbol string) (types.Ticker, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
}

// SentimentSource is the out-of-core external sentiment feed.
type SentimentSource interface {
	FetchSentiment(ctx context.Context) (types.SentimentPayload, error)
}

// RiskMonitor is the subset of the Kill Switch the risk-monitor loop drives.
type RiskMonitor interface {
	CheckDrawdown(equity, peak decimal.Decimal) error
	CheckApiErrors(count int) error
}

// APIErrorCounter reports the Retry Executor's current consecutive-failure
// streak, the input CheckApiErrors trips on.
type APIErrorCounter interface {
	ConsecutiveFailures() int
}

// Config holds the symbols/interval/live-reconciliation toggle the loops need.
type Config struct {
	Symbols        []string
	Interval       string
	CandleLimit    int
	Live           bool
	MaxPositionUsd decimal.Decimal
	DeployPercent  decimal.Decimal
}

// Loops wires the six scheduled job bodies together.
type Loops struct {
	cfg         Config
	snapshot    *types.AccountSnapshot
	candleStore *candles.Store
	marketData  MarketDataAdapter
	strategy    Strategy
	trailing    *trailingstop.Manager
	orderMgr    *ordermanager.Manager
	reconciler  *reconcile.Reconciler
	sentiment   SentimentSource
	queue       *signalqueue.Queue
	bus         *eventbus.Bus
	logger      core.ILogger
	killSwitch  RiskMonitor     // optional; nil disables RiskMonitorLoop
	apiErrors   APIErrorCounter // optional; nil skips the API-error trip condition
	peakEquity  decimal.Decimal
}

func New(
	cfg Config,
	snapshot *types.AccountSnapshot,
	candleStore *candles.Store,
	marketData MarketDataAdapter,
	strategy Strategy,
	trailing *trailingstop.Manager,
	orderMgr *ordermanager.Manager,
	reconciler *reconcile.Reconciler,
	sentiment SentimentSource,
	queue *signalqueue.Queue,
	bus *eventbus.Bus,
	logger core.ILogger,
	killSwitch RiskMonitor,
	apiErrors APIErrorCounter,
) *Loops {
	return &Loops{
		cfg:         cfg,
		snapshot:    snapshot,
		candleStore: candleStore,
		marketData:  marketData,
		strategy:    strategy,
		trailing:    trailing,
		orderMgr:    orderMgr,
		reconciler:  reconciler,
		sentiment:   sentiment,
		queue:       queue,
		bus:         bus,
		logger:      logger.WithField("component", "trading_loops"),
		killSwitch:  killSwitch,
		apiErrors:   apiErrors,
		peakEquity:  snapshot.TotalEquityUsd(),
	}
}

// MarketDataLoop polls each configured symbol and appends candles. A stale
// feed is escalated as an alert rather than failing the job outright.
func (l *Loops) MarketDataLoop(ctx context.Context) error {
	for _, symbol := range l.cfg.Symbols {
		bars, err := l.marketData.GetCandles(ctx, symbol, l.cfg.Interval, l.cfg.CandleLimit)
		if err != nil {
			l.logger.Warn("market data loop: fetch candles failed", "symbol", symbol, "error", err)
			continue
		}
		for _, c := range bars {
			if err := l.candleStore.Upsert(symbol, l.cfg.Interval, c); err != nil {
				l.logger.Warn("market data loop: upsert candle failed", "symbol", symbol, "error", err)
			}
		}

		ticker, err := l.marketData.GetTicker(ctx, symbol)
		if err != nil {
			l.logger.Warn("market data loop: fetch ticker failed", "symbol", symbol, "error", err)
			continue
		}
		_ = l.bus.Publish(types.ChannelPrice, types.PricePayload{
			Symbol: symbol, Bid: ticker.Bid, Ask: ticker.Ask, Last: ticker.Last, Time: ticker.Time,
		})
	}
	return nil
}

// StrategyLoop runs, per symbol and in order, the fixed sequence: trailing
// stop evaluation -> strategy signal -> enqueue. Execution against the Order
// Manager happens in ExecutionLoop, decoupled through the Signal Queue (C14)
// so a burst across many symbols can't starve signals that land after it.
// Signal-cooldown deduplication is not performed here (Open Question c); it
// lives entirely in the risk pipeline.
func (l *Loops) StrategyLoop(ctx context.Context) error {
	for _, symbol := range l.cfg.Symbols {
		recent, err := l.candleStore.GetRecent(symbol, l.cfg.Interval, l.cfg.CandleLimit)
		if err != nil {
			l.logger.Warn("strategy loop: stale or missing candles", "symbol", symbol, "error", err)
			continue
		}
		if len(recent) == 0 {
			continue
		}
		latest := recent[len(recent)-1]

		if _, tracked := l.trailing.Get(symbol); tracked {
			result := l.trailing.Update(symbol, latest.Close, nil)
			if result.ShouldExit {
				l.enqueueSynthetic(symbol, latest.Close, result.Reason)
				continue
			}
		}

		signal := l.strategy.OnCandle(symbol, recent)
		if signal.Action == types.ActionHold {
			continue
		}

		ticker := types.Ticker{Symbol: symbol, Bid: latest.Close, Ask: latest.Close, Last: latest.Close}
		l.queue.Push(signalqueue.Item{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			Signal:    signal,
			Ticker:    ticker,
			Timestamp: latest.OpenTime,
		})
	}
	return nil
}

func (l *Loops) enqueueSynthetic(symbol string, price decimal.Decimal, reason string) {
	l.queue.Push(signalqueue.Item{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Signal: types.Signal{Action: types.ActionSell, Confidence: 1, Reason: reason},
		Ticker: types.Ticker{Symbol: symbol, Bid: price, Ask: price, Last: price},
	})
}

// ExecutionLoop drains every signal queued since the last run and submits
// each to the Order Manager in FIFO order. A submit failure is logged and
// does not stop the drain of the remaining queued signals.
func (l *Loops) ExecutionLoop(ctx context.Context) error {
	for _, item := range l.queue.Drain() {
		_, err := l.orderMgr.SubmitSignal(ctx, ordermanager.SubmitRequest{
			Symbol:         item.Symbol,
			Signal:         item.Signal,
			Ticker:         item.Ticker,
			IdempotencyKey: item.ID,
			Live:           l.cfg.Live,
			MaxPositionUsd: l.cfg.MaxPositionUsd,
			DeployPercent:  l.cfg.DeployPercent,
		})
		if err != nil {
			l.logger.Warn("execution loop: submit signal failed", "symbol", item.Symbol, "error", err)
		}
	}
	if dropped := l.queue.DroppedCount(); dropped > 0 {
		l.logger.Warn("execution loop: signal queue has dropped items since startup", "dropped", dropped)
	}
	return nil
}

// ReconciliationLoop is live-only: it runs the open-order reconciliation pass
// for each configured symbol.
func (l *Loops) ReconciliationLoop(ctx context.Context) error {
	if !l.cfg.Live {
		return nil
	}
	for _, symbol := range l.cfg.Symbols {
		if err := l.reconciler.ReconcileOpenOrders(ctx, symbol); err != nil {
			l.logger.Warn("reconciliation loop failed", "symbol", symbol, "error", err)
		}
	}
	return nil
}

// RiskMonitorLoop tracks the account's all-time-high equity and feeds the
// drawdown and API-error-rate trip conditions into the Kill Switch (§4.5). A
// nil killSwitch makes this a no-op.
func (l *Loops) RiskMonitorLoop(ctx context.Context) error {
	if l.killSwitch == nil {
		return nil
	}
	equity := l.snapshot.TotalEquityUsd()
	if equity.GreaterThan(l.peakEquity) {
		l.peakEquity = equity
	}
	if err := l.killSwitch.CheckDrawdown(equity, l.peakEquity); err != nil {
		return fmt.Errorf("risk monitor loop: check drawdown: %w", err)
	}
	if l.apiErrors != nil {
		if err := l.killSwitch.CheckApiErrors(l.apiErrors.ConsecutiveFailures()); err != nil {
			return fmt.Errorf("risk monitor loop: check api errors: %w", err)
		}
	}
	return nil
}

// SentimentLoop fetches external sentiment and publishes it, plus an alert
// when thresholds cross. It is optional: a nil source makes this a no-op.
func (l *Loops) SentimentLoop(ctx context.Context) error {
	if l.sentiment == nil {
		return nil
	}
	payload, err := l.sentiment.FetchSentiment(ctx)
	if err != nil {
		return fmt.Errorf("sentiment loop: %w", err)
	}
	_ = l.bus.Publish(types.ChannelSentiment, payload)
	if payload.FearGreedIndex <= 20 || payload.FearGreedIndex >= 80 {
		_ = l.bus.Publish(types.ChannelAlerts, types.AlertPayload{
			Level:   types.AlertWarn,
			Title:   "sentiment.extreme",
			Message: fmt.Sprintf("fear/greed index at extreme: %d (%s)", payload.FearGreedIndex, payload.FearGreedLabel),
		})
	}
	return nil
}
