// Command tradingd wires every engine component into the scheduled-job
// lifecycle described in SPEC_FULL.md §4-§6, reusing
// internal/bootstrap.App's errgroup + signal.NotifyContext runner pattern
// from the teacher's cmd/live_server and app.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tommyca/spotengine/internal/bootstrap"
	"github.com/tommyca/spotengine/internal/config"
	"github.com/tommyca/spotengine/internal/engine/candles"
	"github.com/tommyca/spotengine/internal/engine/commands"
	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/health"
	"github.com/tommyca/spotengine/internal/engine/inventory"
	"github.com/tommyca/spotengine/internal/engine/killswitch"
	"github.com/tommyca/spotengine/internal/engine/loops"
	"github.com/tommyca/spotengine/internal/engine/ordermanager"
	"github.com/tommyca/spotengine/internal/engine/orders"
	"github.com/tommyca/spotengine/internal/engine/position"
	"github.com/tommyca/spotengine/internal/engine/reconcile"
	"github.com/tommyca/spotengine/internal/engine/retryx"
	"github.com/tommyca/spotengine/internal/engine/risk"
	"github.com/tommyca/spotengine/internal/engine/scheduler"
	"github.com/tommyca/spotengine/internal/engine/signalqueue"
	"github.com/tommyca/spotengine/internal/engine/trailingstop"
	"github.com/tommyca/spotengine/internal/engine/types"
	"github.com/tommyca/spotengine/internal/exchange/ccxtadapter"
	inframetrics "github.com/tommyca/spotengine/internal/infrastructure/metrics"
	"github.com/tommyca/spotengine/internal/strategy"
	"github.com/tommyca/spotengine/internal/store/sqlite"
	"github.com/tommyca/spotengine/pkg/logging"
)

// engineRunner adapts the Scheduler into bootstrap.App's Runner interface: Run
// starts the scheduler and shuts it down once ctx is cancelled.
type engineRunner struct {
	sched *scheduler.Scheduler
}

func (r *engineRunner) Run(ctx context.Context) error {
	r.sched.Start()
	<-ctx.Done()
	r.sched.Shutdown(15 * time.Second)
	return nil
}

// metricsRunner exposes the Prometheus scrape endpoint backing the metrics
// event bus channel (§6) for the lifetime of the process.
type metricsRunner struct {
	srv *inframetrics.Server
}

func (r *metricsRunner) Run(ctx context.Context) error {
	r.srv.Start()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.srv.Stop(shutdownCtx)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the legacy app configuration")
	enginePath := flag.String("engine-config", "engine.yaml", "path to the engine configuration")
	flag.Parse()

	if err := run(*configPath, *enginePath); err != nil {
		slog.Error("tradingd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, enginePath string) error {
	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return fmt.Errorf("bootstrap app: %w", err)
	}

	engineCfg, err := config.LoadEngineConfig(enginePath)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}

	logger, err := logging.NewZapLogger(app.Cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := sqlite.Open(engineCfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	bus := eventbus.New(logger)
	sched := scheduler.New(logger)

	orderStore := orders.New(store)
	if err := orderStore.Hydrate(); err != nil {
		return fmt.Errorf("hydrate order store: %w", err)
	}

	positionSM := position.New(store)
	if err := positionSM.Hydrate(); err != nil {
		return fmt.Errorf("hydrate position state machine: %w", err)
	}

	ks := killswitch.New(killswitch.Config{
		MaxDrawdownPct:            engineCfg.KillSwitchConfig.MaxDrawdownPct,
		MaxConsecutiveLosses:      engineCfg.KillSwitchConfig.MaxConsecutiveLosses,
		ApiErrorThreshold:         engineCfg.KillSwitchConfig.ApiErrorThreshold,
		SpreadViolationsLimit:     engineCfg.KillSwitchConfig.SpreadViolationsLimit,
		SpreadViolationsWindowMin: engineCfg.KillSwitchConfig.SpreadViolationsWindowMin,
	}, store)
	if err := ks.Init(); err != nil {
		return fmt.Errorf("init kill switch: %w", err)
	}

	inv := inventory.New()
	candleStore := candles.New()
	candleStore.RegisterInterval(engineCfg.Interval, time.Duration(engineCfg.PollIntervalMs)*time.Millisecond)

	gatekeeper := risk.New(risk.Config{
		MinConfidence:        engineCfg.Risk.MinConfidence,
		AllowLiveTrading:     engineCfg.AllowLiveTrading,
		MaxDailyLossUsd:      engineCfg.Risk.MaxDailyLossUsd,
		MaxOpenPositions:     engineCfg.Risk.MaxOpenPositions,
		MaxPositionUsd:       engineCfg.Risk.MaxPositionUsd,
		MaxSpreadBps:         engineCfg.Guards.MaxSpreadBps,
		CooldownMinutes:      engineCfg.Guards.CooldownMinutes,
		SellCooldownMinutes:  engineCfg.Guards.SellCooldownMinutes,
		FeeRateBps:           engineCfg.Gatekeeper.FeeRateBps,
		EstimatedSlippageBps: engineCfg.Gatekeeper.EstimatedSlippageBps,
		SafetyMarginBps:      engineCfg.Gatekeeper.SafetyMarginBps,
		MinNotionalUsd:       engineCfg.Guards.MinNotionalUsd,
		ChopAdxThreshold:     engineCfg.Guards.ChopAdxThreshold,
		SignalCooldown:       time.Duration(engineCfg.Gatekeeper.SignalCooldownSec) * time.Second,
	}, ks, inv)

	retryExec := retryx.New("broker", retryx.Config{
		MaxAttempts: engineCfg.Retry.MaxAttempts,
		BaseDelayMs: engineCfg.Retry.BaseDelayMs,
		MaxDelay:    time.Duration(engineCfg.Retry.MaxDelayMs) * time.Millisecond,
		CoolOff:     time.Duration(engineCfg.Retry.CoolOffSec) * time.Second,
	}, logger)

	exchCfg, hasExchange := app.Cfg.Exchanges[app.Cfg.App.CurrentExchange]
	var liveAdapter *ccxtadapter.LiveAdapter
	if hasExchange {
		liveAdapter = ccxtadapter.NewLiveAdapter(ccxtadapter.Config{
			BaseURL:       exchCfg.BaseURL,
			WsURL:         exchCfg.WsURL,
			DefaultMinUsd: engineCfg.Guards.MinNotionalUsd,
		}, logger)
		liveAdapter.StartTickerStream(engineCfg.Symbols)
		defer liveAdapter.StopTickerStream()
	}

	var marketData loops.MarketDataAdapter
	var liveBroker ordermanager.Broker
	if liveAdapter != nil {
		marketData = liveAdapter
		liveBroker = liveAdapter
	} else {
		marketData = ccxtadapter.UnavailableAdapter{}
		liveBroker = ccxtadapter.UnavailableAdapter{}
	}

	paperAdapter := ccxtadapter.NewPaperAdapter(ccxtadapter.PaperConfig{
		FeeRateBps:      engineCfg.Paper.FeeRateBps,
		SlippageBps:     engineCfg.Paper.SlippageBps,
		StartingCashUsd: engineCfg.Paper.StartingCashUsd,
		MinNotionalUsd:  engineCfg.Guards.MinNotionalUsd,
	}, marketData, logger)

	snapshot := types.NewAccountSnapshot(engineCfg.Paper.StartingCashUsd)

	orderMgr := ordermanager.New(orderStore, inv, positionSM, gatekeeper, paperAdapter, liveBroker, retryExec, bus, snapshot, store, ks)

	trailing := trailingstop.New(trailingstop.Config{
		ActivationPct: engineCfg.TrailingStop.ActivationPct,
		TrailPct:      engineCfg.TrailingStop.TrailPct,
		AtrMultiplier: engineCfg.TrailingStop.AtrMultiplier,
	})

	var reconcileAdapter reconcile.ExchangeAdapter = ccxtadapter.UnavailableAdapter{}
	if liveAdapter != nil {
		reconcileAdapter = liveAdapter
	}
	reconciler := reconcile.New(reconcileAdapter, orderStore, inv, ks, bus, logger)

	mom := strategy.NewMomentum(5, decimal.NewFromFloat(0.5), decimal.NewFromFloat(3))

	signalQueue := signalqueue.New(256)

	tradingLoops := loops.New(
		loops.Config{
			Symbols:        engineCfg.Symbols,
			Interval:       engineCfg.Interval,
			CandleLimit:    engineCfg.CandleLimit,
			Live:           engineCfg.AllowLiveTrading,
			MaxPositionUsd: engineCfg.Risk.MaxPositionUsd,
			DeployPercent:  engineCfg.Risk.DeployPercent,
		},
		snapshot, candleStore, marketData, mom, trailing, orderMgr, reconciler, nil, signalQueue, bus, logger,
		ks, retryExec,
	)

	if err := sched.Register("market-data", engineCfg.PollIntervalMs, tradingLoops.MarketDataLoop); err != nil {
		return fmt.Errorf("register market-data loop: %w", err)
	}
	if err := sched.Register("strategy", engineCfg.StrategyIntervalMs, tradingLoops.StrategyLoop); err != nil {
		return fmt.Errorf("register strategy loop: %w", err)
	}
	if err := sched.Register("execute", engineCfg.StrategyIntervalMs, tradingLoops.ExecutionLoop); err != nil {
		return fmt.Errorf("register execution loop: %w", err)
	}
	if err := sched.Register("reconcile", engineCfg.Data.PollingMs, tradingLoops.ReconciliationLoop); err != nil {
		return fmt.Errorf("register reconcile loop: %w", err)
	}
	if err := sched.Register("sentiment", 5*60*1000, tradingLoops.SentimentLoop); err != nil {
		return fmt.Errorf("register sentiment loop: %w", err)
	}
	if err := sched.Register("risk-monitor", 30*1000, tradingLoops.RiskMonitorLoop); err != nil {
		return fmt.Errorf("register risk-monitor loop: %w", err)
	}

	healthMgr := health.New(logger, bus)
	healthMgr.Register("kill_switch", func() error {
		if ks.IsTriggered() {
			return fmt.Errorf("kill switch triggered: %s", ks.State().Reason)
		}
		return nil
	})
	if err := sched.Register("health-report", 30*1000, func(ctx context.Context) error { return healthMgr.Run() }); err != nil {
		return fmt.Errorf("register health-report loop: %w", err)
	}

	var cancelBroker commands.CancelBroker = ccxtadapter.UnavailableAdapter{}
	if liveAdapter != nil {
		cancelBroker = liveAdapter
	}
	_ = commands.New(orderStore, positionSM, sched, bus, cancelBroker, logger, "strategy")

	runners := []bootstrap.Runner{&engineRunner{sched: sched}}
	if engineCfg.MetricsPort > 0 {
		runners = append(runners, &metricsRunner{srv: inframetrics.NewServer(engineCfg.MetricsPort, logger)})
	}

	return app.Run(runners...)
}
