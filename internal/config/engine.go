package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EngineConfig is the configuration surface (§6) for the spot trading engine
// built on top of the legacy Config above. It is loaded from its own YAML
// document rather than extending Config's struct tags, since it governs a
// different engine (internal/engine/*) than the grid/arbitrage one Config
// was written for.
type EngineConfig struct {
	Symbols            []string           `yaml:"symbols" validate:"required,min=1"`
	Interval           string             `yaml:"interval"`
	CandleLimit        int                `yaml:"candle_limit"`
	StrategyIntervalMs int64              `yaml:"strategy_interval_ms" validate:"required,min=100"`
	PollIntervalMs     int64              `yaml:"poll_interval_ms" validate:"required,min=100"`
	Data               DataConfig         `yaml:"data"`
	AllowLiveTrading   bool               `yaml:"allow_live_trading"`
	Risk               RiskSection        `yaml:"risk"`
	Guards             GuardsSection      `yaml:"guards"`
	Gatekeeper         GatekeeperSection  `yaml:"gatekeeper"`
	KillSwitchConfig   KillSwitchSection  `yaml:"kill_switch"`
	Retry              RetrySection       `yaml:"retry"`
	TrailingStop       TrailingStopSection `yaml:"trailing_stop"`
	Paper              PaperSection       `yaml:"paper"`
	SQLitePath         string             `yaml:"sqlite_path"`
	MetricsPort        int                `yaml:"metrics_port"`
}

type DataConfig struct {
	PollingMs int64 `yaml:"polling_ms"`
}

type RiskSection struct {
	MinConfidence        float64         `yaml:"min_confidence"`
	MaxDailyLossUsd      decimal.Decimal `yaml:"max_daily_loss_usd"`
	MaxOpenPositions     int             `yaml:"max_open_positions"`
	MaxPositionUsd       decimal.Decimal `yaml:"max_position_usd"`
	DeployPercent        decimal.Decimal `yaml:"deploy_percent"`
}

type GuardsSection struct {
	MaxSpreadBps         decimal.Decimal `yaml:"max_spread_bps"`
	CooldownMinutes      int             `yaml:"cooldown_minutes"`
	SellCooldownMinutes  int             `yaml:"sell_cooldown_minutes"`
	ChopAdxThreshold     decimal.Decimal `yaml:"chop_adx_threshold"`
	MinNotionalUsd       decimal.Decimal `yaml:"min_notional_usd"`
}

type GatekeeperSection struct {
	FeeRateBps           decimal.Decimal `yaml:"fee_rate_bps"`
	EstimatedSlippageBps decimal.Decimal `yaml:"estimated_slippage_bps"`
	SafetyMarginBps      decimal.Decimal `yaml:"safety_margin_bps"`
	SignalCooldownSec    int64           `yaml:"signal_cooldown_sec"`
}

type KillSwitchSection struct {
	MaxDrawdownPct            decimal.Decimal `yaml:"max_drawdown_pct"`
	MaxConsecutiveLosses      int             `yaml:"max_consecutive_losses"`
	ApiErrorThreshold         int             `yaml:"api_error_threshold"`
	SpreadViolationsLimit     int             `yaml:"spread_violations_limit"`
	SpreadViolationsWindowMin int             `yaml:"spread_violations_window_min"`
}

type RetrySection struct {
	MaxAttempts uint  `yaml:"max_attempts"`
	BaseDelayMs int64 `yaml:"base_delay_ms"`
	MaxDelayMs  int64 `yaml:"max_delay_ms"`
	CoolOffSec  int64 `yaml:"cool_off_sec"`
}

type TrailingStopSection struct {
	ActivationPct decimal.Decimal `yaml:"activation_pct"`
	TrailPct      decimal.Decimal `yaml:"trail_pct"`
	AtrMultiplier decimal.Decimal `yaml:"atr_multiplier"`
}

type PaperSection struct {
	StartingCashUsd decimal.Decimal `yaml:"starting_cash_usd"`
	FeeRateBps      decimal.Decimal `yaml:"fee_rate_bps"`
	SlippageBps     decimal.Decimal `yaml:"slippage_bps"`
}

// LoadEngineConfig reads and validates the engine configuration document,
// expanding environment variables the same way LoadConfig does.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read engine config: %w", err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse engine config: %w", err)
	}

	applyLegacyPaperTradingFlag(&cfg)

	if cfg.Gatekeeper.SignalCooldownSec == 0 {
		cfg.Gatekeeper.SignalCooldownSec = 300
	}

	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("config: engine config requires at least one symbol")
	}
	if cfg.StrategyIntervalMs <= 0 {
		return nil, fmt.Errorf("config: strategy_interval_ms must be positive")
	}
	return &cfg, nil
}

// applyLegacyPaperTradingFlag supports the deprecated PAPER_TRADING boolean
// environment variable: when set, it overrides AllowLiveTrading (PAPER_TRADING=true
// means live trading stays disabled regardless of the YAML value), and logs a
// deprecation warning. This resolves Open Question (a) in favor of the richer
// config schema as canonical, with the legacy flag as a narrowing override only.
func applyLegacyPaperTradingFlag(cfg *EngineConfig) {
	raw, ok := os.LookupEnv("PAPER_TRADING")
	if !ok {
		return
	}
	paperTrading, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return
	}
	slog.Warn("PAPER_TRADING is deprecated; set allow_live_trading in the engine config instead")
	if paperTrading {
		cfg.AllowLiveTrading = false
	}
}
