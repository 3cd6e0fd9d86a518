package bootstrap

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tommyca/spotengine/internal/config"
)

func TestInitLogger_DefaultsToInfoOnUnknownLevel(t *testing.T) {
	cfg := &Config{System: config.SystemConfig{LogLevel: ""}, Trading: config.TradingConfig{Symbol: "BTCUSD"}}
	logger := InitLogger(cfg)
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
}

func TestInitLogger_MapsDebugLevel(t *testing.T) {
	cfg := &Config{System: config.SystemConfig{LogLevel: "DEBUG"}, Trading: config.TradingConfig{Symbol: "BTCUSD"}}
	logger := InitLogger(cfg)
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestInitLogger_MapsErrorLevelSuppressingWarn(t *testing.T) {
	cfg := &Config{System: config.SystemConfig{LogLevel: "ERROR"}, Trading: config.TradingConfig{Symbol: "BTCUSD"}}
	logger := InitLogger(cfg)
	assert.False(t, logger.Enabled(nil, slog.LevelWarn))
	assert.True(t, logger.Enabled(nil, slog.LevelError))
}
