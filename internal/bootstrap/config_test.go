package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/internal/config"
)

func TestCheckPreFlight_DbosEngineRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{App: config.AppConfig{EngineType: "dbos"}}
	err := checkPreFlight(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestCheckPreFlight_SimpleEngineDoesNotRequireDatabaseURL(t *testing.T) {
	cfg := &Config{App: config.AppConfig{EngineType: "simple"}}
	assert.NoError(t, checkPreFlight(cfg))
}

func TestCheckPreFlight_MockExchangeSkipsTLSCheck(t *testing.T) {
	cfg := &Config{App: config.AppConfig{EngineType: "simple", CurrentExchange: "mock"}}
	assert.NoError(t, checkPreFlight(cfg))
}

func TestCheckPreFlight_MissingTLSKeyFileFails(t *testing.T) {
	cfg := &Config{
		App: config.AppConfig{EngineType: "simple", CurrentExchange: "binance"},
		Exchanges: map[string]config.ExchangeConfig{
			"binance": {TLSKeyFile: filepath.Join(t.TempDir(), "does-not-exist.pem")},
		},
	}
	err := checkPreFlight(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCheckPreFlight_InsecureTLSKeyFilePermissionsFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("key"), 0644))

	cfg := &Config{
		App: config.AppConfig{EngineType: "simple", CurrentExchange: "binance"},
		Exchanges: map[string]config.ExchangeConfig{
			"binance": {TLSKeyFile: path},
		},
	}
	err := checkPreFlight(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestCheckPreFlight_SecureTLSKeyFilePermissionsPasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, []byte("key"), 0600))

	cfg := &Config{
		App: config.AppConfig{EngineType: "simple", CurrentExchange: "binance"},
		Exchanges: map[string]config.ExchangeConfig{
			"binance": {TLSKeyFile: path},
		},
	}
	assert.NoError(t, checkPreFlight(cfg))
}
