// Package health implements the supplemented health-report job: a registry of
// named checks plus a scheduled job that snapshots them and publishes the
// result. Adapted from internal/infrastructure/health/manager.go's
// register/check-map pattern, generalized from a pull-only status map to a
// scheduled push onto the Event Bus (C13).
package health

import (
	"sync"
	"time"

	"github.com/tommyca/spotengine/internal/core"
	"github.com/tommyca/spotengine/internal/engine/eventbus"
	"github.com/tommyca/spotengine/internal/engine/types"
)

// Check is one named health probe; a non-nil error marks the component unhealthy.
type Check func() error

// Manager aggregates health checks and can publish a report.
type Manager struct {
	logger core.ILogger
	bus    *eventbus.Bus
	mu     sync.RWMutex
	checks map[string]Check
}

func New(logger core.ILogger, bus *eventbus.Bus) *Manager {
	return &Manager{
		logger: logger.WithField("component", "health_manager"),
		bus:    bus,
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the named check.
func (m *Manager) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status runs every registered check and returns a name-to-error-message map;
// a healthy component is omitted from the degraded set.
func (m *Manager) Status() (degraded map[string]string, healthy bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	degraded = make(map[string]string)
	healthy = true
	for component, check := range m.checks {
		if err := check(); err != nil {
			degraded[component] = err.Error()
			healthy = false
		}
	}
	return degraded, healthy
}

// Run executes one health-report pass: every registered check runs, and the
// aggregate is published as a warn alert when anything is degraded, or a
// metrics heartbeat otherwise. The caller wraps Run in a scheduler.Work
// closure (func(ctx context.Context) error) when registering it.
func (m *Manager) Run() error {
	degraded, healthy := m.Status()
	if healthy {
		_ = m.bus.Publish(types.ChannelMetrics, types.MetricsPayload{
			Counters:  map[string]int64{"health.checks.failed": 0},
			UptimeSec: int64(time.Since(startTime).Seconds()),
		})
		return nil
	}

	ctxFields := make(map[string]interface{}, len(degraded))
	for k, v := range degraded {
		ctxFields[k] = v
	}
	_ = m.bus.Publish(types.ChannelAlerts, types.AlertPayload{
		Level:     types.AlertWarn,
		Title:     "health.degraded",
		Message:   "one or more components reported unhealthy",
		Context:   ctxFields,
		Timestamp: time.Now(),
	})
	m.logger.Warn("health report: degraded", "components", degraded)
	return nil
}

var startTime = time.Now()
