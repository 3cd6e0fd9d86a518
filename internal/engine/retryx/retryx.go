// Package retryx implements the Retry Executor component (C6): classified
// retry plus circuit breaker around side-effecting calls, generalizing
// pkg/http/client.go's failsafe-go pipeline (retrypolicy + circuitbreaker)
// to the exact classification/backoff/cool-off formulas this engine needs.
package retryx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/tommyca/spotengine/internal/core"
)

// ErrCircuitOpen is surfaced when the executor's circuit breaker refuses a
// call during its cool-off window.
var ErrCircuitOpen = errors.New("retryx: circuit open")

var transientPattern = regexp.MustCompile(`(?i)timeout|econn\w*|\b429\b|\b5\d{2}\b|fetch failed|network`)

// IsTransient classifies an error per the message-matching rule in the
// component contract: timeout | ECONN* | 429 | 5xx | fetch failed | network.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return transientPattern.MatchString(err.Error())
}

// Config holds the retry/backoff/circuit-breaker tuning from configuration's
// retry section.
type Config struct {
	MaxAttempts    uint
	BaseDelayMs    int64
	MaxDelay       time.Duration
	CoolOff        time.Duration // default ~60s
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelayMs: 200,
		MaxDelay:    10 * time.Second,
		CoolOff:     60 * time.Second,
	}
}

// Executor wraps a named class of side-effecting calls with retry and a
// rolling-failure circuit breaker. One Executor instance should back one
// logical call site (e.g. "place_order"), matching the "per executor" rolling
// failure count in the component contract.
type Executor struct {
	label               string
	cfg                 Config
	pipeline            failsafe.Executor[any]
	logger              core.ILogger
	consecutiveFailures int64
}

func New(label string, cfg Config, logger core.ILogger) *Executor {
	maxRetries := 0
	if cfg.MaxAttempts > 1 {
		maxRetries = int(cfg.MaxAttempts) - 1
	}
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsTransient(err) }).
		WithBackoff(time.Duration(cfg.BaseDelayMs)*time.Millisecond, cfg.MaxDelay).
		WithJitterFactor(0.2).
		WithMaxRetries(maxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsTransient(err) }).
		WithFailureThreshold(uint(3 * cfg.MaxAttempts)).
		WithDelay(cfg.CoolOff).
		Build()

	return &Executor{
		label:    label,
		cfg:      cfg,
		pipeline: failsafe.With[any](retry, breaker),
		logger:   logger.WithField("retry_executor", label),
	}
}

// jitteredDelay implements delay(attempt) = baseDelayMs * 2^(attempt-1) with
// +/-20% jitter, capped at cfg.MaxDelay. Nothing calls it: Execute's delays
// come from the failsafe-go builder's backoff and jitter factor set in New.
func (e *Executor) jitteredDelay(attempt int) time.Duration {
	base := float64(e.cfg.BaseDelayMs) * mathPow2(attempt-1)
	jitterRange := base * 0.4
	jittered := base - jitterRange/2 + rand.Float64()*jitterRange
	d := time.Duration(jittered) * time.Millisecond
	if d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}

func mathPow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// Execute runs fn under the classification/retry/circuit-breaker pipeline. A
// non-transient error is surfaced immediately without retry. After the
// circuit trips, calls fail fast with ErrCircuitOpen for the cool-off window.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	result, err := e.pipeline.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		atomic.AddInt64(&e.consecutiveFailures, 1)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, e.label)
		}
		return nil, fmt.Errorf("retryx: %s: %w", e.label, err)
	}
	atomic.StoreInt64(&e.consecutiveFailures, 0)
	return result, nil
}

// ConsecutiveFailures reports how many calls through this executor have
// failed in a row since its last success, feeding the Kill Switch's API
// error-rate trip condition.
func (e *Executor) ConsecutiveFailures() int {
	return int(atomic.LoadInt64(&e.consecutiveFailures))
}
