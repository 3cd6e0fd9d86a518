// Package killswitch implements the Kill Switch component (C5): persistent,
// sticky trip state gated by drawdown, consecutive losses, spread violations,
// and API error rate. Grounded on internal/risk/circuit_breaker.go's
// CircuitBreaker, extended with write-through persistence, a reason string,
// and a window-evicted spread-violation sequence.
package killswitch

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State is the persisted row shape for the kill_switch table.
type State struct {
	Triggered         bool
	Reason            string
	TriggeredAt       *time.Time
	ConsecutiveLosses int
	SpreadViolations  []time.Time
}

// Persister write-throughs every state change.
type Persister interface {
	SaveKillSwitch(s State) error
	LoadKillSwitch() (*State, error)
}

// Config holds the thresholds from configuration's killSwitchConfig section.
type Config struct {
	MaxDrawdownPct            decimal.Decimal
	MaxConsecutiveLosses      int
	ApiErrorThreshold         int
	SpreadViolationsLimit     int
	SpreadViolationsWindowMin int
}

// KillSwitch is the sticky halt gate. A triggered switch only clears via Reset.
type KillSwitch struct {
	mu        sync.Mutex
	state     State
	cfg       Config
	persister Persister
}

func New(cfg Config, persister Persister) *KillSwitch {
	return &KillSwitch{cfg: cfg, persister: persister}
}

// Init loads the persisted row. If it was left triggered, the process
// continues; downstream gates observe IsTriggered() and refuse new entries.
func (k *KillSwitch) Init() error {
	if k.persister == nil {
		return nil
	}
	loaded, err := k.persister.LoadKillSwitch()
	if err != nil {
		return fmt.Errorf("killswitch: init: %w", err)
	}
	if loaded != nil {
		k.mu.Lock()
		k.state = *loaded
		k.mu.Unlock()
	}
	return nil
}

func (k *KillSwitch) IsTriggered() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Triggered
}

func (k *KillSwitch) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.state
	s.SpreadViolations = append([]time.Time(nil), k.state.SpreadViolations...)
	return s
}

// Trigger is one-shot and sticky: a no-op if already triggered.
func (k *KillSwitch) Trigger(reason string) error {
	k.mu.Lock()
	if k.state.Triggered {
		k.mu.Unlock()
		return nil
	}
	now := time.Now()
	k.state.Triggered = true
	k.state.Reason = reason
	k.state.TriggeredAt = &now
	k.mu.Unlock()
	return k.persist()
}

// Reset clears all fields, including consecutiveLosses and spreadViolations.
func (k *KillSwitch) Reset() error {
	k.mu.Lock()
	k.state = State{}
	k.mu.Unlock()
	return k.persist()
}

// RecordTradeResult increments the consecutive-losses counter on a loss,
// resets it on a win, and trips at MaxConsecutiveLosses.
func (k *KillSwitch) RecordTradeResult(profitable bool) error {
	k.mu.Lock()
	if profitable {
		k.state.ConsecutiveLosses = 0
		k.mu.Unlock()
		return k.persist()
	}
	k.state.ConsecutiveLosses++
	trip := !k.state.Triggered && k.state.ConsecutiveLosses >= k.cfg.MaxConsecutiveLosses
	k.mu.Unlock()

	if trip {
		return k.Trigger(fmt.Sprintf("%d consecutive losses", k.cfg.MaxConsecutiveLosses))
	}
	return k.persist()
}

// CheckDrawdown trips when (peak-equity)/peak >= MaxDrawdownPct.
func (k *KillSwitch) CheckDrawdown(equity, peak decimal.Decimal) error {
	if peak.IsZero() {
		return nil
	}
	drawdownPct := peak.Sub(equity).Div(peak).Mul(decimal.NewFromInt(100))
	if drawdownPct.GreaterThanOrEqual(k.cfg.MaxDrawdownPct) {
		return k.Trigger(fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", drawdownPct.InexactFloat64(), k.cfg.MaxDrawdownPct.InexactFloat64()))
	}
	return nil
}

// RecordSpreadViolation appends a timestamp, evicts entries outside the
// window, and trips at SpreadViolationsLimit.
func (k *KillSwitch) RecordSpreadViolation() error {
	now := time.Now()
	windowStart := now.Add(-time.Duration(k.cfg.SpreadViolationsWindowMin) * time.Minute)

	k.mu.Lock()
	k.state.SpreadViolations = append(k.state.SpreadViolations, now)
	kept := k.state.SpreadViolations[:0]
	for _, t := range k.state.SpreadViolations {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	k.state.SpreadViolations = kept
	trip := !k.state.Triggered && len(kept) >= k.cfg.SpreadViolationsLimit
	k.mu.Unlock()

	if trip {
		return k.Trigger(fmt.Sprintf("%d spread violations within %d minutes", k.cfg.SpreadViolationsLimit, k.cfg.SpreadViolationsWindowMin))
	}
	return k.persist()
}

// CheckApiErrors trips when count >= ApiErrorThreshold.
func (k *KillSwitch) CheckApiErrors(count int) error {
	if count >= k.cfg.ApiErrorThreshold {
		return k.Trigger(fmt.Sprintf("api error count %d reached threshold %d", count, k.cfg.ApiErrorThreshold))
	}
	return nil
}

func (k *KillSwitch) persist() error {
	if k.persister == nil {
		return nil
	}
	return k.persister.SaveKillSwitch(k.State())
}
