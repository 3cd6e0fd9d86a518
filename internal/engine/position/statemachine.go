// Package position implements the Position State Machine component (C7): a
// six-state lifecycle per logical position. Grounded on
// internal/trading/position/manager.go's lock-ordering discipline and
// persist-then-apply pattern, adapted from the teacher's many-grid-slots
// model to a single logical position per symbol.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateFlat         State = "flat"
	StatePendingEntry State = "pending_entry"
	StateFilled       State = "filled"
	StateManaging     State = "managing"
	StatePendingExit  State = "pending_exit"
	StateExited       State = "exited"
)

// allowedTransitions enumerates the declared graph from the component
// contract. managing -> managing is allowed for stop/target updates.
var allowedTransitions = map[State]map[State]bool{
	StateFlat:         {StatePendingEntry: true},
	StatePendingEntry: {StateFilled: true, StateFlat: true},
	StateFilled:       {StateManaging: true},
	StateManaging:     {StatePendingExit: true, StateManaging: true},
	StatePendingExit:  {StateExited: true},
	StateExited:       {},
}

// ErrInvalidTransition is returned for any transition outside the declared
// graph; state is left unchanged.
type ErrInvalidTransition struct {
	Symbol string
	From   State
	To     State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("position: invalid transition for %s: %s -> %s", e.Symbol, e.From, e.To)
}

// Record is one row of the PositionLifecycle table.
type Record struct {
	ID         string
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	State      State
	EntryPrice *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	UpdatedAt  time.Time
}

// Persister write-throughs every transition.
type Persister interface {
	SavePositionLifecycle(r Record) error
	LoadPositionLifecycles() ([]Record, error)
}

// Machine owns the lifecycle record per symbol.
//
// LOCK ORDERING: Machine.mu guards the per-symbol record map. There is no
// nested lock in this component; callers that hold an inventory or order
// store lock must never call into Machine while holding it, matching the
// global-before-per-item discipline documented on SuperPositionManager.
type Machine struct {
	mu        sync.Mutex
	records   map[string]*Record
	persister Persister
}

func New(persister Persister) *Machine {
	return &Machine{records: make(map[string]*Record), persister: persister}
}

// Hydrate loads persisted records on startup. Rows already in the exited
// state are not hydrated, matching the component contract.
func (m *Machine) Hydrate() error {
	if m.persister == nil {
		return nil
	}
	loaded, err := m.persister.LoadPositionLifecycles()
	if err != nil {
		return fmt.Errorf("position: hydrate: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range loaded {
		if r.State == StateExited {
			continue
		}
		rec := r
		m.records[r.Symbol] = &rec
	}
	return nil
}

// GetBySymbol returns the single active position for symbol (state != flat,
// exited), or false if none is active.
func (m *Machine) GetBySymbol(symbol string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[symbol]
	if !ok || r.State == StateFlat || r.State == StateExited {
		return Record{}, false
	}
	return *r, true
}

// Transition moves symbol's record to next, persisting the new state and
// optional entry/stop/target fields. Disallowed transitions fail with
// ErrInvalidTransition and leave state unchanged.
func (m *Machine) Transition(symbol string, next State, opts ...func(*Record)) (Record, error) {
	m.mu.Lock()

	cur, ok := m.records[symbol]
	from := StateFlat
	if ok {
		from = cur.State
	}

	if !allowedTransitions[from][next] {
		m.mu.Unlock()
		return Record{}, &ErrInvalidTransition{Symbol: symbol, From: from, To: next}
	}

	if !ok {
		cur = &Record{ID: symbol, Symbol: symbol, State: StateFlat}
		m.records[symbol] = cur
	}
	cur.State = next
	cur.UpdatedAt = time.Now()
	for _, opt := range opts {
		opt(cur)
	}
	snapshot := *cur
	m.mu.Unlock()

	if m.persister != nil {
		if err := m.persister.SavePositionLifecycle(snapshot); err != nil {
			return Record{}, fmt.Errorf("position: persist transition: %w", err)
		}
	}
	return snapshot, nil
}

// WithEntryPrice sets EntryPrice during a Transition call.
func WithEntryPrice(p decimal.Decimal) func(*Record) {
	return func(r *Record) { r.EntryPrice = &p }
}

// WithStopLoss sets StopLoss during a Transition call.
func WithStopLoss(p decimal.Decimal) func(*Record) {
	return func(r *Record) { r.StopLoss = &p }
}

// WithTakeProfit sets TakeProfit during a Transition call.
func WithTakeProfit(p decimal.Decimal) func(*Record) {
	return func(r *Record) { r.TakeProfit = &p }
}

// WithQuantity sets Quantity during a Transition call.
func WithQuantity(q decimal.Decimal) func(*Record) {
	return func(r *Record) { r.Quantity = q }
}
