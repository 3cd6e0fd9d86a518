// Package orders implements the Order State component (C3): orders indexed by
// orderId with a secondary clientOrderId index, an open-order view, and
// monotonic status transitions. Persistence hydration is grounded on
// internal/engine/simple/store_sqlite.go's checksum-validated state blob.
package orders

import (
	"fmt"
	"sync"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// Persister is the subset of the persistent-state interface Order State needs.
type Persister interface {
	SaveOrder(o types.Order) error
	LoadOrders() ([]types.Order, error)
}

// Store is the in-memory, persistence-backed order index.
type Store struct {
	mu           sync.RWMutex
	byOrderID    map[string]types.Order
	byClientID   map[string]string // clientOrderId -> orderId
	persister    Persister
}

func New(persister Persister) *Store {
	return &Store{
		byOrderID:  make(map[string]types.Order),
		byClientID: make(map[string]string),
		persister:  persister,
	}
}

// Hydrate loads all orders from persistent storage on startup.
func (s *Store) Hydrate() error {
	if s.persister == nil {
		return nil
	}
	loaded, err := s.persister.LoadOrders()
	if err != nil {
		return fmt.Errorf("orders: hydrate: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range loaded {
		s.byOrderID[o.OrderID] = o
		if o.ClientOrderID != "" {
			s.byClientID[o.ClientOrderID] = o.OrderID
		}
	}
	return nil
}

// ErrStatusRegression is returned by Upsert when a status transition would
// move a terminal or higher-ranked status backward.
type ErrStatusRegression struct {
	OrderID string
	From    types.OrderStatus
	To      types.OrderStatus
}

func (e *ErrStatusRegression) Error() string {
	return fmt.Sprintf("orders: status regression for %s: %s -> %s", e.OrderID, e.From, e.To)
}

// Upsert inserts or updates order, keyed by orderId, and maintains the
// clientOrderId -> orderId index. Status is enforced monotonic: a terminal
// order never reverts, and status may only advance.
func (s *Store) Upsert(o types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byOrderID[o.OrderID]; ok {
		if !existing.Status.CanAdvanceTo(o.Status) {
			return &ErrStatusRegression{OrderID: o.OrderID, From: existing.Status, To: o.Status}
		}
	}

	s.byOrderID[o.OrderID] = o
	if o.ClientOrderID != "" {
		s.byClientID[o.ClientOrderID] = o.OrderID
	}

	if s.persister != nil {
		if err := s.persister.SaveOrder(o); err != nil {
			return fmt.Errorf("orders: persist: %w", err)
		}
	}
	return nil
}

func (s *Store) GetByOrderID(orderID string) (types.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byOrderID[orderID]
	return o, ok
}

func (s *Store) GetByClientOrderID(clientOrderID string) (types.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orderID, ok := s.byClientID[clientOrderID]
	if !ok {
		return types.Order{}, false
	}
	o, ok := s.byOrderID[orderID]
	return o, ok
}

// GetOpenOrders returns every non-terminal order, optionally filtered by
// symbol (pass "" for all symbols).
func (s *Store) GetOpenOrders(symbol string) []types.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Order
	for _, o := range s.byOrderID {
		if o.Status.IsTerminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}
