// Package candles implements the Candle Store component (C2): an append-only
// ordered sequence of candles per (symbol, interval) with idempotent upserts.
package candles

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tommyca/spotengine/internal/engine/types"
)

// ErrStaleFeed is returned by GetRecent when the newest candle is older than
// 5 expected intervals.
var ErrStaleFeed = errors.New("candles: stale feed")

const staleFeedMultiplier = 5

type key struct {
	symbol   string
	interval string
}

// Store holds candles in memory, indexed by (symbol, interval) and ordered by
// openTime ascending. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	bars     map[key][]types.Candle
	index    map[key]map[int64]int // openTime unix -> slice index, for O(1) idempotent upsert lookup
	interval map[string]time.Duration
}

func New() *Store {
	return &Store{
		bars:     make(map[key][]types.Candle),
		index:    make(map[key]map[int64]int),
		interval: make(map[string]time.Duration),
	}
}

// RegisterInterval records the wall-clock duration an interval name
// represents (e.g. "1m" -> time.Minute), used by GetRecent's staleness check.
func (s *Store) RegisterInterval(interval string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval[interval] = d
}

// Upsert inserts or replaces the candle for its openTime. Idempotent: calling
// Upsert twice with the same openTime leaves the store in the same state as
// calling it once with the latest value.
func (s *Store) Upsert(symbol, interval string, c types.Candle) error {
	if !c.Valid() {
		return fmt.Errorf("candles: invalid candle for %s/%s at %s", symbol, interval, c.OpenTime)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{symbol, interval}
	if s.index[k] == nil {
		s.index[k] = make(map[int64]int)
	}
	ts := c.OpenTime.UnixNano()

	if idx, ok := s.index[k][ts]; ok {
		s.bars[k][idx] = c
		return nil
	}

	s.bars[k] = append(s.bars[k], c)
	sort.Slice(s.bars[k], func(i, j int) bool { return s.bars[k][i].OpenTime.Before(s.bars[k][j].OpenTime) })
	// openTime index positions shift on insert; rebuild it.
	s.index[k] = make(map[int64]int, len(s.bars[k]))
	for i, bar := range s.bars[k] {
		s.index[k][bar.OpenTime.UnixNano()] = i
	}
	return nil
}

// GetRecent returns the last n candles ordered by openTime ascending. It
// fails with ErrStaleFeed if the newest candle's openTime is older than 5
// expected intervals (only checked when the interval's duration is known via
// RegisterInterval).
func (s *Store) GetRecent(symbol, interval string, n int) ([]types.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key{symbol, interval}
	bars := s.bars[k]
	if len(bars) == 0 {
		return nil, nil
	}

	if d, ok := s.interval[interval]; ok {
		newest := bars[len(bars)-1]
		if time.Since(newest.OpenTime) > time.Duration(staleFeedMultiplier)*d {
			return nil, fmt.Errorf("%w: %s/%s last candle at %s", ErrStaleFeed, symbol, interval, newest.OpenTime)
		}
	}

	if n > len(bars) {
		n = len(bars)
	}
	out := make([]types.Candle, n)
	copy(out, bars[len(bars)-n:])
	return out, nil
}
