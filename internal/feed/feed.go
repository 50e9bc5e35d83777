package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// staleAfter is how old a tick may be before it no longer counts as a price.
const staleAfter = 30 * time.Second

// Tick is the last traded price of one instrument.
type Tick struct {
	InstID  string
	Last    decimal.Decimal
	Updated time.Time
}

// tickStore provides shared price storage for streaming feeds.
type tickStore struct {
	mu      sync.RWMutex
	ticks   map[string]Tick
	updated chan struct{} // closed and replaced on every set
}

func newTickStore() *tickStore {
	return &tickStore{
		ticks:   make(map[string]Tick),
		updated: make(chan struct{}),
	}
}

func (s *tickStore) Tick(instID string) (Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[instID]
	return t, ok
}

func (s *tickStore) IsStale(instID string) bool {
	t, ok := s.Tick(instID)
	if !ok {
		return true
	}
	return time.Since(t.Updated) > staleAfter
}

func (s *tickStore) set(instID string, last decimal.Decimal) {
	if !last.IsPositive() {
		return
	}
	s.mu.Lock()
	s.ticks[instID] = Tick{InstID: instID, Last: last, Updated: time.Now()}
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()
}

func (s *tickStore) waitCh() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// LastPrice blocks until a fresh price for instID is available or ctx ends.
func (s *tickStore) LastPrice(ctx context.Context, instID string) (decimal.Decimal, error) {
	for {
		ch := s.waitCh()
		if !s.IsStale(instID) {
			t, _ := s.Tick(instID)
			return t.Last, nil
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, fmt.Errorf("waiting for %s ticker: %w", instID, ctx.Err())
		case <-ch:
		}
	}
}
