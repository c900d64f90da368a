// Package poolstate holds the in-memory view of venue pool state and keeps
// it current through batched on-chain reads.
package poolstate

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/storage"
)

// Store is the mutable cache of per-pool state. Writes are last-write-wins
// and idempotent: applying the same snapshot twice leaves the store
// unchanged. A separate touched set accumulates pools whose state may be
// stale, to be drained by the refresher.
type Store struct {
	mu      sync.RWMutex
	states  map[common.Address]domain.PoolState
	touched map[common.Address]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		states:  make(map[common.Address]domain.PoolState),
		touched: make(map[common.Address]struct{}),
	}
}

// Apply records a pool snapshot, replacing any previous one.
func (s *Store) Apply(addr common.Address, st domain.PoolState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[addr] = st
}

// Get returns the snapshot for a pool.
func (s *Store) Get(addr common.Address) (domain.PoolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[addr]
	return st, ok
}

// PoolState implements the quoter's state source.
func (s *Store) PoolState(_ context.Context, addr common.Address) (domain.PoolState, error) {
	st, ok := s.Get(addr)
	if !ok {
		return domain.PoolState{}, storage.ErrNotFound
	}
	return st, nil
}

// All returns a copy of every tracked pool snapshot.
func (s *Store) All() map[common.Address]domain.PoolState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Address]domain.PoolState, len(s.states))
	for addr, st := range s.states {
		out[addr] = st
	}
	return out
}

// MarkTouched flags a pool as possibly stale.
func (s *Store) MarkTouched(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[addr] = struct{}{}
}

// DrainTouched atomically takes the touched set, leaving it empty. Pools
// touched after the swap land in the next drain.
func (s *Store) DrainTouched() []common.Address {
	s.mu.Lock()
	taken := s.touched
	s.touched = make(map[common.Address]struct{})
	s.mu.Unlock()

	out := make([]common.Address, 0, len(taken))
	for addr := range taken {
		out = append(out, addr)
	}
	return out
}

// TouchedCount reports the pending touched set size.
func (s *Store) TouchedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.touched)
}
