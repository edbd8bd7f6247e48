// Package lock hands out per-ledger mutual-exclusion tokens.
//
// A ledger must never be recomputed by two workers at once. Within one
// process the worker pool already partitions jobs by ledger, but Settle and
// additional processes sharing a database need an explicit token:
//
//   - Memory: process-local, for tests and single-instance deployments
//   - Redis:  SET NX PX with a random token; release only if the token still
//     matches, so an expired holder cannot release a successor's lock
package lock

import (
	"context"
	"sync"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// MEMORY LOCKER
// =============================================================================

type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock takes name if nobody holds it.
func (m *Memory) TryLock(_ context.Context, name string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[name]; ok {
		return nil, false, nil
	}
	m.held[name] = struct{}{}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, name)
			m.mu.Unlock()
		})
	}
	return unlock, true, nil
}

// Held reports whether name is currently held.
func (m *Memory) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

var _ generic.Locker = (*Memory)(nil)
