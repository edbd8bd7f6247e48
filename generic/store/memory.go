// Package store provides EntryStore implementations.
package store

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	ledgers     map[generic.LedgerKey]map[generic.EntryID]generic.Entry
	index       map[generic.EntryID]generic.LedgerKey
	versions    map[generic.LedgerKey]int64
	idempotency map[idemKey]generic.EntryID
	seq         int64
}

type idemKey struct {
	TenantID generic.TenantID
	Key      string
}

func NewMemory() *Memory {
	return &Memory{
		ledgers:     make(map[generic.LedgerKey]map[generic.EntryID]generic.Entry),
		index:       make(map[generic.EntryID]generic.LedgerKey),
		versions:    make(map[generic.LedgerKey]int64),
		idempotency: make(map[idemKey]generic.EntryID),
	}
}

func (m *Memory) Insert(_ context.Context, e generic.Entry) (generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e generic.Entry) (generic.Entry, error) {
	if e.ID == "" {
		e.ID = generic.EntryID(ulid.Make().String())
	}
	if _, exists := m.index[e.ID]; exists {
		return generic.Entry{}, generic.ErrDuplicateIdempotencyKey
	}
	if e.IdempotencyKey != "" {
		if _, exists := m.idempotency[idemKey{e.Key.TenantID, e.IdempotencyKey}]; exists {
			return generic.Entry{}, generic.ErrDuplicateIdempotencyKey
		}
		m.idempotency[idemKey{e.Key.TenantID, e.IdempotencyKey}] = e.ID
	}
	m.seq++
	e.Seq = m.seq
	e.CreditAdditionIDs = nil

	entries := m.ledgers[e.Key]
	if entries == nil {
		entries = make(map[generic.EntryID]generic.Entry)
		m.ledgers[e.Key] = entries
	}
	entries[e.ID] = e
	m.index[e.ID] = e.Key
	m.versions[e.Key]++
	return e, nil
}

func (m *Memory) Update(_ context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e)
}

func (m *Memory) updateLocked(e generic.Entry) error {
	key, ok := m.index[e.ID]
	if !ok || key.TenantID != e.Key.TenantID {
		return generic.NotFound("entry", string(e.ID))
	}
	existing := m.ledgers[key][e.ID]
	// Seq, key and idempotency key are immutable.
	e.Seq = existing.Seq
	e.Key = existing.Key
	e.IdempotencyKey = existing.IdempotencyKey
	e.CreditAdditionIDs = nil
	m.ledgers[key][e.ID] = e
	m.versions[key]++
	return nil
}

func (m *Memory) Delete(_ context.Context, tenantID generic.TenantID, id generic.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(tenantID, id)
}

func (m *Memory) deleteLocked(tenantID generic.TenantID, id generic.EntryID) error {
	key, ok := m.index[id]
	if !ok || key.TenantID != tenantID {
		return generic.NotFound("entry", string(id))
	}
	e := m.ledgers[key][id]
	if e.Kind == generic.KindRemoval {
		for aid, a := range m.ledgers[key] {
			if a.RemovalID == id {
				a.RemovalID = ""
				m.ledgers[key][aid] = a
			}
		}
	}
	if e.IdempotencyKey != "" {
		delete(m.idempotency, idemKey{tenantID, e.IdempotencyKey})
	}
	delete(m.ledgers[key], id)
	delete(m.index, id)
	m.versions[key]++
	return nil
}

func (m *Memory) Get(_ context.Context, tenantID generic.TenantID, id generic.EntryID) (generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(tenantID, id)
}

func (m *Memory) getLocked(tenantID generic.TenantID, id generic.EntryID) (generic.Entry, error) {
	key, ok := m.index[id]
	if !ok || key.TenantID != tenantID {
		return generic.Entry{}, generic.NotFound("entry", string(id))
	}
	e := m.ledgers[key][id]
	if e.Kind == generic.KindRemoval {
		e.CreditAdditionIDs = m.creditsLocked(key, id)
	}
	return e, nil
}

func (m *Memory) ExistsIdempotencyKey(_ context.Context, tenantID generic.TenantID, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idempotency[idemKey{tenantID, key}]
	return ok, nil
}

func (m *Memory) Ledger(_ context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerLocked(key), nil
}

func (m *Memory) ledgerLocked(key generic.LedgerKey) generic.LedgerSnapshot {
	entries := make([]generic.Entry, 0, len(m.ledgers[key]))
	for _, e := range m.ledgers[key] {
		if e.Kind == generic.KindRemoval {
			e.CreditAdditionIDs = m.creditsLocked(key, e.ID)
		}
		entries = append(entries, e)
	}
	generic.SortEntries(entries)
	return generic.LedgerSnapshot{Key: key, Version: m.versions[key], Entries: entries}
}

func (m *Memory) creditsLocked(key generic.LedgerKey, removalID generic.EntryID) []generic.EntryID {
	var additions []generic.Entry
	for _, a := range m.ledgers[key] {
		if a.RemovalID == removalID {
			additions = append(additions, a)
		}
	}
	generic.SortEntries(additions)
	ids := make([]generic.EntryID, len(additions))
	for i, a := range additions {
		ids[i] = a.ID
	}
	return ids
}

func (m *Memory) MarkPendingFrom(_ context.Context, key generic.LedgerKey, at generic.TimePoint, seq int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markLocked(key, at, seq), nil
}

func (m *Memory) markLocked(key generic.LedgerKey, at generic.TimePoint, seq int64) int {
	from := generic.Entry{EffectiveAt: at, Seq: seq}
	marked := 0
	for id, e := range m.ledgers[key] {
		if e.OrderedBefore(from) {
			continue
		}
		if !e.Pending {
			e.Pending = true
			m.ledgers[key][id] = e
		}
		marked++
	}
	m.versions[key]++
	return marked
}

func (m *Memory) SaveComputed(_ context.Context, key generic.LedgerKey, version int64, c generic.Computed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveComputedLocked(key, version, c)
}

func (m *Memory) saveComputedLocked(key generic.LedgerKey, version int64, c generic.Computed) error {
	if m.versions[key] != version {
		return generic.ErrConcurrentModification
	}
	e, ok := m.ledgers[key][c.EntryID]
	if !ok {
		return generic.ErrConcurrentModification
	}
	e.ResourceAmount = c.ResourceAmount
	e.Amount = c.Amount
	e.Balance = c.Balance
	e.Pending = false
	m.ledgers[key][c.EntryID] = e
	return nil
}

func (m *Memory) PendingLedgers(_ context.Context) ([]generic.LedgerKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []generic.LedgerKey
	for key, entries := range m.ledgers {
		for _, e := range entries {
			if e.Pending {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.EntryStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	ledgers     map[generic.LedgerKey]map[generic.EntryID]generic.Entry
	index       map[generic.EntryID]generic.LedgerKey
	versions    map[generic.LedgerKey]int64
	idempotency map[idemKey]generic.EntryID
	seq         int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		ledgers:     make(map[generic.LedgerKey]map[generic.EntryID]generic.Entry, len(m.ledgers)),
		index:       make(map[generic.EntryID]generic.LedgerKey, len(m.index)),
		versions:    make(map[generic.LedgerKey]int64, len(m.versions)),
		idempotency: make(map[idemKey]generic.EntryID, len(m.idempotency)),
		seq:         m.seq,
	}
	for k, entries := range m.ledgers {
		cp := make(map[generic.EntryID]generic.Entry, len(entries))
		for id, e := range entries {
			cp[id] = e
		}
		s.ledgers[k] = cp
	}
	for k, v := range m.index {
		s.index[k] = v
	}
	for k, v := range m.versions {
		s.versions[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.ledgers = s.ledgers
	m.index = s.index
	m.versions = s.versions
	m.idempotency = s.idempotency
	m.seq = s.seq
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Insert(_ context.Context, e generic.Entry) (generic.Entry, error) {
	return tv.parent.insertLocked(e)
}

func (tv *txMemoryView) Update(_ context.Context, e generic.Entry) error {
	return tv.parent.updateLocked(e)
}

func (tv *txMemoryView) Delete(_ context.Context, tenantID generic.TenantID, id generic.EntryID) error {
	return tv.parent.deleteLocked(tenantID, id)
}

func (tv *txMemoryView) Get(_ context.Context, tenantID generic.TenantID, id generic.EntryID) (generic.Entry, error) {
	return tv.parent.getLocked(tenantID, id)
}

func (tv *txMemoryView) ExistsIdempotencyKey(_ context.Context, tenantID generic.TenantID, key string) (bool, error) {
	_, ok := tv.parent.idempotency[idemKey{tenantID, key}]
	return ok, nil
}

func (tv *txMemoryView) Ledger(_ context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	return tv.parent.ledgerLocked(key), nil
}

func (tv *txMemoryView) MarkPendingFrom(_ context.Context, key generic.LedgerKey, at generic.TimePoint, seq int64) (int, error) {
	return tv.parent.markLocked(key, at, seq), nil
}

func (tv *txMemoryView) SaveComputed(_ context.Context, key generic.LedgerKey, version int64, c generic.Computed) error {
	return tv.parent.saveComputedLocked(key, version, c)
}

func (tv *txMemoryView) PendingLedgers(ctx context.Context) ([]generic.LedgerKey, error) {
	var keys []generic.LedgerKey
	for key, entries := range tv.parent.ledgers {
		for _, e := range entries {
			if e.Pending {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys, nil
}

// Compile-time checks
var (
	_ generic.TxEntryStore = (*Memory)(nil)
	_ generic.EntryStore   = (*txMemoryView)(nil)
)
