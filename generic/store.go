/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations use SQLite or in-memory storage.

KEY INTERFACES:
  EntryStore:   Entry persistence, ordered ledger reads, pending markers
  TxEntryStore: Transactional operations (entry + descendant markers, atomically)

LEDGER VERSIONS:
  Every (employee, category) ledger carries a version. Synchronous mutations
  (Insert, Update, Delete, MarkPendingFrom) bump it. SaveComputed, used by the
  cascade, does not bump it but fails with ErrConcurrentModification if the
  version moved since the cascade loaded the ledger. A recomputation that
  raced with an edit therefore never clears a pending flag with stale data.

ORDERING:
  Ledger() returns entries by (EffectiveAt, Seq). Seq is assigned by the store
  on Insert and never changes.

IDEMPOTENCY:
  Entries may carry an idempotency key. Inserting a second entry with the same
  key fails with ErrDuplicateIdempotencyKey. The accrual scheduler relies on
  this to be safely re-run.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing
*/
package generic

import "context"

// =============================================================================
// ENTRY STORE
// =============================================================================

// Computed is the cascade's output for one entry.
type Computed struct {
	EntryID        EntryID
	ResourceAmount Amount
	Amount         Amount
	Balance        Amount
}

// EntryStore handles persistence of ledger entries.
type EntryStore interface {
	// Insert persists a new entry, assigning Seq. Returns the stored entry.
	Insert(ctx context.Context, e Entry) (Entry, error)

	// Update replaces the mutable fields of an existing entry.
	Update(ctx context.Context, e Entry) error

	// Delete removes an entry. Deleting a removal clears the links of its additions.
	Delete(ctx context.Context, tenantID TenantID, id EntryID) error

	// Get returns one entry. ErrNotFound when absent or owned by another tenant.
	Get(ctx context.Context, tenantID TenantID, id EntryID) (Entry, error)

	// ExistsIdempotencyKey checks if an entry with this key exists.
	ExistsIdempotencyKey(ctx context.Context, tenantID TenantID, key string) (bool, error)

	// Ledger returns all entries of one ledger in ledger order, with the
	// ledger's current version.
	Ledger(ctx context.Context, key LedgerKey) (LedgerSnapshot, error)

	// MarkPendingFrom flags every entry ordered at or after (at, seq) as pending.
	// Returns how many entries were flagged.
	MarkPendingFrom(ctx context.Context, key LedgerKey, at TimePoint, seq int64) (int, error)

	// SaveComputed writes recomputed amounts and clears the pending flag,
	// provided the ledger is still at version.
	SaveComputed(ctx context.Context, key LedgerKey, version int64, c Computed) error

	// PendingLedgers lists ledgers holding at least one pending entry.
	PendingLedgers(ctx context.Context) ([]LedgerKey, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxEntryStore wraps EntryStore with transaction support.
// Every synchronous ledger mutation runs inside WithTx: either the triggering
// entry and its pending markers are all persisted, or none are.
type TxEntryStore interface {
	EntryStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(EntryStore) error) error
}
