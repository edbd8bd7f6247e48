/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists ledger entries, ledger versions, policies, assignments, employees
  and categories. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxEntryStore:     Ledger entries with pending markers and versions
  timeoff.Directory:        Employee/category/policy lookup per tenant
  timeoff.AssignmentStore:  Effective-dated policy assignments

KEY TABLES:
  entries:      One row per ledger entry. seq (AUTOINCREMENT) is the
                insertion order that breaks effective_at ties.
  ledgers:      One row per (tenant, employee, category) with its version
  policies:     Policy JSON documents (see factory package)
  assignments:  Policy assignments
  employees, categories: Existence checks for the tenant

INDEXES:
  - idx_entries_ledger_order: Ledger() and MarkPendingFrom (hot path)
  - idx_entries_idempotency:  Scheduler re-runs
  - idx_entries_removal:      Credit links of a removal
  - idx_entries_pending:      Crash recovery

TRANSACTIONS:
  WithTx hands the callback a Store bound to the sql.Tx, so every read and
  write inside the callback sees the transaction's own writes. The pool is
  limited to one connection: SQLite allows a single writer anyway, and
  ":memory:" databases are per connection.

TIME FORMAT:
  Instants are stored as fixed-width UTC text (nanosecond precision) so that
  lexical order equals chronological order.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/balance-ledger/factory"
	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

const (
	instantLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout    = "2006-01-02"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db      *sql.DB
	q       querier
	inTx    bool
	factory *factory.PolicyFactory
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, factory: factory.NewPolicyFactory()}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	-- Ledger entries
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		policy_id TEXT,
		kind TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		validity_date TEXT,
		unit TEXT NOT NULL,
		resource_amount TEXT NOT NULL,
		manual_amount TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		removal_id TEXT,
		source_ref TEXT,
		idempotency_key TEXT,
		pending INTEGER NOT NULL DEFAULT 1,
		reset INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_ledger_order
		ON entries(tenant_id, employee_id, category_id, effective_at, seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_removal
		ON entries(removal_id) WHERE removal_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_pending
		ON entries(pending) WHERE pending = 1;
	CREATE INDEX IF NOT EXISTS idx_entries_source
		ON entries(source_ref) WHERE source_ref IS NOT NULL;

	-- Ledger versions (optimistic concurrency for the cascade)
	CREATE TABLE IF NOT EXISTS ledgers (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, employee_id, category_id)
	);

	-- Policies
	CREATE TABLE IF NOT EXISTS policies (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Policy assignments
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (tenant_id, employee_id, category_id, effective_at)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_ledger
		ON assignments(tenant_id, employee_id, category_id, effective_at);

	-- Employees (entities)
	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Time-off categories
	CREATE TABLE IF NOT EXISTS categories (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	`
	_, err := s.q.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// ENTRY STORE (generic.EntryStore interface)
// =============================================================================

const entryColumns = `seq, id, tenant_id, employee_id, category_id, policy_id, kind,
	effective_at, validity_date, unit, resource_amount, manual_amount, amount, balance,
	removal_id, source_ref, idempotency_key, pending, reset`

// Insert stores a new entry, assigning its Seq.
func (s *Store) Insert(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	if e.ID == "" {
		e.ID = generic.EntryID(ulid.Make().String())
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO entries
		(id, tenant_id, employee_id, category_id, policy_id, kind, effective_at, validity_date,
		 unit, resource_amount, manual_amount, amount, balance, removal_id, source_ref,
		 idempotency_key, pending, reset, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.Key.TenantID,
		e.Key.EntityID,
		e.Key.CategoryID,
		nullString(string(e.PolicyID)),
		e.Kind,
		formatInstant(e.EffectiveAt),
		formatDate(e.ValidityDate),
		entryUnit(e),
		e.ResourceAmount.Value.String(),
		e.ManualAmount.Value.String(),
		e.Amount.Value.String(),
		e.Balance.Value.String(),
		nullString(string(e.RemovalID)),
		nullString(e.SourceRef),
		nullString(e.IdempotencyKey),
		e.Pending,
		e.Reset,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Entry{}, generic.ErrDuplicateIdempotencyKey
		}
		return generic.Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return generic.Entry{}, fmt.Errorf("failed to read entry seq: %w", err)
	}
	e.Seq = seq
	e.CreditAdditionIDs = nil
	if err := s.bumpVersion(ctx, e.Key); err != nil {
		return generic.Entry{}, err
	}
	return e, nil
}

// Update replaces the mutable fields of an entry. Key, Seq and idempotency
// key never change.
func (s *Store) Update(ctx context.Context, e generic.Entry) error {
	key, err := s.keyOf(ctx, e.Key.TenantID, e.ID)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE entries SET
			policy_id = ?, kind = ?, effective_at = ?, validity_date = ?, unit = ?,
			resource_amount = ?, manual_amount = ?, amount = ?, balance = ?,
			removal_id = ?, source_ref = ?, pending = ?, reset = ?
		WHERE id = ? AND tenant_id = ?
	`,
		nullString(string(e.PolicyID)),
		e.Kind,
		formatInstant(e.EffectiveAt),
		formatDate(e.ValidityDate),
		entryUnit(e),
		e.ResourceAmount.Value.String(),
		e.ManualAmount.Value.String(),
		e.Amount.Value.String(),
		e.Balance.Value.String(),
		nullString(string(e.RemovalID)),
		nullString(e.SourceRef),
		e.Pending,
		e.Reset,
		e.ID,
		e.Key.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", e.ID, err)
	}
	return s.bumpVersion(ctx, key)
}

// Delete removes an entry. Deleting a removal clears its additions' links.
func (s *Store) Delete(ctx context.Context, tenantID generic.TenantID, id generic.EntryID) error {
	key, err := s.keyOf(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx,
		"UPDATE entries SET removal_id = NULL WHERE removal_id = ? AND tenant_id = ?", id, tenantID); err != nil {
		return fmt.Errorf("failed to unlink removal %s: %w", id, err)
	}
	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM entries WHERE id = ? AND tenant_id = ?", id, tenantID); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return s.bumpVersion(ctx, key)
}

// Get returns one entry of the tenant.
func (s *Store) Get(ctx context.Context, tenantID generic.TenantID, id generic.EntryID) (generic.Entry, error) {
	entries, err := s.queryEntries(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ? AND tenant_id = ?", id, tenantID)
	if err != nil {
		return generic.Entry{}, err
	}
	if len(entries) == 0 {
		return generic.Entry{}, generic.NotFound("entry", string(id))
	}
	e := entries[0]
	if e.Kind == generic.KindRemoval {
		credits, err := s.queryEntries(ctx,
			"SELECT "+entryColumns+" FROM entries WHERE removal_id = ? AND tenant_id = ? ORDER BY effective_at, seq",
			id, tenantID)
		if err != nil {
			return generic.Entry{}, err
		}
		for _, c := range credits {
			e.CreditAdditionIDs = append(e.CreditAdditionIDs, c.ID)
		}
	}
	return e, nil
}

// ExistsIdempotencyKey checks if an entry with this key exists.
func (s *Store) ExistsIdempotencyKey(ctx context.Context, tenantID generic.TenantID, key string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE tenant_id = ? AND idempotency_key = ?",
		tenantID, key,
	).Scan(&count)
	return count > 0, err
}

// Ledger returns every entry of one ledger in ledger order.
func (s *Store) Ledger(ctx context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	version, err := s.version(ctx, key)
	if err != nil {
		return generic.LedgerSnapshot{}, err
	}
	entries, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE tenant_id = ? AND employee_id = ? AND category_id = ?
		ORDER BY effective_at ASC, seq ASC
	`, key.TenantID, key.EntityID, key.CategoryID)
	if err != nil {
		return generic.LedgerSnapshot{}, err
	}

	credits := make(map[generic.EntryID][]generic.EntryID)
	for _, e := range entries {
		if e.Kind == generic.KindAddition && e.RemovalID != "" {
			credits[e.RemovalID] = append(credits[e.RemovalID], e.ID)
		}
	}
	for i := range entries {
		if entries[i].Kind == generic.KindRemoval {
			entries[i].CreditAdditionIDs = credits[entries[i].ID]
		}
	}
	return generic.LedgerSnapshot{Key: key, Version: version, Entries: entries}, nil
}

// MarkPendingFrom flags every entry ordered at or after (at, seq).
func (s *Store) MarkPendingFrom(ctx context.Context, key generic.LedgerKey, at generic.TimePoint, seq int64) (int, error) {
	from := formatInstant(at)
	res, err := s.q.ExecContext(ctx, `
		UPDATE entries SET pending = 1
		WHERE tenant_id = ? AND employee_id = ? AND category_id = ?
		  AND (effective_at > ? OR (effective_at = ? AND seq >= ?))
	`, key.TenantID, key.EntityID, key.CategoryID, from, from, seq)
	if err != nil {
		return 0, fmt.Errorf("failed to mark pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := s.bumpVersion(ctx, key); err != nil {
		return 0, err
	}
	return int(n), nil
}

// SaveComputed writes a recomputed entry if the ledger is still at version.
func (s *Store) SaveComputed(ctx context.Context, key generic.LedgerKey, version int64, c generic.Computed) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE entries SET resource_amount = ?, amount = ?, balance = ?, pending = 0
		WHERE id = ? AND tenant_id = ? AND employee_id = ? AND category_id = ?
		  AND COALESCE((SELECT version FROM ledgers
		                WHERE tenant_id = ? AND employee_id = ? AND category_id = ?), 0) = ?
	`,
		c.ResourceAmount.Value.String(), c.Amount.Value.String(), c.Balance.Value.String(),
		c.EntryID, key.TenantID, key.EntityID, key.CategoryID,
		key.TenantID, key.EntityID, key.CategoryID, version,
	)
	if err != nil {
		return fmt.Errorf("failed to save computed entry %s: %w", c.EntryID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

// PendingLedgers lists ledgers holding at least one pending entry.
func (s *Store) PendingLedgers(ctx context.Context) ([]generic.LedgerKey, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT DISTINCT tenant_id, employee_id, category_id FROM entries WHERE pending = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ledgers: %w", err)
	}
	defer rows.Close()

	var keys []generic.LedgerKey
	for rows.Next() {
		var k generic.LedgerKey
		if err := rows.Scan(&k.TenantID, &k.EntityID, &k.CategoryID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) version(ctx context.Context, key generic.LedgerKey) (int64, error) {
	var v int64
	err := s.q.QueryRowContext(ctx,
		"SELECT version FROM ledgers WHERE tenant_id = ? AND employee_id = ? AND category_id = ?",
		key.TenantID, key.EntityID, key.CategoryID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) bumpVersion(ctx context.Context, key generic.LedgerKey) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledgers (tenant_id, employee_id, category_id, version) VALUES (?, ?, ?, 1)
		ON CONFLICT (tenant_id, employee_id, category_id) DO UPDATE SET version = version + 1
	`, key.TenantID, key.EntityID, key.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to bump ledger version: %w", err)
	}
	return nil
}

func (s *Store) keyOf(ctx context.Context, tenantID generic.TenantID, id generic.EntryID) (generic.LedgerKey, error) {
	var key generic.LedgerKey
	err := s.q.QueryRowContext(ctx,
		"SELECT tenant_id, employee_id, category_id FROM entries WHERE id = ? AND tenant_id = ?",
		id, tenantID,
	).Scan(&key.TenantID, &key.EntityID, &key.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return key, generic.NotFound("entry", string(id))
	}
	return key, err
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.Entry, error) {
	var (
		e                                         generic.Entry
		policyID, validity, removalID             sql.NullString
		sourceRef, idempotencyKey                 sql.NullString
		effectiveAt, unit                         string
		resourceAmount, manualAmount, amount, bal string
	)
	err := rows.Scan(
		&e.Seq, &e.ID, &e.Key.TenantID, &e.Key.EntityID, &e.Key.CategoryID, &policyID, &e.Kind,
		&effectiveAt, &validity, &unit, &resourceAmount, &manualAmount, &amount, &bal,
		&removalID, &sourceRef, &idempotencyKey, &e.Pending, &e.Reset,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	at, err := time.Parse(instantLayout, effectiveAt)
	if err != nil {
		return e, fmt.Errorf("entry %s: bad effective_at %q: %w", e.ID, effectiveAt, err)
	}
	e.EffectiveAt = generic.NewInstant(at)
	if validity.Valid {
		d, err := time.Parse(dateLayout, validity.String)
		if err != nil {
			return e, fmt.Errorf("entry %s: bad validity_date %q: %w", e.ID, validity.String, err)
		}
		v := generic.DateOf(d)
		e.ValidityDate = &v
	}

	u := generic.Unit(unit)
	for _, f := range []struct {
		dst *generic.Amount
		src string
	}{
		{&e.ResourceAmount, resourceAmount},
		{&e.ManualAmount, manualAmount},
		{&e.Amount, amount},
		{&e.Balance, bal},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return e, fmt.Errorf("entry %s: bad amount %q: %w", e.ID, f.src, err)
		}
		*f.dst = generic.Amount{Value: d, Unit: u}
	}

	e.PolicyID = generic.PolicyID(policyID.String)
	e.RemovalID = generic.EntryID(removalID.String)
	e.SourceRef = sourceRef.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.EntryStore) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.bound(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Store) bound(tx *sql.Tx) *Store {
	return &Store{db: s.db, q: tx, inTx: true, factory: s.factory}
}

// =============================================================================
// HELPERS
// =============================================================================

func formatInstant(t generic.TimePoint) string {
	return t.Time.UTC().Format(instantLayout)
}

func formatDate(t *generic.TimePoint) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Date().Time.Format(dateLayout), Valid: true}
}

// entryUnit is the unit shared by an entry's amounts.
func entryUnit(e generic.Entry) generic.Unit {
	for _, a := range []generic.Amount{e.ResourceAmount, e.ManualAmount, e.Amount, e.Balance} {
		if a.Unit != "" {
			return a.Unit
		}
	}
	return generic.UnitMinutes
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time checks
var (
	_ generic.TxEntryStore    = (*Store)(nil)
	_ timeoff.Directory       = (*Store)(nil)
	_ timeoff.AssignmentStore = (*Store)(nil)
)
