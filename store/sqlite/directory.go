package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

// =============================================================================
// EMPLOYEES AND CATEGORIES
// =============================================================================

// SaveEmployee registers (or renames) an employee of the tenant.
func (s *Store) SaveEmployee(ctx context.Context, tenantID generic.TenantID, id generic.EntityID, name string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (tenant_id, id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET name = excluded.name
	`, tenantID, id, name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save employee %s: %w", id, err)
	}
	return nil
}

// SaveCategory registers (or renames) a time-off category of the tenant.
func (s *Store) SaveCategory(ctx context.Context, tenantID generic.TenantID, id generic.CategoryID, name string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (tenant_id, id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET name = excluded.name
	`, tenantID, id, name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save category %s: %w", id, err)
	}
	return nil
}

func (s *Store) EmployeeExists(ctx context.Context, tenantID generic.TenantID, id generic.EntityID) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM employees WHERE tenant_id = ? AND id = ?", tenantID, id)
}

func (s *Store) CategoryExists(ctx context.Context, tenantID generic.TenantID, id generic.CategoryID) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM categories WHERE tenant_id = ? AND id = ?", tenantID, id)
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// =============================================================================
// POLICIES
// =============================================================================

// SavePolicy validates and stores a policy as its JSON document.
func (s *Store) SavePolicy(ctx context.Context, tenantID generic.TenantID, p timeoff.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	configJSON, err := s.factory.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy %s: %w", p.ID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO policies (tenant_id, id, name, policy_type, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			policy_type = excluded.policy_type,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, tenantID, p.ID, p.Name, p.Type, configJSON, now, now)
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", p.ID, err)
	}
	return nil
}

// Policy implements timeoff.Directory.
func (s *Store) Policy(ctx context.Context, tenantID generic.TenantID, id generic.PolicyID) (timeoff.Policy, error) {
	var configJSON string
	err := s.q.QueryRowContext(ctx,
		"SELECT config_json FROM policies WHERE tenant_id = ? AND id = ?", tenantID, id,
	).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.Policy{}, generic.NotFound("policy", string(id))
	}
	if err != nil {
		return timeoff.Policy{}, fmt.Errorf("failed to get policy %s: %w", id, err)
	}
	p, err := s.factory.ParsePolicy(configJSON)
	if err != nil {
		return timeoff.Policy{}, fmt.Errorf("stored policy %s: %w", id, err)
	}
	p.TenantID = tenantID
	return p, nil
}

// ListPolicies returns the tenant's policies ordered by id.
func (s *Store) ListPolicies(ctx context.Context, tenantID generic.TenantID) ([]timeoff.Policy, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT config_json FROM policies WHERE tenant_id = ? ORDER BY id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []timeoff.Policy
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		p, err := s.factory.ParsePolicy(configJSON)
		if err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// ASSIGNMENTS (timeoff.AssignmentStore interface)
// =============================================================================

const assignmentColumns = "id, tenant_id, employee_id, category_id, policy_id, effective_at"

func (s *Store) Assignments(ctx context.Context, key generic.LedgerKey) ([]timeoff.PolicyAssignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE tenant_id = ? AND employee_id = ? AND category_id = ?
		ORDER BY effective_at
	`, key.TenantID, key.EntityID, key.CategoryID)
}

func (s *Store) GetAssignment(ctx context.Context, tenantID generic.TenantID, id string) (timeoff.PolicyAssignment, error) {
	list, err := s.queryAssignments(ctx,
		"SELECT "+assignmentColumns+" FROM assignments WHERE tenant_id = ? AND id = ?", tenantID, id)
	if err != nil {
		return timeoff.PolicyAssignment{}, err
	}
	if len(list) == 0 {
		return timeoff.PolicyAssignment{}, generic.NotFound("assignment", id)
	}
	return list[0], nil
}

// SaveAssignment inserts or replaces an assignment by id.
func (s *Store) SaveAssignment(ctx context.Context, a timeoff.PolicyAssignment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments (id, tenant_id, employee_id, category_id, policy_id, effective_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			policy_id = excluded.policy_id,
			effective_at = excluded.effective_at
	`,
		a.ID, a.TenantID, a.EntityID, a.Scope, a.Resource,
		a.EffectiveAt.Date().Time.Format(dateLayout),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Invalid("effective_at", "another assignment starts on this date")
		}
		return fmt.Errorf("failed to save assignment %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, tenantID generic.TenantID, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM assignments WHERE tenant_id = ? AND id = ?", tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NotFound("assignment", id)
	}
	return nil
}

func (s *Store) AssignedLedgers(ctx context.Context) ([]generic.LedgerKey, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT tenant_id, employee_id, category_id FROM assignments
		ORDER BY tenant_id, employee_id, category_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assigned ledgers: %w", err)
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

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]timeoff.PolicyAssignment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []timeoff.PolicyAssignment
	for rows.Next() {
		var (
			a         timeoff.PolicyAssignment
			effective string
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.EntityID, &a.Scope, &a.Resource, &effective); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		d, err := time.Parse(dateLayout, effective)
		if err != nil {
			return nil, fmt.Errorf("assignment %s: bad effective_at %q: %w", a.ID, effective, err)
		}
		a.EffectiveAt = generic.DateOf(d)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Compile-time checks
var (
	_ timeoff.Directory       = (*Store)(nil)
	_ timeoff.AssignmentStore = (*Store)(nil)
)
