package timeoff

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// MEMORY DIRECTORY - In-memory Directory and AssignmentStore (for testing/dev)
// =============================================================================

type tenantKey[T comparable] struct {
	TenantID generic.TenantID
	ID       T
}

// MemoryDirectory keeps employees, categories, policies and assignments in
// memory.
type MemoryDirectory struct {
	mu          sync.RWMutex
	employees   map[tenantKey[generic.EntityID]]bool
	categories  map[tenantKey[generic.CategoryID]]bool
	policies    map[tenantKey[generic.PolicyID]]Policy
	assignments map[tenantKey[string]]PolicyAssignment
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		employees:   make(map[tenantKey[generic.EntityID]]bool),
		categories:  make(map[tenantKey[generic.CategoryID]]bool),
		policies:    make(map[tenantKey[generic.PolicyID]]Policy),
		assignments: make(map[tenantKey[string]]PolicyAssignment),
	}
}

func (d *MemoryDirectory) AddEmployee(tenantID generic.TenantID, id generic.EntityID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[tenantKey[generic.EntityID]{tenantID, id}] = true
}

func (d *MemoryDirectory) AddCategory(tenantID generic.TenantID, id generic.CategoryID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.categories[tenantKey[generic.CategoryID]{tenantID, id}] = true
}

// AddPolicy registers p under tenantID after validating it.
func (d *MemoryDirectory) AddPolicy(tenantID generic.TenantID, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p.TenantID = tenantID
	d.policies[tenantKey[generic.PolicyID]{tenantID, p.ID}] = p
	return nil
}

func (d *MemoryDirectory) EmployeeExists(_ context.Context, tenantID generic.TenantID, id generic.EntityID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.employees[tenantKey[generic.EntityID]{tenantID, id}], nil
}

func (d *MemoryDirectory) CategoryExists(_ context.Context, tenantID generic.TenantID, id generic.CategoryID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.categories[tenantKey[generic.CategoryID]{tenantID, id}], nil
}

func (d *MemoryDirectory) Policy(_ context.Context, tenantID generic.TenantID, id generic.PolicyID) (Policy, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.policies[tenantKey[generic.PolicyID]{tenantID, id}]
	if !ok {
		return Policy{}, generic.NotFound("policy", string(id))
	}
	return p, nil
}

func (d *MemoryDirectory) Assignments(_ context.Context, key generic.LedgerKey) ([]PolicyAssignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PolicyAssignment
	for _, a := range d.assignments {
		if LedgerKeyOf(a) == key {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveAt.Before(out[j].EffectiveAt) })
	return out, nil
}

func (d *MemoryDirectory) GetAssignment(_ context.Context, tenantID generic.TenantID, id string) (PolicyAssignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.assignments[tenantKey[string]{tenantID, id}]
	if !ok {
		return PolicyAssignment{}, generic.NotFound("assignment", id)
	}
	return a, nil
}

func (d *MemoryDirectory) SaveAssignment(_ context.Context, a PolicyAssignment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignments[tenantKey[string]{a.TenantID, a.ID}] = a
	return nil
}

func (d *MemoryDirectory) DeleteAssignment(_ context.Context, tenantID generic.TenantID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := tenantKey[string]{tenantID, id}
	if _, ok := d.assignments[k]; !ok {
		return generic.NotFound("assignment", id)
	}
	delete(d.assignments, k)
	return nil
}

func (d *MemoryDirectory) AssignedLedgers(_ context.Context) ([]generic.LedgerKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[generic.LedgerKey]bool)
	var keys []generic.LedgerKey
	for _, a := range d.assignments {
		key := LedgerKeyOf(a)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Compile-time checks
var (
	_ Directory       = (*MemoryDirectory)(nil)
	_ AssignmentStore = (*MemoryDirectory)(nil)
)
