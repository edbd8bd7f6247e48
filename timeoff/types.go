// Package timeoff implements the employee time-off balance ledger.
// It uses the generic engine with time-off policies (counter and balancer),
// the accrual scheduler, the removal calculator, the cascade engine and the
// policy-reassignment reconciler.
package timeoff

import (
	"context"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// POLICY
// =============================================================================

type PolicyType string

const (
	// PolicyCounter accrues indefinitely, never expires.
	PolicyCounter PolicyType = "counter"
	// PolicyBalancer accrues per period and expires at a validity date.
	PolicyBalancer PolicyType = "balancer"
)

// Policy is read-only configuration owned by a tenant.
type Policy struct {
	ID       generic.PolicyID
	TenantID generic.TenantID
	Name     string
	Type     PolicyType

	// NominalAmount is credited once per period. Required for balancers;
	// nil on a counter means zero.
	NominalAmount *generic.Amount

	Schedule generic.AnniversarySchedule
	Prorate  generic.ProrateMethod
}

// PolicyAssignment assigns a time-off policy to an employee for one category.
// Scope holds the category id.
type PolicyAssignment = generic.EffectiveDated[generic.PolicyID]

// AssignmentTimeline is the ordered assignment history of one ledger.
type AssignmentTimeline = generic.Timeline[generic.PolicyID]

// LedgerKeyOf returns the ledger an assignment feeds.
func LedgerKeyOf(a PolicyAssignment) generic.LedgerKey {
	return generic.LedgerKey{TenantID: a.TenantID, EntityID: a.EntityID, CategoryID: generic.CategoryID(a.Scope)}
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Directory resolves the records the ledger references. Employees and
// categories are managed elsewhere; the ledger only needs to know they exist
// for the caller's tenant.
type Directory interface {
	EmployeeExists(ctx context.Context, tenantID generic.TenantID, id generic.EntityID) (bool, error)
	CategoryExists(ctx context.Context, tenantID generic.TenantID, id generic.CategoryID) (bool, error)
	// Policy returns ErrNotFound when the policy is absent for the tenant.
	Policy(ctx context.Context, tenantID generic.TenantID, id generic.PolicyID) (Policy, error)
}

// AssignmentStore persists policy assignments.
type AssignmentStore interface {
	Assignments(ctx context.Context, key generic.LedgerKey) ([]PolicyAssignment, error)
	GetAssignment(ctx context.Context, tenantID generic.TenantID, id string) (PolicyAssignment, error)
	SaveAssignment(ctx context.Context, a PolicyAssignment) error
	DeleteAssignment(ctx context.Context, tenantID generic.TenantID, id string) error
	// AssignedLedgers lists every ledger with at least one assignment.
	AssignedLedgers(ctx context.Context) ([]generic.LedgerKey, error)
}

// =============================================================================
// ENTRY INPUTS
// =============================================================================

// AmountSpec carries the caller-supplied parts of an entry amount. At least
// one must be set.
type AmountSpec struct {
	ResourceAmount *generic.Amount
	ManualAmount   *generic.Amount
}

// EntryOptions qualifies a new entry.
type EntryOptions struct {
	Kind         generic.EntryKind // defaults to manual
	ValidityDate *generic.TimePoint
	SourceRef    string
}

// EntryUpdate overrides editable fields of an existing entry.
type EntryUpdate struct {
	ResourceAmount *generic.Amount
	ManualAmount   *generic.Amount
	ValidityDate   *generic.TimePoint
	ClearValidity  bool
}

// PeriodSummary is the read model of one accrual period.
type PeriodSummary struct {
	StartDate    generic.TimePoint
	ValidityDate *generic.TimePoint
	AmountTaken  generic.Amount
	PeriodResult generic.Amount
	Balance      generic.Amount
}
