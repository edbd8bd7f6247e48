/*
Package generic provides the core balance ledger engine.

PURPOSE:
  This package contains the domain-agnostic building blocks of the balance
  ledger: quantities, instants, ledger entries, per-ledger keys, the anniversary
  period calculator and the effective-dated assignment timeline. Domain
  packages (timeoff) put policies, scheduling and recomputation on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 480 minutes)
  - Entry: One signed, dated record of balance change
  - LedgerKey: (tenant, employee, category) - the unit of sequential consistency
  - Identifiers: Type-safe ids for tenants, employees, categories, policies

DESIGN PRINCIPLES:
  1. Derived fields: Amount = ResourceAmount + ManualAmount, Balance is a
     running total maintained by the cascade, never written by callers
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing employee/category IDs
  4. Explicit tenancy: every key carries its TenantID

USAGE:
  entry := generic.Entry{
      Key:            generic.LedgerKey{TenantID: "acme", EntityID: "emp-1", CategoryID: "vacation"},
      Kind:           generic.KindManual,
      EffectiveAt:    generic.NewInstant(time.Now()),
      ManualAmount:   generic.Minutes(480),
  }

SEE ALSO:
  - period.go: Anniversary period calculator
  - ledger.go: Running balance helpers
  - store.go: Entry persistence interface
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays    Unit = "days"
	UnitHours   Unit = "hours"
	UnitMinutes Unit = "minutes"
)

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

// Minutes is the ledger's native unit: integer minutes.
func Minutes(n int64) Amount { return NewAmountFromInt(n, UnitMinutes) }

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.unitOr(b)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.unitOr(b)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) Int() int64                   { return a.Value.IntPart() }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Unit) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// unitOr keeps the receiver's unit, falling back to b's when the receiver is
// a zero value (so sums can start from Amount{}).
func (a Amount) unitOr(b Amount) Unit {
	if a.Unit == "" {
		return b.Unit
	}
	return a.Unit
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EntityID string
type CategoryID string
type PolicyID string
type EntryID string

// LedgerKey identifies one (employee, category) ledger inside a tenant.
// Ledgers are independent of each other; one ledger is recomputed by at most
// one worker at a time.
type LedgerKey struct {
	TenantID   TenantID
	EntityID   EntityID
	CategoryID CategoryID
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.EntityID, k.CategoryID)
}

// =============================================================================
// ENTRY - One signed, dated record of balance change
// =============================================================================

type EntryKind string

const (
	KindAddition    EntryKind = "addition"    // Policy (or manual) credit
	KindRemoval     EntryKind = "removal"     // Expiration debit for linked additions
	KindManual      EntryKind = "manual"      // Ad-hoc adjustment
	KindConsumption EntryKind = "consumption" // Time-off deduction
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindAddition, KindRemoval, KindManual, KindConsumption:
		return true
	}
	return false
}

type Entry struct {
	ID       EntryID
	Key      LedgerKey
	PolicyID PolicyID // empty for manual entries
	Kind     EntryKind

	EffectiveAt  TimePoint
	ValidityDate *TimePoint // balancer additions only

	ResourceAmount Amount
	ManualAmount   Amount
	Amount         Amount // ResourceAmount + ManualAmount
	Balance        Amount // running total, maintained by the cascade

	// Credit links. An addition points at its removal; a removal lists the
	// additions it draws down (populated by the store on load).
	RemovalID         EntryID
	CreditAdditionIDs []EntryID

	SourceRef      string // originating time-off request, for consumption
	IdempotencyKey string
	Pending        bool
	Reset          bool

	// Seq is the store-assigned insertion order; it breaks EffectiveAt ties.
	Seq int64
}

// IsDebit reports whether the entry consumes credit: negative consumption or
// manual entries. Removals and resets are not debits.
func (e Entry) IsDebit() bool {
	if e.Reset {
		return false
	}
	return (e.Kind == KindConsumption || e.Kind == KindManual) && e.Amount.IsNegative()
}

// IsCredit reports whether the entry is an expiring credit tracked by a removal.
func (e Entry) IsCredit() bool {
	return e.Kind == KindAddition && e.RemovalID != ""
}

// DerivedAmount recomputes Amount from its parts.
func (e Entry) DerivedAmount() Amount {
	return e.ResourceAmount.Add(e.ManualAmount)
}

// OrderedBefore is the ledger order: EffectiveAt, then insertion order.
func (e Entry) OrderedBefore(other Entry) bool {
	if !e.EffectiveAt.Equal(other.EffectiveAt) {
		return e.EffectiveAt.Before(other.EffectiveAt)
	}
	return e.Seq < other.Seq
}
