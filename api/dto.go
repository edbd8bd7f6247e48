/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Amounts are integers in the entry's unit (minutes by default).
  Dates are "2006-01-02"; instants are RFC 3339 with nanoseconds. Inputs
  accept either form wherever an instant is expected.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/warp/balance-ledger/factory"
	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

const dateLayout = "2006-01-02"

// =============================================================================
// DIRECTORY
// =============================================================================

// RegisterRequest registers an employee or a category.
type RegisterRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PolicyDTO represents a policy in API responses.
type PolicyDTO struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Type   string             `json:"policy_type"`
	Config factory.PolicyJSON `json:"config"`
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID                string   `json:"id"`
	EmployeeID        string   `json:"employee_id"`
	CategoryID        string   `json:"category_id"`
	PolicyID          string   `json:"policy_id,omitempty"`
	Kind              string   `json:"kind"`
	EffectiveAt       string   `json:"effective_at"`
	ValidityDate      *string  `json:"validity_date,omitempty"`
	ResourceAmount    int64    `json:"resource_amount"`
	ManualAmount      int64    `json:"manual_amount"`
	Amount            int64    `json:"amount"`
	Balance           int64    `json:"balance"`
	Unit              string   `json:"unit"`
	RemovalID         string   `json:"removal_id,omitempty"`
	CreditAdditionIDs []string `json:"credit_addition_ids,omitempty"`
	SourceRef         string   `json:"source_ref,omitempty"`
	Pending           bool     `json:"pending"`
	Reset             bool     `json:"reset,omitempty"`
}

// CreateEntryRequest is the body of POST .../entries.
type CreateEntryRequest struct {
	Kind           string  `json:"kind"`
	ResourceAmount *int64  `json:"resource_amount"`
	ManualAmount   *int64  `json:"manual_amount"`
	EffectiveAt    string  `json:"effective_at"`
	ValidityDate   *string `json:"validity_date"`
	SourceRef      string  `json:"source_ref"`
}

// UpdateEntryRequest is the body of PATCH /entries/{id}.
type UpdateEntryRequest struct {
	ResourceAmount *int64  `json:"resource_amount"`
	ManualAmount   *int64  `json:"manual_amount"`
	ValidityDate   *string `json:"validity_date"`
	ClearValidity  bool    `json:"clear_validity"`
}

// DestroyEntriesRequest is the body of POST /entries/destroy.
type DestroyEntriesRequest struct {
	IDs     []string `json:"ids"`
	Cascade *bool    `json:"cascade"` // defaults to true
}

// ResetRequest is the body of POST .../reset.
type ResetRequest struct {
	EffectiveAt string `json:"effective_at"`
}

// LedgerDTO is a whole ledger.
type LedgerDTO struct {
	EmployeeID string     `json:"employee_id"`
	CategoryID string     `json:"category_id"`
	Version    int64      `json:"version"`
	Pending    bool       `json:"pending"`
	Entries    []EntryDTO `json:"entries"`
}

// =============================================================================
// READ MODELS
// =============================================================================

// PeriodDTO is one accrual period summary.
type PeriodDTO struct {
	StartDate    string  `json:"start_date"`
	ValidityDate *string `json:"validity_date,omitempty"`
	AmountTaken  int64   `json:"amount_taken"`
	PeriodResult int64   `json:"period_result"`
	Balance      int64   `json:"balance"`
}

// BalanceDTO is the settled balance of a ledger at an instant.
type BalanceDTO struct {
	EmployeeID string `json:"employee_id"`
	CategoryID string `json:"category_id"`
	At         string `json:"at,omitempty"`
	Balance    int64  `json:"balance"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignmentDTO represents a policy assignment.
type AssignmentDTO struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	CategoryID  string `json:"category_id"`
	PolicyID    string `json:"policy_id"`
	EffectiveAt string `json:"effective_at"`
}

// AssignRequest is the body of POST .../assignments.
type AssignRequest struct {
	PolicyID    string `json:"policy_id"`
	EffectiveAt string `json:"effective_at"`
}

// ReassignRequest is the body of PUT /assignments/{id}. Omitted fields are
// kept.
type ReassignRequest struct {
	PolicyID    *string `json:"policy_id"`
	EffectiveAt string  `json:"effective_at"`
}

// =============================================================================
// TIME-OFF REQUESTS
// =============================================================================

// TimeOffRequestDTO is the body of POST .../requests.
type TimeOffRequestDTO struct {
	ID   string          `json:"id"`
	Days []RequestDayDTO `json:"days"`
}

// RequestDayDTO is the time taken on one day.
type RequestDayDTO struct {
	Date    string `json:"date"`
	Minutes int64  `json:"minutes"`
}

// =============================================================================
// ADMIN AND ERRORS
// =============================================================================

// CountDTO reports how many records an operation touched.
type CountDTO struct {
	Count int `json:"count"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e generic.Entry) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		EmployeeID:     string(e.Key.EntityID),
		CategoryID:     string(e.Key.CategoryID),
		PolicyID:       string(e.PolicyID),
		Kind:           string(e.Kind),
		EffectiveAt:    e.EffectiveAt.Time.UTC().Format(time.RFC3339Nano),
		ValidityDate:   formatDate(e.ValidityDate),
		ResourceAmount: e.ResourceAmount.Int(),
		ManualAmount:   e.ManualAmount.Int(),
		Amount:         e.Amount.Int(),
		Balance:        e.Balance.Int(),
		Unit:           string(e.Amount.Unit),
		RemovalID:      string(e.RemovalID),
		SourceRef:      e.SourceRef,
		Pending:        e.Pending,
		Reset:          e.Reset,
	}
	if dto.Unit == "" {
		dto.Unit = string(generic.UnitMinutes)
	}
	for _, id := range e.CreditAdditionIDs {
		dto.CreditAdditionIDs = append(dto.CreditAdditionIDs, string(id))
	}
	return dto
}

func toLedgerDTO(snap generic.LedgerSnapshot) LedgerDTO {
	dto := LedgerDTO{
		EmployeeID: string(snap.Key.EntityID),
		CategoryID: string(snap.Key.CategoryID),
		Version:    snap.Version,
		Pending:    snap.HasPending(),
		Entries:    make([]EntryDTO, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		dto.Entries[i] = toEntryDTO(e)
	}
	return dto
}

func toPeriodDTO(p timeoff.PeriodSummary) PeriodDTO {
	return PeriodDTO{
		StartDate:    p.StartDate.Time.Format(dateLayout),
		ValidityDate: formatDate(p.ValidityDate),
		AmountTaken:  p.AmountTaken.Int(),
		PeriodResult: p.PeriodResult.Int(),
		Balance:      p.Balance.Int(),
	}
}

func toAssignmentDTO(a timeoff.PolicyAssignment) AssignmentDTO {
	return AssignmentDTO{
		ID:          a.ID,
		EmployeeID:  string(a.EntityID),
		CategoryID:  a.Scope,
		PolicyID:    string(a.Resource),
		EffectiveAt: a.EffectiveAt.Time.Format(dateLayout),
	}
}

func formatDate(t *generic.TimePoint) *string {
	if t == nil {
		return nil
	}
	s := t.Time.Format(dateLayout)
	return &s
}
