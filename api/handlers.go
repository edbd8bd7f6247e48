/*
handlers.go - HTTP API handlers for the balance ledger

PURPOSE:
  Exposes the time-off ledger service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to timeoff.Service.

ENDPOINTS:
  Directory:
    POST   /api/employees                       Register employee
    POST   /api/categories                      Register category

  Policies:
    GET    /api/policies                        List policies
    POST   /api/policies                        Create policy from JSON
    GET    /api/policies/{id}                   Get policy

  Ledger (/api/employees/{e}/categories/{c}):
    GET    .../entries[?settle=true]            Entries, pending included
    POST   .../entries                          Create entry
    GET    .../periods                          Period summaries (settled)
    GET    .../balance[?at=]                    Balance now or at an instant
    POST   .../reset                            Zero the balance
    GET    .../assignments                      Assignment history
    POST   .../assignments                      Assign policy
    POST   .../scheduler/run                    Generate due additions
    POST   .../requests                         Record time-off request
    DELETE .../requests/{requestID}             Cancel time-off request

  Entries and assignments by id:
    PATCH  /api/entries/{id}                    Update entry
    DELETE /api/entries/{id}[?cascade=false]    Destroy entry
    POST   /api/entries/destroy                 Destroy several entries
    PUT    /api/assignments/{id}                Reassign
    DELETE /api/assignments/{id}                Unassign

  Admin:
    POST   /api/admin/scheduler/run             Scheduler for every ledger
    POST   /api/admin/recover                   Enqueue pending ledgers

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, bad date, missing tenant header
  - 404: Employee, category, policy, entry or assignment not found
  - 409: Duplicate request, ledger changed concurrently
  - 422: Ledger rule violated (invalid entry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/factory"
	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Registry stores the records the ledger references. store/sqlite implements
// it.
type Registry interface {
	SaveEmployee(ctx context.Context, tenantID generic.TenantID, id generic.EntityID, name string) error
	SaveCategory(ctx context.Context, tenantID generic.TenantID, id generic.CategoryID, name string) error
	SavePolicy(ctx context.Context, tenantID generic.TenantID, p timeoff.Policy) error
	Policy(ctx context.Context, tenantID generic.TenantID, id generic.PolicyID) (timeoff.Policy, error)
	ListPolicies(ctx context.Context, tenantID generic.TenantID) ([]timeoff.Policy, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *timeoff.Service
	Registry      Registry
	PolicyFactory *factory.PolicyFactory
	Logger        *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *timeoff.Service, registry Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:       svc,
		Registry:      registry,
		PolicyFactory: factory.NewPolicyFactory(),
		Logger:        logger,
	}
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

func (h *Handler) RegisterEmployee(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if err := h.Registry.SaveEmployee(r.Context(), tenantFrom(r), generic.EntityID(req.ID), req.Name); err != nil {
		h.fail(w, "Failed to register employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) RegisterCategory(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if err := h.Registry.SaveCategory(r.Context(), tenantFrom(r), generic.CategoryID(req.ID), req.Name); err != nil {
		h.fail(w, "Failed to register category", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the tenant's policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Registry.ListPolicies(r.Context(), tenantFrom(r))
	if err != nil {
		h.fail(w, "Failed to list policies", err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = h.toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates (or replaces) a policy from its JSON definition.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req factory.PolicyJSON
	if !decode(w, r, &req) {
		return
	}
	policy, err := h.PolicyFactory.FromJSON(req)
	if err != nil {
		h.fail(w, "Invalid policy", err)
		return
	}
	if err := h.Registry.SavePolicy(r.Context(), tenantFrom(r), policy); err != nil {
		h.fail(w, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPolicyDTO(policy))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Registry.Policy(r.Context(), tenantFrom(r), generic.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPolicyDTO(policy))
}

func (h *Handler) toPolicyDTO(p timeoff.Policy) PolicyDTO {
	return PolicyDTO{
		ID:     string(p.ID),
		Name:   p.Name,
		Type:   string(p.Type),
		Config: h.PolicyFactory.ToJSON(p),
	}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// ListEntries returns the ledger as stored. With settle=true pending entries
// are recomputed first.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	list := h.Service.Entries
	if r.URL.Query().Get("settle") == "true" {
		list = h.Service.SettledEntries
	}
	snap, err := list(r.Context(), tenant, emp, cat)
	if err != nil {
		h.fail(w, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(snap))
}

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := parseInstant(req.EffectiveAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_at (use YYYY-MM-DD or RFC 3339)", err)
		return
	}
	validity, err := parseOptionalDate(req.ValidityDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid validity_date (use YYYY-MM-DD)", err)
		return
	}

	tenant, emp, cat := ledgerParams(r)
	entry, err := h.Service.CreateEntry(r.Context(), tenant, emp, cat,
		timeoff.AmountSpec{
			ResourceAmount: minutes(req.ResourceAmount),
			ManualAmount:   minutes(req.ManualAmount),
		},
		at,
		timeoff.EntryOptions{
			Kind:         generic.EntryKind(req.Kind),
			ValidityDate: validity,
			SourceRef:    req.SourceRef,
		})
	if err != nil {
		h.fail(w, "Failed to create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if !decode(w, r, &req) {
		return
	}
	validity, err := parseOptionalDate(req.ValidityDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid validity_date (use YYYY-MM-DD)", err)
		return
	}
	entry, err := h.Service.UpdateEntry(r.Context(), tenantFrom(r), generic.EntryID(chi.URLParam(r, "id")),
		timeoff.EntryUpdate{
			ResourceAmount: minutes(req.ResourceAmount),
			ManualAmount:   minutes(req.ManualAmount),
			ValidityDate:   validity,
			ClearValidity:  req.ClearValidity,
		})
	if err != nil {
		h.fail(w, "Failed to update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteEntry destroys one entry. cascade defaults to true.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	cascade := true
	if v := r.URL.Query().Get("cascade"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cascade flag", err)
			return
		}
		cascade = parsed
	}
	id := generic.EntryID(chi.URLParam(r, "id"))
	if err := h.Service.DestroyEntries(r.Context(), tenantFrom(r), []generic.EntryID{id}, cascade); err != nil {
		h.fail(w, "Failed to destroy entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DestroyEntries destroys several entries at once, e.g. additions together
// with the removal they share.
func (h *Handler) DestroyEntries(w http.ResponseWriter, r *http.Request) {
	var req DestroyEntriesRequest
	if !decode(w, r, &req) {
		return
	}
	cascade := req.Cascade == nil || *req.Cascade
	ids := make([]generic.EntryID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = generic.EntryID(id)
	}
	if err := h.Service.DestroyEntries(r.Context(), tenantFrom(r), ids, cascade); err != nil {
		h.fail(w, "Failed to destroy entries", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: len(ids)})
}

// ResetBalance zeroes the ledger at the given instant.
func (h *Handler) ResetBalance(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := parseInstant(req.EffectiveAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_at (use YYYY-MM-DD or RFC 3339)", err)
		return
	}
	tenant, emp, cat := ledgerParams(r)
	entry, err := h.Service.ResetBalance(r.Context(), tenant, emp, cat, at)
	if err != nil {
		h.fail(w, "Failed to reset balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// =============================================================================
// READ MODEL HANDLERS
// =============================================================================

// GetPeriods returns one summary per accrual period, oldest first.
func (h *Handler) GetPeriods(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	periods, err := h.Service.PeriodsFor(r.Context(), tenant, emp, cat)
	if err != nil {
		h.fail(w, "Failed to get periods", err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns the settled balance, now or at ?at=.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	dto := BalanceDTO{EmployeeID: string(emp), CategoryID: string(cat)}

	var balance generic.Amount
	var err error
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, perr := parseInstant(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use YYYY-MM-DD or RFC 3339)", perr)
			return
		}
		dto.At = raw
		balance, err = h.Service.BalanceAt(r.Context(), tenant, emp, cat, at)
	} else {
		balance, err = h.Service.Balance(r.Context(), tenant, emp, cat)
	}
	if err != nil {
		h.fail(w, "Failed to get balance", err)
		return
	}
	dto.Balance = balance.Int()
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	items, err := h.Service.Assignments(r.Context(), tenant, emp, cat)
	if err != nil {
		h.fail(w, "Failed to list assignments", err)
		return
	}
	dtos := make([]AssignmentDTO, len(items))
	for i, a := range items {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AssignPolicy(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	at, err := parseDate(req.EffectiveAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_at (use YYYY-MM-DD)", err)
		return
	}
	tenant, emp, cat := ledgerParams(r)
	a, err := h.Service.AssignPolicy(r.Context(), tenant, emp, cat, generic.PolicyID(req.PolicyID), at)
	if err != nil {
		h.fail(w, "Failed to assign policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// ReassignPolicy moves an assignment and/or points it at another policy.
func (h *Handler) ReassignPolicy(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if !decode(w, r, &req) {
		return
	}
	var at generic.TimePoint
	if req.EffectiveAt != "" {
		parsed, err := parseDate(req.EffectiveAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_at (use YYYY-MM-DD)", err)
			return
		}
		at = parsed
	}
	var policyID *generic.PolicyID
	if req.PolicyID != nil {
		id := generic.PolicyID(*req.PolicyID)
		policyID = &id
	}
	a, err := h.Service.ReassignPolicy(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), at, policyID)
	if err != nil {
		h.fail(w, "Failed to reassign policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(a))
}

func (h *Handler) UnassignPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.UnassignPolicy(r.Context(), tenantFrom(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, "Failed to unassign policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TIME-OFF REQUEST HANDLERS
// =============================================================================

func (h *Handler) RecordTimeOff(w http.ResponseWriter, r *http.Request) {
	var req TimeOffRequestDTO
	if !decode(w, r, &req) {
		return
	}
	tenant, emp, cat := ledgerParams(r)
	days := make([]timeoff.RequestDay, len(req.Days))
	for i, d := range req.Days {
		date, err := parseDate(d.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid day date (use YYYY-MM-DD)", err)
			return
		}
		days[i] = timeoff.RequestDay{Date: date, Minutes: d.Minutes}
	}
	entries, err := h.Service.RecordTimeOff(r.Context(), tenant, timeoff.TimeOffRequest{
		ID:         req.ID,
		EmployeeID: emp,
		CategoryID: cat,
		Days:       days,
	})
	if err != nil {
		h.fail(w, "Failed to record time off", err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

func (h *Handler) CancelTimeOff(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	n, err := h.Service.CancelTimeOff(r.Context(), tenant, emp, cat, chi.URLParam(r, "requestID"))
	if err != nil {
		h.fail(w, "Failed to cancel time off", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// =============================================================================
// SCHEDULER AND ADMIN HANDLERS
// =============================================================================

// RunScheduler generates the additions (and removals) due for one ledger.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	tenant, emp, cat := ledgerParams(r)
	n, err := h.Service.RunScheduler(r.Context(), tenant, emp, cat)
	if err != nil {
		h.fail(w, "Failed to run scheduler", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// RunSchedulerAll runs the scheduler for every assigned ledger.
func (h *Handler) RunSchedulerAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.RunSchedulerAll(r.Context())
	if err != nil {
		h.fail(w, "Failed to run scheduler", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// RecoverPending enqueues every ledger that still holds pending entries.
func (h *Handler) RecoverPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.Engine().Recover(r.Context())
	if err != nil {
		h.fail(w, "Failed to recover pending ledgers", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Count: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func ledgerParams(r *http.Request) (generic.TenantID, generic.EntityID, generic.CategoryID) {
	return tenantFrom(r),
		generic.EntityID(chi.URLParam(r, "employeeID")),
		generic.CategoryID(chi.URLParam(r, "categoryID"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseDate accepts YYYY-MM-DD.
func parseDate(s string) (generic.TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return generic.TimePoint{}, err
	}
	return generic.NewTimePoint(t.Year(), t.Month(), t.Day()), nil
}

// parseInstant accepts a date (midnight UTC) or an RFC 3339 instant.
func parseInstant(s string) (generic.TimePoint, error) {
	if tp, err := parseDate(s); err == nil {
		return tp, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return generic.TimePoint{}, err
	}
	return generic.NewInstant(t), nil
}

func parseOptionalDate(s *string) (*generic.TimePoint, error) {
	if s == nil {
		return nil, nil
	}
	tp, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func minutes(n *int64) *generic.Amount {
	if n == nil {
		return nil
	}
	a := generic.Minutes(*n)
	return &a
}

// fail maps a service error to its status code.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case generic.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey),
		errors.Is(err, generic.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, generic.ErrInvalidEntry):
		status = http.StatusUnprocessableEntity
	default:
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
