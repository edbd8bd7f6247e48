/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a tenant with realistic data
	for demos. Each scenario registers a category and a policy, creates a new
	employee, assigns the policy and records some time off.

AVAILABLE SCENARIOS:

	vacation:       Balancer policy assigned two years back, some days taken
	mid-year-hire:  Prorated first credit for an employee assigned in July
	sick-leave:     Zero-nominal counter, only tracks what is taken
	policy-change:  Standard vacation replaced by a richer policy last year
	fiscal-year:    Periods starting April 1st instead of January 1st

HOW SCENARIOS WORK:
 1. Save category and policies (idempotent upserts)
 2. Register a new employee with a generated id
 3. Assign policies, which writes the due additions and removals
 4. Record time-off requests as consumption entries

Loading never deletes anything. Loading a scenario twice creates a second
employee.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "policy-change"}

SEE ALSO:
  - handlers.go: Entry and assignment endpoints
  - timeoff/factory.go: Policy JSON presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioLoadedDTO is returned by LoadScenario.
type ScenarioLoadedDTO struct {
	Scenario   string `json:"scenario"`
	EmployeeID string `json:"employee_id"`
	CategoryID string `json:"category_id"`
}

const workDay = 8 * 60

var scenarios = []ScenarioDTO{
	{
		ID:          "vacation",
		Name:        "Vacation",
		Description: "Yearly balancer credit expiring the following April, with days taken",
	},
	{
		ID:          "mid-year-hire",
		Name:        "Mid-Year Hire",
		Description: "Prorated first credit for an employee assigned in July",
	},
	{
		ID:          "sick-leave",
		Name:        "Sick Leave",
		Description: "Counter policy that only tracks time taken",
	},
	{
		ID:          "policy-change",
		Name:        "Policy Change",
		Description: "Standard vacation replaced by a richer policy, reconciled in place",
	},
	{
		ID:          "fiscal-year",
		Name:        "Fiscal Year",
		Description: "Balancer whose periods start on April 1st",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error)

var loaders = map[string]scenarioLoader{
	"vacation":      loadVacationScenario,
	"mid-year-hire": loadMidYearHireScenario,
	"sick-leave":    loadSickLeaveScenario,
	"policy-change": loadPolicyChangeScenario,
	"fiscal-year":   loadFiscalYearScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into the caller's tenant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	tenant := tenantFrom(r)
	emp := generic.EntityID("emp-" + uuid.NewString()[:8])
	if err := h.Registry.SaveEmployee(ctx, tenant, emp, "Demo employee ("+req.ScenarioID+")"); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	cat, err := load(ctx, h, tenant, emp, time.Now().UTC().Year())
	if err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("tenant", string(tenant)),
		zap.String("employee", string(emp)))
	writeJSON(w, http.StatusOK, ScenarioLoadedDTO{
		Scenario:   req.ScenarioID,
		EmployeeID: string(emp),
		CategoryID: string(cat),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadVacationScenario(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error) {
	// 25 days a year, usable until April 1st of the following year
	cat, err := h.seed(ctx, tenant, "vacation", "Vacation",
		timeoff.VacationJSON("vacation-std", "Standard vacation", 25*workDay, 1, 4, 1))
	if err != nil {
		return "", err
	}
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "vacation-std", generic.StartOfYear(year-2)); err != nil {
		return "", err
	}
	return cat, h.takeDays(ctx, tenant, emp, cat, "summer", generic.NewTimePoint(year-1, time.August, 3), 5)
}

func loadMidYearHireScenario(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error) {
	cat, err := h.seed(ctx, tenant, "vacation", "Vacation",
		timeoff.ProratedVacationJSON("vacation-prorated", "Prorated vacation", 25*workDay, 1, 4, 1))
	if err != nil {
		return "", err
	}
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "vacation-prorated", generic.NewTimePoint(year-1, time.July, 1)); err != nil {
		return "", err
	}
	return cat, h.takeDays(ctx, tenant, emp, cat, "autumn", generic.NewTimePoint(year-1, time.October, 12), 2)
}

func loadSickLeaveScenario(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error) {
	cat, err := h.seed(ctx, tenant, "sick", "Sick leave", timeoff.SickLeaveJSON("sick-leave", "Sick leave"))
	if err != nil {
		return "", err
	}
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "sick-leave", generic.StartOfYear(year-1)); err != nil {
		return "", err
	}
	return cat, h.takeDays(ctx, tenant, emp, cat, "flu", generic.NewTimePoint(year-1, time.February, 6), 3)
}

func loadPolicyChangeScenario(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error) {
	cat, err := h.seed(ctx, tenant, "vacation", "Vacation",
		timeoff.VacationJSON("vacation-std", "Standard vacation", 25*workDay, 1, 4, 1))
	if err != nil {
		return "", err
	}
	if _, err := h.seedPolicy(ctx, tenant, timeoff.VacationJSON("vacation-senior", "Senior vacation", 30*workDay, 1, 4, 1)); err != nil {
		return "", err
	}

	// Standard vacation from three years back, days taken under it
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "vacation-std", generic.StartOfYear(year-3)); err != nil {
		return "", err
	}
	if err := h.takeDays(ctx, tenant, emp, cat, "spring", generic.NewTimePoint(year-2, time.May, 4), 4); err != nil {
		return "", err
	}

	// Promotion: the senior policy takes over last year, replacing its additions
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "vacation-senior", generic.StartOfYear(year-1)); err != nil {
		return "", err
	}
	return cat, nil
}

func loadFiscalYearScenario(ctx context.Context, h *Handler, tenant generic.TenantID, emp generic.EntityID, year int) (generic.CategoryID, error) {
	// Fiscal periods start April 1st; credit usable until June 30th a year later
	cat, err := h.seed(ctx, tenant, "vacation-fy", "Vacation (fiscal year)",
		timeoff.FiscalYearVacationJSON("vacation-fy", "Fiscal year vacation", 20*workDay, 1, 4, 30, 6, 1))
	if err != nil {
		return "", err
	}
	if _, err := h.Service.AssignPolicy(ctx, tenant, emp, cat, "vacation-fy", generic.NewTimePoint(year-2, time.April, 1)); err != nil {
		return "", err
	}
	return cat, h.takeDays(ctx, tenant, emp, cat, "winter", generic.NewTimePoint(year-1, time.January, 9), 3)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seed(ctx context.Context, tenant generic.TenantID, cat generic.CategoryID, name, policyJSON string) (generic.CategoryID, error) {
	if err := h.Registry.SaveCategory(ctx, tenant, cat, name); err != nil {
		return "", err
	}
	if _, err := h.seedPolicy(ctx, tenant, policyJSON); err != nil {
		return "", err
	}
	return cat, nil
}

func (h *Handler) seedPolicy(ctx context.Context, tenant generic.TenantID, policyJSON string) (timeoff.Policy, error) {
	policy, err := h.PolicyFactory.ParsePolicy(policyJSON)
	if err != nil {
		return timeoff.Policy{}, err
	}
	return policy, h.Registry.SavePolicy(ctx, tenant, policy)
}

// takeDays records a request of n consecutive full days.
func (h *Handler) takeDays(ctx context.Context, tenant generic.TenantID, emp generic.EntityID, cat generic.CategoryID, requestID string, from generic.TimePoint, n int) error {
	days := make([]timeoff.RequestDay, n)
	for i := range days {
		days[i] = timeoff.RequestDay{Date: from.AddDays(i), Minutes: workDay}
	}
	_, err := h.Service.RecordTimeOff(ctx, tenant, timeoff.TimeOffRequest{
		ID:         requestID + "-" + string(emp),
		EmployeeID: emp,
		CategoryID: cat,
		Days:       days,
	})
	return err
}
