/*
service.go - Time-off balance ledger service

PURPOSE:
  The operations the HTTP layer and the background scheduler call. Every
  call names its tenant explicitly; a record owned by another tenant is
  reported as not found.

OPERATIONS:
  Entries:      CreateEntry, UpdateEntry, DestroyEntries, ResetBalance, Entries
  Assignments:  AssignPolicy, ReassignPolicy, UnassignPolicy, Assignments
  Read models:  PeriodsFor, Balance (settle first, never return pending data)
  Background:   RunScheduler, RunSchedulerAll

CONSISTENCY:
  Mutations are synchronous and transactional at the "entries written plus
  descendants marked pending" granularity. Recomputation of the marked
  entries is asynchronous (see cascade.go); callers reading balances straight
  from Entries may see pending entries.

SEE ALSO:
  - ledger.go: Mutation path
  - reconciler.go: Assignment changes
  - periods.go: Period summaries
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// Deps wires a Service.
type Deps struct {
	Store       generic.TxEntryStore
	Assignments AssignmentStore
	Directory   Directory
	Engine      *Engine
	Clock       generic.Clock
	Logger      *zap.Logger
}

// Service is the time-off balance ledger.
type Service struct {
	store       generic.TxEntryStore
	assignments AssignmentStore
	directory   Directory
	engine      *Engine
	logger      *zap.Logger

	writer     *ledgerWriter
	planner    *AccrualPlanner
	reconciler *reconciler
	scheduler  *Scheduler
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = generic.SystemClock
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	writer := &ledgerWriter{store: d.Store, engine: d.Engine}
	planner := &AccrualPlanner{Directory: d.Directory, Clock: d.Clock}
	return &Service{
		store:       d.Store,
		assignments: d.Assignments,
		directory:   d.Directory,
		engine:      d.Engine,
		logger:      d.Logger,
		writer:      writer,
		planner:     planner,
		reconciler:  &reconciler{writer: writer, planner: planner, assignments: d.Assignments},
		scheduler:   &Scheduler{writer: writer, planner: planner, assignments: d.Assignments, logger: d.Logger},
	}
}

// Engine returns the cascade engine the service notifies.
func (s *Service) Engine() *Engine { return s.engine }

// =============================================================================
// ENTRIES
// =============================================================================

// CreateEntry writes a new entry and marks its descendants pending.
func (s *Service) CreateEntry(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID, amount AmountSpec, effectiveAt generic.TimePoint, opts EntryOptions) (generic.Entry, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return generic.Entry{}, err
	}

	kind := opts.Kind
	if kind == "" {
		kind = generic.KindManual
	}
	switch {
	case !kind.Valid():
		return generic.Entry{}, generic.Invalid("kind", "unknown kind "+string(kind))
	case kind == generic.KindRemoval:
		return generic.Entry{}, generic.Invalid("kind", "removals are generated from additions")
	case amount.ResourceAmount == nil && amount.ManualAmount == nil:
		return generic.Entry{}, generic.Invalid("amount", "resource_amount or manual_amount is required")
	case effectiveAt.IsZero():
		return generic.Entry{}, generic.Invalid("effective_at", "required")
	}
	if opts.ValidityDate != nil {
		if err := s.checkValidity(ctx, key, kind, "", effectiveAt, *opts.ValidityDate); err != nil {
			return generic.Entry{}, err
		}
	}

	entry := generic.Entry{
		Key:            key,
		Kind:           kind,
		EffectiveAt:    effectiveAt,
		ValidityDate:   opts.ValidityDate,
		ResourceAmount: orZero(amount.ResourceAmount),
		ManualAmount:   orZero(amount.ManualAmount),
		SourceRef:      opts.SourceRef,
	}

	var stored generic.Entry
	err := s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		var err error
		stored, err = lt.insert(entry)
		return err
	})
	if err != nil {
		return generic.Entry{}, err
	}
	s.logger.Debug("entry created",
		zap.String("ledger", key.String()),
		zap.String("entry_id", string(stored.ID)),
		zap.String("kind", string(kind)))
	return stored, nil
}

// UpdateEntry overrides editable fields of an entry and marks it and its
// descendants pending.
func (s *Service) UpdateEntry(ctx context.Context, tenantID generic.TenantID, id generic.EntryID, upd EntryUpdate) (generic.Entry, error) {
	prev, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return generic.Entry{}, err
	}
	if upd.ResourceAmount == nil && upd.ManualAmount == nil && upd.ValidityDate == nil && !upd.ClearValidity {
		return generic.Entry{}, generic.Invalid("", "nothing to update")
	}

	next := prev
	if upd.ResourceAmount != nil {
		if prev.PolicyID != "" || prev.Kind == generic.KindRemoval || prev.Reset {
			return generic.Entry{}, generic.Invalid("resource_amount", "derived for policy-driven entries; set manual_amount instead")
		}
		next.ResourceAmount = *upd.ResourceAmount
	}
	if upd.ManualAmount != nil {
		next.ManualAmount = *upd.ManualAmount
	}
	switch {
	case upd.ValidityDate != nil && upd.ClearValidity:
		return generic.Entry{}, generic.Invalid("validity_date", "cannot set and clear at once")
	case upd.ValidityDate != nil:
		if err := s.checkValidity(ctx, prev.Key, prev.Kind, prev.PolicyID, prev.EffectiveAt, *upd.ValidityDate); err != nil {
			return generic.Entry{}, err
		}
		validity := *upd.ValidityDate
		next.ValidityDate = &validity
	case upd.ClearValidity:
		next.ValidityDate = nil
	}

	var stored generic.Entry
	err = s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		var err error
		stored, err = lt.update(prev, next)
		return err
	})
	return stored, err
}

// DestroyEntries deletes entries, and the removals left without additions.
// A removal can only be destroyed together with every addition linked to it.
// cascade=false skips marking descendants pending; meant for bulk cleanup.
func (s *Service) DestroyEntries(ctx context.Context, tenantID generic.TenantID, ids []generic.EntryID, cascade bool) error {
	if len(ids) == 0 {
		return generic.Invalid("ids", "at least one entry id is required")
	}
	selected := make(map[generic.EntryID]bool, len(ids))
	var entries []generic.Entry
	for _, id := range ids {
		if selected[id] {
			continue
		}
		e, err := s.store.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		selected[id] = true
		entries = append(entries, e)
	}
	for _, e := range entries {
		if e.Kind != generic.KindRemoval {
			continue
		}
		for _, aid := range e.CreditAdditionIDs {
			if !selected[aid] {
				return generic.Invalid("ids", fmt.Sprintf("removal %s still expires addition %s", e.ID, aid))
			}
		}
	}

	return s.writer.mutate(ctx, cascade, func(lt *ledgerTx) error {
		// Additions first: their removals go with the last of them.
		for _, e := range entries {
			if e.Kind == generic.KindRemoval {
				continue
			}
			if err := lt.delete(e); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if e.Kind != generic.KindRemoval {
				continue
			}
			if err := lt.dropIfUnlinked(e.Key, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetBalance zeroes the ledger at instant at, e.g. when a contract ends.
// The reset entry's amount is re-derived by the cascade as the negative of
// the balance before it.
func (s *Service) ResetBalance(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID, at generic.TimePoint) (generic.Entry, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return generic.Entry{}, err
	}
	if at.IsZero() {
		return generic.Entry{}, generic.Invalid("effective_at", "required")
	}
	var stored generic.Entry
	err := s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		var err error
		stored, err = lt.insert(generic.Entry{
			Key:            key,
			Kind:           generic.KindManual,
			EffectiveAt:    at,
			ResourceAmount: generic.Minutes(0),
			ManualAmount:   generic.Minutes(0),
			Reset:          true,
		})
		return err
	})
	return stored, err
}

// Entries returns the ledger as stored, pending entries included.
func (s *Service) Entries(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) (generic.LedgerSnapshot, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return generic.LedgerSnapshot{}, err
	}
	return s.store.Ledger(ctx, key)
}

// SettledEntries returns the ledger once nothing in it is pending.
func (s *Service) SettledEntries(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) (generic.LedgerSnapshot, error) {
	return s.settled(ctx, generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID})
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// AssignPolicy assigns policyID from effectiveAt and reconciles the ledger.
func (s *Service) AssignPolicy(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID, policyID generic.PolicyID, effectiveAt generic.TimePoint) (PolicyAssignment, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return PolicyAssignment{}, err
	}
	if _, err := s.directory.Policy(ctx, tenantID, policyID); err != nil {
		return PolicyAssignment{}, err
	}
	if effectiveAt.IsZero() {
		return PolicyAssignment{}, generic.Invalid("effective_at", "required")
	}

	a := PolicyAssignment{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		EntityID:    employeeID,
		Scope:       string(categoryID),
		EffectiveAt: effectiveAt.Date(),
		Resource:    policyID,
	}
	_, err := s.reconcile(ctx, key, func(old AssignmentTimeline) (AssignmentTimeline, func(AssignmentStore) error, error) {
		updated, err := old.With(a)
		return updated, func(as AssignmentStore) error { return as.SaveAssignment(ctx, a) }, err
	})
	if err != nil {
		return PolicyAssignment{}, err
	}
	return a, nil
}

// ReassignPolicy moves an assignment to effectiveAt and, when policyID is
// set, points it at another policy.
func (s *Service) ReassignPolicy(ctx context.Context, tenantID generic.TenantID, assignmentID string, effectiveAt generic.TimePoint, policyID *generic.PolicyID) (PolicyAssignment, error) {
	current, err := s.assignments.GetAssignment(ctx, tenantID, assignmentID)
	if err != nil {
		return PolicyAssignment{}, err
	}
	if policyID != nil {
		if _, err := s.directory.Policy(ctx, tenantID, *policyID); err != nil {
			return PolicyAssignment{}, err
		}
	}

	var moved PolicyAssignment
	_, err = s.reconcile(ctx, LedgerKeyOf(current), func(old AssignmentTimeline) (AssignmentTimeline, func(AssignmentStore) error, error) {
		found, ok := old.Find(assignmentID)
		if !ok {
			return AssignmentTimeline{}, nil, generic.NotFound("assignment", assignmentID)
		}
		moved = found
		if !effectiveAt.IsZero() {
			moved.EffectiveAt = effectiveAt.Date()
		}
		if policyID != nil {
			moved.Resource = *policyID
		}
		updated, err := old.With(moved)
		return updated, func(as AssignmentStore) error { return as.SaveAssignment(ctx, moved) }, err
	})
	if err != nil {
		return PolicyAssignment{}, err
	}
	return moved, nil
}

// UnassignPolicy removes an assignment and the additions only it produced.
func (s *Service) UnassignPolicy(ctx context.Context, tenantID generic.TenantID, assignmentID string) error {
	current, err := s.assignments.GetAssignment(ctx, tenantID, assignmentID)
	if err != nil {
		return err
	}
	_, err = s.reconcile(ctx, LedgerKeyOf(current), func(old AssignmentTimeline) (AssignmentTimeline, func(AssignmentStore) error, error) {
		updated, err := old.Without(assignmentID)
		return updated, func(as AssignmentStore) error { return as.DeleteAssignment(ctx, tenantID, assignmentID) }, err
	})
	return err
}

// Assignments returns the assignment history of one ledger.
func (s *Service) Assignments(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) ([]PolicyAssignment, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	tl, err := s.timeline(ctx, key)
	if err != nil {
		return nil, err
	}
	return tl.Items(), nil
}

// assignmentChange derives the new timeline from the current one, together
// with the write that persists it.
type assignmentChange func(old AssignmentTimeline) (updated AssignmentTimeline, save func(AssignmentStore) error, err error)

// reconcile applies change to the current assignment history of key. When the
// history moves underneath it, the change is rebuilt from fresh state.
func (s *Service) reconcile(ctx context.Context, key generic.LedgerKey, change assignmentChange) (ReconcileResult, error) {
	var err error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		var (
			old, updated AssignmentTimeline
			save         func(AssignmentStore) error
			result       ReconcileResult
		)
		if old, err = s.timeline(ctx, key); err != nil {
			return ReconcileResult{}, err
		}
		if updated, save, err = change(old); err != nil {
			return ReconcileResult{}, err
		}
		result, err = s.reconciler.apply(ctx, key, old, updated, save)
		if errors.Is(err, generic.ErrConcurrentModification) {
			s.logger.Debug("assignments changed during reconciliation, retrying",
				zap.String("ledger", key.String()),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return result, err
		}
		if result.Changed() {
			s.logger.Info("assignment reconciled",
				zap.String("ledger", key.String()),
				zap.Int("inserted", result.Inserted),
				zap.Int("updated", result.Updated),
				zap.Int("deleted", result.Deleted))
		}
		return result, nil
	}
	return ReconcileResult{}, err
}

func (s *Service) timeline(ctx context.Context, key generic.LedgerKey) (AssignmentTimeline, error) {
	return readTimeline(ctx, s.assignments, key)
}

func readTimeline(ctx context.Context, as AssignmentStore, key generic.LedgerKey) (AssignmentTimeline, error) {
	items, err := as.Assignments(ctx, key)
	if err != nil {
		return AssignmentTimeline{}, err
	}
	return generic.NewTimeline(items...)
}

// =============================================================================
// BACKGROUND
// =============================================================================

// RunScheduler generates the additions that came due on one ledger.
func (s *Service) RunScheduler(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) (int, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return 0, err
	}
	return s.scheduler.Run(ctx, key)
}

// RunSchedulerAll generates due additions for every assigned ledger.
func (s *Service) RunSchedulerAll(ctx context.Context) (int, error) {
	return s.scheduler.RunAll(ctx)
}

// =============================================================================
// VALIDATION
// =============================================================================

func (s *Service) checkLedger(ctx context.Context, key generic.LedgerKey) error {
	ok, err := s.directory.EmployeeExists(ctx, key.TenantID, key.EntityID)
	if err != nil {
		return err
	}
	if !ok {
		return generic.NotFound("employee", string(key.EntityID))
	}
	ok, err = s.directory.CategoryExists(ctx, key.TenantID, key.CategoryID)
	if err != nil {
		return err
	}
	if !ok {
		return generic.NotFound("category", string(key.CategoryID))
	}
	return nil
}

// checkValidity accepts a validity date only on additions that can expire.
func (s *Service) checkValidity(ctx context.Context, key generic.LedgerKey, kind generic.EntryKind, policyID generic.PolicyID, at, validity generic.TimePoint) error {
	if kind != generic.KindAddition {
		return generic.Invalid("validity_date", "only additions expire")
	}
	if !validity.Date().After(at.Date()) {
		return generic.Invalid("validity_date", fmt.Sprintf("%s is not after %s", validity.Date(), at.Date()))
	}
	policy, ok, err := s.policyFor(ctx, key, policyID, at)
	if err != nil {
		return err
	}
	if ok && policy.IsCounter() {
		return generic.Invalid("validity_date", "counter policy entries never expire")
	}
	return nil
}

// policyFor resolves policyID, or the policy assigned at instant at.
func (s *Service) policyFor(ctx context.Context, key generic.LedgerKey, policyID generic.PolicyID, at generic.TimePoint) (Policy, bool, error) {
	if policyID == "" {
		tl, err := s.timeline(ctx, key)
		if err != nil {
			return Policy{}, false, err
		}
		active, ok := tl.ActiveAt(at)
		if !ok {
			return Policy{}, false, nil
		}
		policyID = active.Resource
	}
	policy, err := s.directory.Policy(ctx, key.TenantID, policyID)
	if err != nil {
		return Policy{}, false, err
	}
	return policy, true, nil
}

func orZero(a *generic.Amount) generic.Amount {
	if a == nil {
		return generic.Minutes(0)
	}
	return *a
}
