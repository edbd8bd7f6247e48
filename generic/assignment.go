/*
assignment.go - Effective-dated assignments of a resource to an employee

PURPOSE:
  Employees hold resources that change over time: a time-off policy per
  category, a working place, a presence policy. Each is the same shape: an
  assignment starts at an effective date and lasts until the next assignment
  in the same scope. This file implements that "effective dating" once,
  parameterized by the assigned resource type.

KEY CONCEPTS:
  EffectiveDated[T]:
    One assignment of resource T, starting at EffectiveAt. There is no end
    date; the next assignment in the same scope ends it.

  Timeline[T]:
    All assignments of one (employee, scope), ordered by EffectiveAt. At most
    one assignment may start on a given date.

  FirstDivergence:
    Given the timeline before and after an edit, the earliest instant at which
    the active assignment differs. Everything before it is untouched by the
    edit, which is what lets reconciliation stay minimal.

EXAMPLE:
  tl, _ := generic.NewTimeline(
      generic.EffectiveDated[generic.PolicyID]{ID: "a1", EffectiveAt: jan2013, Resource: "vacation-std"},
  )
  moved, _ := tl.With(generic.EffectiveDated[generic.PolicyID]{ID: "a1", EffectiveAt: jan2014, Resource: "vacation-std"})
  from, changed := generic.FirstDivergence(tl, moved) // jan2013, true

SEE ALSO:
  - timeoff/reconciler.go: Applies timeline edits to the balance ledger
*/
package generic

import (
	"sort"
)

// =============================================================================
// EFFECTIVE-DATED ASSIGNMENT
// =============================================================================

// EffectiveDated assigns Resource to an employee from EffectiveAt onwards.
type EffectiveDated[T comparable] struct {
	ID          string
	TenantID    TenantID
	EntityID    EntityID
	Scope       string // category for time-off policies, empty for single-slot resources
	EffectiveAt TimePoint
	Resource    T
}

// Span is an assignment together with the period it is active for.
type Span[T comparable] struct {
	Assignment EffectiveDated[T]
	Period     Period
}

// =============================================================================
// TIMELINE
// =============================================================================

// Timeline is the ordered assignment history of one (employee, scope).
type Timeline[T comparable] struct {
	items []EffectiveDated[T]
}

// NewTimeline sorts items and rejects two assignments on the same date.
func NewTimeline[T comparable](items ...EffectiveDated[T]) (Timeline[T], error) {
	sorted := append([]EffectiveDated[T](nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveAt.Before(sorted[j].EffectiveAt)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].EffectiveAt.Date().Equal(sorted[i-1].EffectiveAt.Date()) {
			return Timeline[T]{}, Invalid("effective_at", "another assignment already starts on "+sorted[i].EffectiveAt.Date().String())
		}
	}
	return Timeline[T]{items: sorted}, nil
}

// Items returns the assignments in order.
func (tl Timeline[T]) Items() []EffectiveDated[T] {
	return append([]EffectiveDated[T](nil), tl.items...)
}

func (tl Timeline[T]) Len() int { return len(tl.items) }

// Find returns the assignment with the given id.
func (tl Timeline[T]) Find(id string) (EffectiveDated[T], bool) {
	for _, a := range tl.items {
		if a.ID == id {
			return a, true
		}
	}
	return EffectiveDated[T]{}, false
}

// First returns the earliest assignment.
func (tl Timeline[T]) First() (EffectiveDated[T], bool) {
	if len(tl.items) == 0 {
		return EffectiveDated[T]{}, false
	}
	return tl.items[0], true
}

// ActiveAt returns the assignment in effect at t.
func (tl Timeline[T]) ActiveAt(t TimePoint) (EffectiveDated[T], bool) {
	var (
		active EffectiveDated[T]
		found  bool
	)
	for _, a := range tl.items {
		if a.EffectiveAt.After(t) {
			break
		}
		active, found = a, true
	}
	return active, found
}

// Spans returns each assignment with its active period. The last span is
// open ended.
func (tl Timeline[T]) Spans() []Span[T] {
	spans := make([]Span[T], len(tl.items))
	for i, a := range tl.items {
		p := Period{Start: a.EffectiveAt}
		if i+1 < len(tl.items) {
			p.End = tl.items[i+1].EffectiveAt
		}
		spans[i] = Span[T]{Assignment: a, Period: p}
	}
	return spans
}

// With inserts a, or replaces the assignment with the same ID.
func (tl Timeline[T]) With(a EffectiveDated[T]) (Timeline[T], error) {
	items := make([]EffectiveDated[T], 0, len(tl.items)+1)
	for _, existing := range tl.items {
		if existing.ID != a.ID {
			items = append(items, existing)
		}
	}
	return NewTimeline(append(items, a)...)
}

// Without removes the assignment with the given ID.
func (tl Timeline[T]) Without(id string) (Timeline[T], error) {
	if _, ok := tl.Find(id); !ok {
		return Timeline[T]{}, NotFound("assignment", id)
	}
	items := make([]EffectiveDated[T], 0, len(tl.items))
	for _, existing := range tl.items {
		if existing.ID != id {
			items = append(items, existing)
		}
	}
	return NewTimeline(items...)
}

// Equal reports whether both timelines hold the same assignments (ID, start
// and resource) in the same order.
func (tl Timeline[T]) Equal(other Timeline[T]) bool {
	if len(tl.items) != len(other.items) {
		return false
	}
	for i, a := range tl.items {
		b := other.items[i]
		if a.ID != b.ID || a.Resource != b.Resource || !a.EffectiveAt.Equal(b.EffectiveAt) {
			return false
		}
	}
	return true
}

// FirstDivergence returns the earliest instant at which old and updated
// disagree on the active assignment (its resource or its start). ok is false
// when the two timelines are equivalent.
func FirstDivergence[T comparable](old, updated Timeline[T]) (at TimePoint, ok bool) {
	var points []TimePoint
	for _, a := range old.items {
		points = append(points, a.EffectiveAt)
	}
	for _, a := range updated.items {
		points = append(points, a.EffectiveAt)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Before(points[j]) })

	for _, p := range points {
		before, okBefore := old.ActiveAt(p)
		after, okAfter := updated.ActiveAt(p)
		if okBefore != okAfter {
			return p, true
		}
		if !okBefore {
			continue
		}
		if before.Resource != after.Resource || !before.EffectiveAt.Equal(after.EffectiveAt) {
			return p, true
		}
	}
	return TimePoint{}, false
}
