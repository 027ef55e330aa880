// Package health keeps a per-category failure ledger with time-based forgiveness.
//
// A category that failed is skipped by every replenishment trigger until its
// last failure is older than the forgiveness window and a sweep removes it.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/abelbrown/waitwiki/internal/model"
)

// DefaultForgiveness is how long a failure keeps a category out of rotation.
const DefaultForgiveness = time.Hour

// Entry is one ledger row.
type Entry struct {
	Category    model.Category `json:"category"`
	Failures    int            `json:"count"`
	LastFailure time.Time      `json:"last_attempt"`
	LastError   string         `json:"error,omitempty"`
}

// Tracker is the failure ledger. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	clock       model.Clock
	forgiveness time.Duration
	entries     map[model.Category]*Entry
}

// NewTracker creates an empty ledger. A non-positive forgiveness uses DefaultForgiveness.
func NewTracker(clock model.Clock, forgiveness time.Duration) *Tracker {
	if clock == nil {
		clock = model.SystemClock{}
	}
	if forgiveness <= 0 {
		forgiveness = DefaultForgiveness
	}
	return &Tracker{
		clock:       clock,
		forgiveness: forgiveness,
		entries:     make(map[model.Category]*Entry),
	}
}

// RecordFailure bumps the failure count and stamps the failure time.
func (t *Tracker) RecordFailure(cat model.Category, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[cat]
	if !ok {
		e = &Entry{Category: cat}
		t.entries[cat] = e
	}
	e.Failures++
	e.LastFailure = t.clock.Now()
	if cause != nil {
		e.LastError = cause.Error()
	}
}

// IsHealthy is false iff an unexpired entry exists for cat.
func (t *Tracker) IsHealthy(cat model.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[cat]
	if !ok {
		return true
	}
	return t.expired(e, t.clock.Now())
}

// Healthy filters cats down to the healthy ones, preserving order.
func (t *Tracker) Healthy(cats []model.Category) []model.Category {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make([]model.Category, 0, len(cats))
	for _, c := range cats {
		if e, ok := t.entries[c]; ok && !t.expired(e, now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Sweep drops entries whose last failure is older than the forgiveness window.
// Returns the number removed.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for cat, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, cat)
			removed++
		}
	}
	return removed
}

// SweepNow sweeps against the tracker's clock.
func (t *Tracker) SweepNow() int {
	return t.Sweep(t.clock.Now())
}

// Len returns the number of ledger entries, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the ledger sorted by category.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Restore merges persisted entries. Existing entries keep the larger count
// and the later failure time.
func (t *Tracker) Restore(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, in := range entries {
		if in.Category == "" {
			continue
		}
		e, ok := t.entries[in.Category]
		if !ok {
			cp := in
			t.entries[in.Category] = &cp
			continue
		}
		if in.Failures > e.Failures {
			e.Failures = in.Failures
		}
		if in.LastFailure.After(e.LastFailure) {
			e.LastFailure = in.LastFailure
			e.LastError = in.LastError
		}
	}
}

// expired uses strict "older than" so a failure exactly forgiveness ago still counts.
func (t *Tracker) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.LastFailure) > t.forgiveness
}
