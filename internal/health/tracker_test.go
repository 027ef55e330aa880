package health

import (
	"errors"
	"testing"
	"time"

	"github.com/abelbrown/waitwiki/internal/model"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecordFailureMarksUnhealthy(t *testing.T) {
	clock := model.NewFakeClock(epoch)
	tr := NewTracker(clock, 0)

	if !tr.IsHealthy(model.CategoryWikipedia) {
		t.Fatal("fresh tracker should report healthy")
	}

	tr.RecordFailure(model.CategoryWikipedia, errors.New("timeout"))
	if tr.IsHealthy(model.CategoryWikipedia) {
		t.Error("expected unhealthy after failure")
	}
	if !tr.IsHealthy(model.CategoryQuotes) {
		t.Error("other categories must stay healthy")
	}
}

func TestSweepForgivesAfterAnHour(t *testing.T) {
	clock := model.NewFakeClock(epoch)
	tr := NewTracker(clock, 0)
	tr.RecordFailure(model.CategoryWikipedia, nil)

	clock.Advance(3_600_001 * time.Millisecond)
	if removed := tr.Sweep(clock.Now()); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if !tr.IsHealthy(model.CategoryWikipedia) {
		t.Error("expected healthy after sweep")
	}
	if tr.Len() != 0 {
		t.Errorf("ledger len = %d, want 0", tr.Len())
	}
}

func TestSweepKeepsRecentFailures(t *testing.T) {
	clock := model.NewFakeClock(epoch)
	tr := NewTracker(clock, 0)
	tr.RecordFailure(model.CategoryTrivia, nil)

	clock.Advance(time.Hour)
	if removed := tr.Sweep(clock.Now()); removed != 0 {
		t.Errorf("failure exactly one hour old should survive, removed %d", removed)
	}
	if tr.IsHealthy(model.CategoryTrivia) {
		t.Error("expected still unhealthy at the boundary")
	}
}

func TestFailureCountAccumulates(t *testing.T) {
	clock := model.NewFakeClock(epoch)
	tr := NewTracker(clock, 0)
	tr.RecordFailure(model.CategoryAdvice, errors.New("first"))
	clock.Advance(time.Minute)
	tr.RecordFailure(model.CategoryAdvice, errors.New("second"))

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].Failures != 2 {
		t.Errorf("failures = %d, want 2", snap[0].Failures)
	}
	if snap[0].LastError != "second" {
		t.Errorf("last error = %q", snap[0].LastError)
	}
	if !snap[0].LastFailure.Equal(epoch.Add(time.Minute)) {
		t.Errorf("last failure = %v", snap[0].LastFailure)
	}
}

func TestHealthyPreservesOrder(t *testing.T) {
	tr := NewTracker(model.NewFakeClock(epoch), 0)
	tr.RecordFailure(model.CategoryFacts, nil)

	got := tr.Healthy([]model.Category{model.CategoryQuotes, model.CategoryFacts, model.CategoryAdvice})
	if len(got) != 2 || got[0] != model.CategoryQuotes || got[1] != model.CategoryAdvice {
		t.Errorf("Healthy = %v", got)
	}
}

func TestRestoreMerges(t *testing.T) {
	clock := model.NewFakeClock(epoch)
	tr := NewTracker(clock, 0)
	tr.RecordFailure(model.CategoryQuotes, nil)

	tr.Restore([]Entry{
		{Category: model.CategoryQuotes, Failures: 5, LastFailure: epoch.Add(-time.Minute)},
		{Category: model.CategoryCocktails, Failures: 1, LastFailure: epoch},
		{Failures: 9},
	})

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	// sorted: cocktails, quotes
	if snap[1].Failures != 5 {
		t.Errorf("quotes failures = %d, want 5", snap[1].Failures)
	}
	if !snap[1].LastFailure.Equal(epoch) {
		t.Errorf("quotes last failure should keep the later time")
	}
	if tr.IsHealthy(model.CategoryCocktails) {
		t.Error("restored entry should exclude cocktails")
	}
}
