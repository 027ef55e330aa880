package coord

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/model"
)

// fakeSource returns one distinct item per call unless an error is set for
// the category.
type fakeSource struct {
	mu    sync.Mutex
	errs  map[model.Category]error
	calls map[model.Category]int
	local map[model.Category][]model.Item
	order []model.Category
	delay time.Duration
	total atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		errs:  make(map[model.Category]error),
		calls: make(map[model.Category]int),
		local: make(map[model.Category][]model.Item),
	}
}

func (f *fakeSource) Fetch(ctx context.Context, cat model.Category) ([]model.Item, error) {
	f.total.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cat]++
	f.order = append(f.order, cat)
	if err := f.errs[cat]; err != nil {
		return nil, err
	}
	return []model.Item{{Category: cat, Title: fmt.Sprintf("%s-%d", cat, f.calls[cat]), Body: "Some body text."}}, nil
}

func (f *fakeSource) Local(cat model.Category) []model.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Item(nil), f.local[cat]...)
}

func (f *fakeSource) fetchOrder() []model.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Category(nil), f.order...)
}

func (f *fakeSource) callsFor(cat model.Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cat]
}

// recordingSleep counts waits without blocking.
type recordingSleep struct {
	n     atomic.Int32
	total atomic.Int64
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.n.Add(1)
	r.total.Add(int64(d))
	return ctx.Err()
}

type harness struct {
	sched  *Scheduler
	source *fakeSource
	cache  *cache.Cache
	health *health.Tracker
	clock  *model.FakeClock
	sleeps *recordingSleep
}

func newHarness(t *testing.T, cfg Config, enabled ...model.Category) *harness {
	t.Helper()
	clock := model.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		source: newFakeSource(),
		cache:  cache.New(clock, cache.DefaultMaxPersist),
		health: health.NewTracker(clock, health.DefaultForgiveness),
		clock:  clock,
		sleeps: &recordingSleep{},
	}
	h.sched = New(Options{
		Config:  cfg,
		Source:  h.source,
		Cache:   h.cache,
		Health:  h.health,
		Clock:   clock,
		Sleep:   h.sleeps.sleep,
		Rand:    rand.New(rand.NewPCG(1, 2)),
		Enabled: enabled,
	})
	return h
}

func fill(c *cache.Cache, cat model.Category, n int) {
	for i := 0; i < n; i++ {
		c.Insert(model.Item{Category: cat, Title: fmt.Sprintf("fill-%s-%d", cat, i), Body: "Filler body."})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPreloadOneSkipsUnhealthy(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes, model.CategoryAdvice)
	h.health.RecordFailure(model.CategoryAdvice, errors.New("down"))

	for i := 0; i < 10; i++ {
		if _, err := h.sched.PreloadOne(context.Background()); err != nil {
			t.Fatalf("PreloadOne: %v", err)
		}
	}
	if got := h.source.callsFor(model.CategoryAdvice); got != 0 {
		t.Errorf("unhealthy category fetched %d times", got)
	}
	if got := h.cache.Count(model.CategoryQuotes); got != 10 {
		t.Errorf("quotes in cache = %d, want 10", got)
	}
}

func TestPreloadOneRecordsFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryTrivia)
	h.source.errs[model.CategoryTrivia] = errors.New("HTTP error: 503")

	if _, err := h.sched.PreloadOne(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if h.health.IsHealthy(model.CategoryTrivia) {
		t.Error("failure should be recorded in the ledger")
	}

	// Nothing healthy left to try.
	if _, err := h.sched.PreloadOne(context.Background()); !errors.Is(err, model.ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}

	// The sweep before the next decision forgives the failure.
	h.clock.Advance(time.Hour + time.Millisecond)
	delete(h.source.errs, model.CategoryTrivia)
	if _, err := h.sched.PreloadOne(context.Background()); err != nil {
		t.Errorf("expected recovery after forgiveness window: %v", err)
	}
}

func TestBatchUpdateResetsClicksWhenEveryFetchFails(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes, model.CategoryAdvice)
	h.source.errs[model.CategoryQuotes] = errors.New("down")
	h.source.errs[model.CategoryAdvice] = errors.New("down")

	h.sched.clicks = 15
	h.sched.lastBatch = h.clock.Now().Add(-61 * time.Second)

	if !h.sched.BatchUpdate(context.Background()) {
		t.Fatal("batch should run at threshold with an old last run")
	}
	if got := h.sched.Clicks(); got != 0 {
		t.Errorf("clicks = %d, want 0", got)
	}
	if h.cache.Len() != 0 {
		t.Errorf("nothing should have been inserted, got %d", h.cache.Len())
	}
	if h.health.Len() != 2 {
		t.Errorf("both failures should be in the ledger, got %d", h.health.Len())
	}
}

func TestBatchUpdateConditions(t *testing.T) {
	tests := []struct {
		name    string
		clicks  int
		lastAgo time.Duration // zero means never ran
		wantRun bool
	}{
		{"below threshold", 14, 0, false},
		{"first run", 15, 0, true},
		{"too soon", 20, 30 * time.Second, false},
		{"gap elapsed", 15, 60 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
			h.sched.clicks = tt.clicks
			if tt.lastAgo > 0 {
				h.sched.lastBatch = h.clock.Now().Add(-tt.lastAgo)
			}
			if got := h.sched.BatchUpdate(context.Background()); got != tt.wantRun {
				t.Fatalf("ran = %v, want %v", got, tt.wantRun)
			}
			wantClicks := tt.clicks
			if tt.wantRun {
				wantClicks = 0
			}
			if got := h.sched.Clicks(); got != wantClicks {
				t.Errorf("clicks = %d, want %d", got, wantClicks)
			}
		})
	}
}

func TestBatchTopUpTargetsAndCaps(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryWikipedia, model.CategoryDataFacts, model.CategoryQuotes, model.CategoryAdvice)
	fill(h.cache, model.CategoryAdvice, 6)
	h.sched.clicks = 15

	if !h.sched.BatchUpdate(context.Background()) {
		t.Fatal("batch should run")
	}

	want := map[model.Category]int{
		model.CategoryWikipedia: 8, // primary cap
		model.CategoryDataFacts: 5, // secondary cap
		model.CategoryQuotes:    3, // other cap
		model.CategoryAdvice:    2, // deficit 8-6
	}
	calls := 0
	for cat, n := range want {
		if got := h.source.callsFor(cat); got != n {
			t.Errorf("%s: %d calls, want %d", cat, got, n)
		}
		calls += n
	}
	if got := int(h.sleeps.n.Load()); got != calls-1 {
		t.Errorf("sleeps = %d, want %d between %d calls", got, calls-1, calls)
	}
	if got := time.Duration(h.sleeps.total.Load()); got != time.Duration(calls-1)*2*time.Second {
		t.Errorf("total delay = %v", got)
	}
}

func TestBatchStopsCategoryOnFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes, model.CategoryAdvice)
	h.source.errs[model.CategoryQuotes] = errors.New("rate limited")
	h.sched.clicks = 15

	h.sched.BatchUpdate(context.Background())

	if got := h.source.callsFor(model.CategoryQuotes); got != 1 {
		t.Errorf("failing category called %d times, want 1", got)
	}
	if got := h.source.callsFor(model.CategoryAdvice); got != 3 {
		t.Errorf("healthy category called %d times, want 3", got)
	}
}

func TestPeriodicTickStopsAtMaxWithoutFetching(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	fill(h.cache, model.CategoryQuotes, 250)

	if h.sched.PeriodicTick(context.Background()) {
		t.Error("tick at max threshold should stop the timer")
	}
	if got := h.source.total.Load(); got != 0 {
		t.Errorf("expected no fetch, got %d", got)
	}
}

func TestPeriodicTickGuardAndCaps(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryWikipedia, model.CategoryDataFacts, model.CategoryQuotes)
	ctx := context.Background()

	if !h.sched.PeriodicTick(ctx) {
		t.Fatal("tick should continue below max")
	}
	want := map[model.Category]int{model.CategoryWikipedia: 2, model.CategoryDataFacts: 1, model.CategoryQuotes: 1}
	for cat, n := range want {
		if got := h.source.callsFor(cat); got != n {
			t.Errorf("%s: %d calls, want %d", cat, got, n)
		}
	}

	h.clock.Advance(60 * time.Second)
	h.sched.PeriodicTick(ctx)
	if got := h.source.total.Load(); got != 4 {
		t.Errorf("guard should skip a tick within 120s, calls = %d", got)
	}

	h.clock.Advance(61 * time.Second)
	h.sched.PeriodicTick(ctx)
	if got := h.source.total.Load(); got != 8 {
		t.Errorf("tick after guard should fetch again, calls = %d", got)
	}
}

func TestStartStopPeriodic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodicInterval = 5 * time.Millisecond
	h := newHarness(t, cfg, model.CategoryQuotes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.sched.StartPeriodic(ctx) {
		t.Fatal("first start should arm the timer")
	}
	if h.sched.StartPeriodic(ctx) {
		t.Error("second start should be a no-op")
	}
	waitFor(t, func() bool { return h.source.total.Load() > 0 })

	h.sched.StopPeriodic()
	h.sched.StopPeriodic()
	if h.sched.PeriodicRunning() {
		t.Error("timer should be stopped")
	}
}

func TestPeriodicStopsItselfAndDisplayRearms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodicInterval = 5 * time.Millisecond
	h := newHarness(t, cfg, model.CategoryQuotes)
	fill(h.cache, model.CategoryQuotes, 250)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.sched.StartPeriodic(ctx)
	waitFor(t, func() bool { return !h.sched.PeriodicRunning() })
	if got := h.source.total.Load(); got != 0 {
		t.Errorf("full cache should stop without fetching, got %d calls", got)
	}

	h.cache.Purge(func(model.Item) bool { return false })
	h.sched.OnDisplay(ctx, model.Item{Category: model.CategoryQuotes, Title: "x"})
	h.sched.Wait()
	if !h.sched.PeriodicRunning() {
		t.Error("display below the low watermark should re-arm the timer")
	}
	h.sched.StopPeriodic()
}

func TestStartPeriodicCancelledContext(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if h.sched.StartPeriodic(ctx) {
		t.Error("cancelled context should not arm the timer")
	}
}

func TestOnDisplayCountsAndPreloads(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.sched.OnDisplay(ctx, model.Item{Category: model.CategoryQuotes, Title: fmt.Sprint(i)})
	}
	h.sched.Wait()

	if got := h.sched.Clicks(); got != 3 {
		t.Errorf("clicks = %d, want 3", got)
	}
	if got := h.source.total.Load(); got != 3 {
		t.Errorf("preloads = %d, want 3", got)
	}
	u := h.sched.Usage()
	if u.Displays != 3 || u.Categories[model.CategoryQuotes] != 3 {
		t.Errorf("usage = %+v", u)
	}
}

func TestOnDisplayFullCacheSkipsPreload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCache = 5
	h := newHarness(t, cfg, model.CategoryQuotes)
	fill(h.cache, model.CategoryQuotes, 5)

	h.sched.OnDisplay(context.Background(), model.Item{Category: model.CategoryQuotes})
	h.sched.Wait()

	if got := h.source.total.Load(); got != 0 {
		t.Errorf("full cache should skip preload, got %d calls", got)
	}
	if got := h.sched.Clicks(); got != 1 {
		t.Errorf("clicks should still count, got %d", got)
	}
}

func TestOnDisplayTriggersBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchThreshold = 2
	h := newHarness(t, cfg, model.CategoryQuotes)
	ctx := context.Background()

	h.sched.OnDisplay(ctx, model.Item{Category: model.CategoryQuotes})
	h.sched.OnDisplay(ctx, model.Item{Category: model.CategoryQuotes})
	h.sched.Wait()

	if got := h.sched.Clicks(); got != 0 {
		t.Errorf("batch should have reset clicks, got %d", got)
	}
}

func TestRecommendedCategory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecommendShare = 1
	h := newHarness(t, cfg, model.CategoryQuotes, model.CategoryAdvice, model.CategoryTrivia)

	h.sched.RestoreUsage(UserStats{Displays: 4, Categories: map[model.Category]int64{
		model.CategoryAdvice: 4,
		model.CategoryGathas: 9, // not enabled
	}})
	for i := 0; i < 20; i++ {
		cat, ok := h.sched.RecommendedCategory()
		if !ok || cat != model.CategoryAdvice {
			t.Fatalf("expected advice, got %q (%v)", cat, ok)
		}
	}

	h.health.RecordFailure(model.CategoryAdvice, errors.New("down"))
	for i := 0; i < 20; i++ {
		cat, _ := h.sched.RecommendedCategory()
		if cat == model.CategoryAdvice {
			t.Fatal("unhealthy category recommended")
		}
	}

	h.health.RecordFailure(model.CategoryQuotes, errors.New("down"))
	h.health.RecordFailure(model.CategoryTrivia, errors.New("down"))
	if _, ok := h.sched.RecommendedCategory(); ok {
		t.Error("nothing healthy should yield no recommendation")
	}
}

func TestWarm(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryGathas, model.CategoryQuotes)
	h.source.local[model.CategoryGathas] = []model.Item{
		{Category: model.CategoryGathas, Title: "g1", Body: "verse one"},
		{Category: model.CategoryGathas, Title: "g2", Body: "verse two"},
		{Category: model.CategoryGathas, Title: "g3", Body: "verse three"},
	}

	total := h.sched.Warm(context.Background())

	// 3 seeded, 2 parallel fetches, 5 smart preloads.
	if total != 10 {
		t.Errorf("warm added %d, want 10", total)
	}
	if h.cache.Len() != 10 {
		t.Errorf("cache size = %d, want 10", h.cache.Len())
	}
	if got := h.sleeps.n.Load(); got != 4 {
		t.Errorf("smart preload sleeps = %d, want 4", got)
	}
}

func TestWarmPrimaryFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryWikipedia)
	h.sched.Warm(context.Background())

	// One parallel fetch, one primary top-up, five smart loads.
	if got := h.source.callsFor(model.CategoryWikipedia); got != 7 {
		t.Errorf("wikipedia calls = %d, want 7", got)
	}
}

func TestWarmSeedRespectsTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Periodic.Targets.Other = 2
	cfg.SmartPreloadBelow = 0
	h := newHarness(t, cfg, model.CategoryGathas)
	for i := 0; i < 5; i++ {
		h.source.local[model.CategoryGathas] = append(h.source.local[model.CategoryGathas],
			model.Item{Category: model.CategoryGathas, Title: fmt.Sprint(i)})
	}

	h.sched.Warm(context.Background())
	if got := h.cache.Count(model.CategoryGathas); got != 3 {
		t.Errorf("gathas = %d, want 2 seeded + 1 fetched", got)
	}
}

func TestRestoreUsageIsAdditive(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	h.sched.OnDisplay(context.Background(), model.Item{Category: model.CategoryQuotes})
	h.sched.Wait()

	h.sched.RestoreUsage(UserStats{Displays: 10, Categories: map[model.Category]int64{model.CategoryQuotes: 7}})
	u := h.sched.Usage()
	if u.Displays != 11 || u.Categories[model.CategoryQuotes] != 8 {
		t.Errorf("usage = %+v", u)
	}

	u.Categories[model.CategoryQuotes] = 100
	if h.sched.Usage().Categories[model.CategoryQuotes] != 8 {
		t.Error("Usage should return a copy")
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep should return immediately")
	}
}

func TestStopPeriodicInterruptsDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodicInterval = time.Millisecond
	h := newHarness(t, cfg, model.CategoryWikipedia)
	h.sched.sleep = sleepCtx
	h.sched.cfg.CallDelay = time.Hour

	h.sched.StartPeriodic(context.Background())
	waitFor(t, func() bool { return h.source.total.Load() >= 1 })

	done := make(chan struct{})
	go func() {
		h.sched.StopPeriodic()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopPeriodic blocked on the inter-call delay")
	}
}

func TestStopPeriodicLetsInFlightFetchFinish(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodicInterval = 10 * time.Millisecond
	h := newHarness(t, cfg, model.CategoryQuotes)
	h.source.delay = 200 * time.Millisecond

	h.sched.StartPeriodic(context.Background())
	waitFor(t, func() bool { return h.source.total.Load() >= 1 })
	h.sched.StopPeriodic()

	if got := h.cache.Len(); got != 1 {
		t.Errorf("cache len after stop = %d, want the in-flight item", got)
	}
	if h.health.Len() != 0 {
		t.Errorf("a completed fetch should not be recorded as a failure")
	}
	if got := h.source.total.Load(); got != 1 {
		t.Errorf("no fetch should start after stop, got %d", got)
	}
}

func TestFetchNotStartedAfterCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.sched.PreloadOne(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := h.source.total.Load(); got != 0 {
		t.Errorf("cancelled context should not start a fetch, got %d", got)
	}
	if h.health.Len() != 0 {
		t.Error("a skipped fetch is not a source failure")
	}
}

func TestBatchUpdateKeepsClicksDuringRun(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes)
	h.sched.clicks = 15
	// Each inter-call pause stands in for a card displayed meanwhile.
	h.sched.sleep = func(ctx context.Context, _ time.Duration) error {
		h.sched.mu.Lock()
		h.sched.clicks++
		h.sched.mu.Unlock()
		return ctx.Err()
	}

	if !h.sched.BatchUpdate(context.Background()) {
		t.Fatal("batch should run")
	}
	// Three quote calls, two pauses between them.
	if got := h.sched.Clicks(); got != 2 {
		t.Errorf("clicks = %d, want the 2 displays made during the run", got)
	}
}

func TestTopUpVisitsLeadCategoriesFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig(), model.CategoryQuotes, model.CategoryDataFacts, model.CategoryWikipedia)

	h.sched.PeriodicTick(context.Background())

	want := []model.Category{model.CategoryWikipedia, model.CategoryWikipedia, model.CategoryDataFacts, model.CategoryQuotes}
	got := h.source.fetchOrder()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestLeadFirst(t *testing.T) {
	tests := []struct {
		name      string
		primary   model.Category
		secondary model.Category
		in        []model.Category
		want      []model.Category
	}{
		{"leads moved up", model.CategoryWikipedia, model.CategoryDataFacts,
			[]model.Category{model.CategoryQuotes, model.CategoryDataFacts, model.CategoryWikipedia},
			[]model.Category{model.CategoryWikipedia, model.CategoryDataFacts, model.CategoryQuotes}},
		{"lead not enabled", model.CategoryWikipedia, model.CategoryDataFacts,
			[]model.Category{model.CategoryQuotes, model.CategoryAdvice},
			[]model.Category{model.CategoryQuotes, model.CategoryAdvice}},
		{"no leads", "", "",
			[]model.Category{model.CategoryAdvice, model.CategoryQuotes},
			[]model.Category{model.CategoryAdvice, model.CategoryQuotes}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Primary, cfg.Secondary = tt.primary, tt.secondary
			h := newHarness(t, cfg)
			got := h.sched.leadFirst(tt.in)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("leadFirst(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
