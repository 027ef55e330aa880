// Package coord keeps the content cache topped up in the background.
//
// Three triggers share one Scheduler: an on-demand preload on every
// display, a click-counted batch top-up, and a periodic timer that stops
// itself once the cache is full. All of them skip categories the health
// tracker currently holds a failure for.
package coord

import (
	"context"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

// Source is what the scheduler needs from the gateway.
type Source interface {
	Fetch(ctx context.Context, category model.Category) ([]model.Item, error)
	Local(category model.Category) []model.Item
}

// Tiers holds one value for the primary category, one for the secondary
// and one shared by all others.
type Tiers struct {
	Primary   int `yaml:"primary" validate:"gte=0"`
	Secondary int `yaml:"secondary" validate:"gte=0"`
	Other     int `yaml:"other" validate:"gte=0"`
}

// Pass describes one top-up run: how many items each category should hold
// and how many fetch calls it may spend getting there.
type Pass struct {
	Targets Tiers `yaml:"targets"`
	Caps    Tiers `yaml:"caps"`
}

// Config tunes the scheduler. DefaultConfig returns the shipped values.
type Config struct {
	Primary   model.Category
	Secondary model.Category

	BatchThreshold int
	BatchGap       time.Duration
	Batch          Pass

	PeriodicInterval time.Duration
	PeriodicGuard    time.Duration
	MaxCache         int // periodic stops at or above this size
	MinCache         int // display path re-arms periodic below this size
	Periodic         Pass

	CallDelay time.Duration

	WarmLimit         int
	RecommendShare    float64
	SmartPreloadBelow int
	PrimaryBelow      int
	SmartPreloadLoads int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Primary:           model.CategoryWikipedia,
		Secondary:         model.CategoryDataFacts,
		BatchThreshold:    15,
		BatchGap:          60 * time.Second,
		Batch:             Pass{Targets: Tiers{80, 30, 8}, Caps: Tiers{8, 5, 3}},
		PeriodicInterval:  180 * time.Second,
		PeriodicGuard:     120 * time.Second,
		MaxCache:          250,
		MinCache:          50,
		Periodic:          Pass{Targets: Tiers{60, 40, 20}, Caps: Tiers{2, 1, 1}},
		CallDelay:         2 * time.Second,
		WarmLimit:         4,
		RecommendShare:    0.7,
		SmartPreloadBelow: 50,
		PrimaryBelow:      30,
		SmartPreloadLoads: 5,
	}
}

func (c Config) tier(t Tiers, cat model.Category) int {
	switch cat {
	case c.Primary:
		return t.Primary
	case c.Secondary:
		return t.Secondary
	default:
		return t.Other
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options wires a Scheduler's collaborators.
type Options struct {
	Config  Config
	Source  Source
	Cache   *cache.Cache
	Health  *health.Tracker
	Clock   model.Clock
	Events  *otel.Logger
	Sleep   SleepFunc
	Rand    *rand.Rand
	Enabled []model.Category
}

type periodicHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the replenishment triggers.
type Scheduler struct {
	cfg    Config
	source Source
	cache  *cache.Cache
	health *health.Tracker
	clock  model.Clock
	events *otel.Logger
	sleep  SleepFunc

	wg sync.WaitGroup

	mu           sync.Mutex
	rng          *rand.Rand
	enabled      []model.Category
	clicks       int
	lastBatch    time.Time
	batchRunning bool
	lastPeriodic time.Time
	periodic     *periodicHandle
	root         context.Context
	usage        UserStats
}

// New builds a Scheduler. Cache, Health and Source are required.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = model.SystemClock{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if opts.Enabled == nil {
		opts.Enabled = model.AllCategories()
	}
	return &Scheduler{
		cfg:     opts.Config,
		source:  opts.Source,
		cache:   opts.Cache,
		health:  opts.Health,
		clock:   opts.Clock,
		events:  opts.Events,
		sleep:   opts.Sleep,
		rng:     opts.Rand,
		enabled: append([]model.Category(nil), opts.Enabled...),
		usage:   UserStats{Categories: make(map[model.Category]int64)},
	}
}

// SetEnabled replaces the set of categories the triggers may fetch.
func (s *Scheduler) SetEnabled(cats []model.Category) {
	s.mu.Lock()
	s.enabled = append([]model.Category(nil), cats...)
	s.mu.Unlock()
}

// Enabled returns a copy of the enabled categories.
func (s *Scheduler) Enabled() []model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Category(nil), s.enabled...)
}

// healthy sweeps the ledger and returns the enabled categories without an
// outstanding failure.
func (s *Scheduler) healthy() []model.Category {
	if n := s.health.SweepNow(); n > 0 {
		s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindHealthSweep, Comp: "coord", Count: n})
	}
	return s.health.Healthy(s.Enabled())
}

func (s *Scheduler) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Scheduler) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// fetch runs one gateway call, records failures in the ledger and inserts
// whatever came back. A fetch is not started once ctx is done, but one
// already started is not cancelled by it: the gateway's per-attempt
// timeout bounds it and its items still land in the cache.
func (s *Scheduler) fetch(ctx context.Context, cat model.Category) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	items, err := s.source.Fetch(context.WithoutCancel(ctx), cat)
	if err != nil {
		s.health.RecordFailure(cat, err)
		s.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindHealthFailure, Comp: "coord", Category: string(cat), Err: err.Error()})
		logging.Warn("Fetch failed", "category", cat, "error", err)
		return 0, err
	}
	return s.cache.InsertAll(items), nil
}

// PreloadOne fetches one batch from a random healthy category.
func (s *Scheduler) PreloadOne(ctx context.Context) (int, error) {
	cats := s.healthy()
	if len(cats) == 0 {
		return 0, model.ErrNoCandidates
	}
	cat := cats[s.intn(len(cats))]
	n, err := s.fetch(ctx, cat)
	s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPreload, Comp: "coord", Category: string(cat), Count: n})
	return n, err
}

// topUp fetches toward each healthy category's target, spending at most its
// cap of calls and pausing CallDelay between calls. A failed call ends that
// category's run. Returns the number of items inserted.
func (s *Scheduler) topUp(ctx context.Context, pass Pass) int {
	added := 0
	calls := 0
	for _, cat := range s.leadFirst(s.healthy()) {
		if ctx.Err() != nil {
			return added
		}
		deficit := s.cfg.tier(pass.Targets, cat) - s.cache.Count(cat)
		if deficit <= 0 {
			continue
		}
		limit := min(deficit, s.cfg.tier(pass.Caps, cat))
		for i := 0; i < limit; i++ {
			if calls > 0 {
				if err := s.sleep(ctx, s.cfg.CallDelay); err != nil {
					return added
				}
			}
			calls++
			n, err := s.fetch(ctx, cat)
			if err != nil {
				break
			}
			added += n
		}
	}
	return added
}

// leadFirst orders cats primary, secondary, then the rest in their
// configured order.
func (s *Scheduler) leadFirst(cats []model.Category) []model.Category {
	out := make([]model.Category, 0, len(cats))
	for _, lead := range []model.Category{s.cfg.Primary, s.cfg.Secondary} {
		if lead != "" && slices.Contains(cats, lead) && !slices.Contains(out, lead) {
			out = append(out, lead)
		}
	}
	for _, c := range cats {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// BatchUpdate runs the click-batch top-up when enough displays have
// accumulated and the previous batch is old enough. The click counter is
// reset when the run is triggered, so displays during the run count
// toward the next one. Reports whether a run happened.
func (s *Scheduler) BatchUpdate(ctx context.Context) bool {
	now := s.clock.Now()
	s.mu.Lock()
	if s.batchRunning || s.clicks < s.cfg.BatchThreshold ||
		(!s.lastBatch.IsZero() && now.Sub(s.lastBatch) < s.cfg.BatchGap) {
		s.mu.Unlock()
		return false
	}
	s.batchRunning = true
	s.lastBatch = now
	s.clicks = 0
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batchRunning = false
		s.mu.Unlock()
	}()

	start := s.clock.Now()
	added := s.topUp(ctx, s.cfg.Batch)
	s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindBatchRun, Comp: "coord", Count: added, Dur: s.clock.Now().Sub(start)})
	logging.Info("Batch update complete", "added", added, "cache", s.cache.Len())
	return true
}

// Clicks returns the display count since the last batch run.
func (s *Scheduler) Clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks
}

// PeriodicTick is one periodic firing. It returns false when the cache has
// reached MaxCache, which stops the timer; no fetch happens in that case.
func (s *Scheduler) PeriodicTick(ctx context.Context) bool {
	if size := s.cache.Len(); size >= s.cfg.MaxCache {
		s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPeriodicStop, Comp: "coord", Count: size})
		logging.Info("Cache full, stopping periodic updates", "size", size)
		return false
	}

	now := s.clock.Now()
	s.mu.Lock()
	if !s.lastPeriodic.IsZero() && now.Sub(s.lastPeriodic) < s.cfg.PeriodicGuard {
		s.mu.Unlock()
		return true
	}
	s.lastPeriodic = now
	s.mu.Unlock()

	added := s.topUp(ctx, s.cfg.Periodic)
	s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPeriodicRun, Comp: "coord", Count: added})
	return true
}

// StartPeriodic arms the periodic timer under ctx. It is a no-op when the
// timer is already running. The timer is re-armed only after a tick's work
// finishes, so ticks never overlap.
func (s *Scheduler) StartPeriodic(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = ctx
	if s.periodic != nil || ctx.Err() != nil {
		return false
	}

	pctx, cancel := context.WithCancel(ctx)
	h := &periodicHandle{cancel: cancel, done: make(chan struct{})}
	s.periodic = h
	go s.periodicLoop(pctx, h)

	s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPeriodicStart, Comp: "coord", Dur: s.cfg.PeriodicInterval})
	return true
}

func (s *Scheduler) periodicLoop(ctx context.Context, h *periodicHandle) {
	defer close(h.done)
	defer h.cancel()

	timer := time.NewTimer(s.cfg.PeriodicInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !s.PeriodicTick(ctx) {
			s.mu.Lock()
			if s.periodic == h {
				s.periodic = nil
			}
			s.mu.Unlock()
			return
		}
		timer.Reset(s.cfg.PeriodicInterval)
	}
}

// StopPeriodic cancels the periodic timer and waits for its goroutine.
// Safe to call when nothing is running.
func (s *Scheduler) StopPeriodic() {
	s.mu.Lock()
	h := s.periodic
	s.periodic = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// PeriodicRunning reports whether the periodic timer is armed.
func (s *Scheduler) PeriodicRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodic != nil
}

// OnDisplay feeds one display event to the triggers. The preload and batch
// work run in the background under ctx; Wait blocks until they finish.
func (s *Scheduler) OnDisplay(ctx context.Context, item model.Item) {
	s.mu.Lock()
	s.clicks++
	s.usage.record(item.Category)
	clicks := s.clicks
	root := s.root
	s.mu.Unlock()

	size := s.cache.Len()
	if size < s.cfg.MaxCache {
		s.goBackground(func() {
			if _, err := s.PreloadOne(ctx); err != nil {
				logging.Debug("Preload skipped", "error", err)
			}
		})
	}
	if clicks >= s.cfg.BatchThreshold {
		s.goBackground(func() { s.BatchUpdate(ctx) })
	}
	if size < s.cfg.MinCache && root != nil && !s.PeriodicRunning() {
		s.StartPeriodic(root)
	}
}

// Replenish starts one background preload. The selection that asked for
// it does not wait.
func (s *Scheduler) Replenish(ctx context.Context) {
	s.goBackground(func() {
		if _, err := s.PreloadOne(ctx); err != nil {
			logging.Debug("Replenish skipped", "error", err)
		}
	})
}

func (s *Scheduler) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until background work started by OnDisplay and Warm returns.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RecommendedCategory picks the next category to preload: with probability
// RecommendShare one the user has already been shown, otherwise any healthy
// enabled category.
func (s *Scheduler) RecommendedCategory() (model.Category, bool) {
	cats := s.healthy()
	if len(cats) == 0 {
		return "", false
	}
	s.mu.Lock()
	preferred := s.usage.preferred(cats)
	s.mu.Unlock()

	if len(preferred) > 0 && s.float() < s.cfg.RecommendShare {
		return preferred[s.intn(len(preferred))], true
	}
	return cats[s.intn(len(cats))], true
}

// Warm prepares a fresh engine: it seeds bundled items, fetches one batch
// from every healthy category in parallel, then runs a smart preload when
// the cache is still thin.
func (s *Scheduler) Warm(ctx context.Context) int {
	start := s.clock.Now()
	seeded := s.SeedLocal()

	var fetched int64
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(max(s.cfg.WarmLimit, 1))
	for _, cat := range s.healthy() {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			n, _ := s.fetch(ctx, cat)
			mu.Lock()
			fetched += int64(n)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	preloaded := 0
	if s.cache.Len() < s.cfg.SmartPreloadBelow {
		preloaded = s.smartPreload(ctx)
	}

	total := seeded + int(fetched) + preloaded
	s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindWarm, Comp: "coord", Count: total, Dur: s.clock.Now().Sub(start)})
	logging.Info("Cache warmed", "seeded", seeded, "fetched", fetched, "preloaded", preloaded, "size", s.cache.Len())
	return total
}

// SeedLocal inserts bundled items for enabled categories up to their
// periodic targets.
func (s *Scheduler) SeedLocal() int {
	seeded := 0
	for _, cat := range s.Enabled() {
		room := s.cfg.tier(s.cfg.Periodic.Targets, cat) - s.cache.Count(cat)
		if room <= 0 {
			continue
		}
		local := s.source.Local(cat)
		if len(local) > room {
			local = local[:room]
		}
		seeded += s.cache.InsertAll(local)
	}
	return seeded
}

func (s *Scheduler) smartPreload(ctx context.Context) int {
	added := 0
	calls := 0
	wait := func() bool {
		if calls == 0 {
			return ctx.Err() == nil
		}
		return s.sleep(ctx, s.cfg.CallDelay) == nil
	}

	if s.health.IsHealthy(s.cfg.Primary) && s.isEnabled(s.cfg.Primary) && s.cache.Count(s.cfg.Primary) < s.cfg.PrimaryBelow {
		calls++
		n, _ := s.fetch(ctx, s.cfg.Primary)
		added += n
	}

	for i := 0; i < s.cfg.SmartPreloadLoads; i++ {
		var cat model.Category
		var ok bool
		if i == 0 {
			cat, ok = s.RecommendedCategory()
		} else {
			cats := s.healthy()
			if ok = len(cats) > 0; ok {
				cat = cats[s.intn(len(cats))]
			}
		}
		if !ok || !wait() {
			break
		}
		calls++
		n, _ := s.fetch(ctx, cat)
		added += n
	}
	s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPreload, Comp: "coord", Count: added, Msg: "smart"})
	return added
}

func (s *Scheduler) isEnabled(cat model.Category) bool {
	for _, c := range s.Enabled() {
		if c == cat {
			return true
		}
	}
	return false
}

// Usage returns a copy of the display counters.
func (s *Scheduler) Usage() UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.clone()
}

// RestoreUsage adds persisted display counters to the live ones.
func (s *Scheduler) RestoreUsage(u UserStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Displays += u.Displays
	for cat, n := range u.Categories {
		s.usage.Categories[cat] += n
	}
}

// UserStats counts displays overall and per category.
type UserStats struct {
	Displays   int64                    `json:"cardDisplayCount"`
	Categories map[model.Category]int64 `json:"favoriteContentTypes"`
}

func (u *UserStats) record(cat model.Category) {
	if u.Categories == nil {
		u.Categories = make(map[model.Category]int64)
	}
	u.Displays++
	u.Categories[cat]++
}

func (u UserStats) clone() UserStats {
	out := UserStats{Displays: u.Displays, Categories: make(map[model.Category]int64, len(u.Categories))}
	for k, v := range u.Categories {
		out.Categories[k] = v
	}
	return out
}

// Favorites returns every displayed category, most-displayed first.
func (u UserStats) Favorites() []model.Category {
	return u.preferred(model.AllCategories())
}

// preferred returns the categories of cats that have been displayed,
// most-displayed first.
func (u UserStats) preferred(cats []model.Category) []model.Category {
	var out []model.Category
	for _, c := range cats {
		if u.Categories[c] > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return u.Categories[out[i]] > u.Categories[out[j]] })
	return out
}
