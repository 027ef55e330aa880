// Package app wires the cache, filters, selector and scheduler into the
// Engine that hosts (terminal UI, HTTP server, CLI) talk to.
package app

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/config"
	"github.com/abelbrown/waitwiki/internal/coord"
	"github.com/abelbrown/waitwiki/internal/fetch"
	"github.com/abelbrown/waitwiki/internal/filter"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
	"github.com/abelbrown/waitwiki/internal/quality"
	"github.com/abelbrown/waitwiki/internal/selection"
)

// Gateway is the engine's view of the source gateway.
type Gateway interface {
	coord.Source
	Stats() fetch.Stats
	RestoreStats(fetch.Stats)
}

// Store is a key/value persistence backend.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
}

// Options wires an Engine. Config, Gateway and Store are required.
type Options struct {
	Config  *config.Config
	Gateway Gateway
	Store   Store
	Clock   model.Clock
	Events  *otel.Logger
	Rand    *rand.Rand
	Sleep   coord.SleepFunc
}

// Engine serves cards from the cache and keeps it replenished.
// Safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	gateway  Gateway
	store    Store
	clock    model.Clock
	events   *otel.Logger
	cache    *cache.Cache
	guard    *filter.Guard
	gate     *quality.Gate
	selector *selection.Selector
	health   *health.Tracker
	sched    *coord.Scheduler

	// selectMu serializes filter, pick and record so guard state stays
	// consistent across concurrent requests.
	selectMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	enabled     []model.Category
	current     model.Item
	hasCurrent  bool
	hits        int64
	misses      int64
	lastPersist time.Time
	lastReset   time.Time

	shutdown sync.Once
}

// New builds an Engine. Call Start before serving cards.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = model.SystemClock{}
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	cfg := opts.Config
	enabled := cfg.EnabledCategories()

	c := cache.New(opts.Clock, cfg.Cache.MaxPersist)
	h := health.NewTracker(opts.Clock, cfg.Fetch.Forgiveness)
	sched := coord.New(coord.Options{
		Config:  cfg.SchedulerConfig(),
		Source:  opts.Gateway,
		Cache:   c,
		Health:  h,
		Clock:   opts.Clock,
		Events:  opts.Events,
		Sleep:   opts.Sleep,
		Rand:    rand.New(rand.NewPCG(opts.Rand.Uint64(), opts.Rand.Uint64())),
		Enabled: enabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		gateway:   opts.Gateway,
		store:     opts.Store,
		clock:     opts.Clock,
		events:    opts.Events,
		cache:     c,
		guard:     filter.NewGuard(cfg.GuardOptions()),
		gate:      quality.NewGate(cfg.Quality.Threshold),
		selector:  selection.New(cfg.SelectionPolicy(), opts.Rand),
		health:    h,
		sched:     sched,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   enabled,
		lastReset: opts.Clock.Now(),
	}
}

// Start restores persisted state, seeds bundled items and arms the
// periodic scheduler. Background work runs under ctx until Shutdown.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(ctx)
	root := e.ctx
	e.mu.Unlock()

	e.restore(ctx)
	seeded := e.sched.SeedLocal()
	e.sched.StartPeriodic(root)

	e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindStartup, Comp: "app", Count: e.cache.Len()})
	logging.Info("Engine started", "cache", e.cache.Len(), "seeded", seeded, "categories", len(e.Enabled()))
}

// Warm runs the start-up fetch pass. Hosts usually call it in the
// background right after Start.
func (e *Engine) Warm(ctx context.Context) int {
	return e.sched.Warm(ctx)
}

func (e *Engine) root() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// Enabled returns a copy of the enabled categories.
func (e *Engine) Enabled() []model.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Category(nil), e.enabled...)
}

// Current returns the item last handed out, if any.
func (e *Engine) Current() (model.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.hasCurrent
}

// RequestCard returns a card to display. With forceNew false the current
// card is returned when there is one. The bool is false when nothing can
// be shown; that is never an error.
func (e *Engine) RequestCard(forceNew bool) (model.Item, bool) {
	e.mu.Lock()
	if !forceNew && e.hasCurrent {
		item := e.current
		e.mu.Unlock()
		return item, true
	}
	e.mu.Unlock()

	item, ok := e.selectCard()
	if !ok {
		e.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindCardEmpty, Comp: "app", Err: model.ErrNoCandidates.Error()})
		return model.Item{}, false
	}

	e.sched.OnDisplay(e.root(), item)
	e.maybePersist()
	return item, true
}

func (e *Engine) allowed() model.CategorySet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.NewCategorySet(e.enabled)
}

// selectCard runs the guard, the lottery and the quality gate and makes the
// winner current. A rejected pick gets exactly one resample from the
// remaining candidates.
func (e *Engine) selectCard() (model.Item, bool) {
	e.selectMu.Lock()
	defer e.selectMu.Unlock()

	allowed := e.allowed()
	res := e.guard.Filter(e.cache.All(), allowed)
	if len(res.Candidates) == 0 {
		e.countLookup(false)
		if e.sched.SeedLocal() > 0 {
			res = e.guard.Filter(e.cache.All(), allowed)
		}
	} else {
		e.countLookup(true)
	}

	if res.Replenish {
		e.sched.Replenish(e.root())
	}
	if res.Stage != filter.StageStrict && res.Stage != filter.StagePassthrough {
		e.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFilterRelax, Comp: "filter", Stage: res.Stage.String(), Count: len(res.Candidates)})
	}

	cand, ok := e.selector.Pick(res.Candidates)
	if !ok {
		return model.Item{}, false
	}
	if !e.gate.Accept(cand.Item) {
		e.events.Card(otel.KindCardReject, "quality", string(cand.Item.Category), cand.Item.Title, res.Stage.String())
		cand, ok = e.selector.Pick(without(res.Candidates, cand.Index))
		if !ok || !e.gate.Accept(cand.Item) {
			return model.Item{}, false
		}
	}

	e.guard.RecordShown(cand.Item, cand.Index)
	e.mu.Lock()
	e.current = cand.Item
	e.hasCurrent = true
	e.mu.Unlock()
	e.events.Card(otel.KindCardSelect, "selection", string(cand.Item.Category), cand.Item.Title, res.Stage.String())
	return cand.Item, true
}

func without(cands []filter.Candidate, index int) []filter.Candidate {
	out := make([]filter.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Index != index {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) countLookup(hit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hit {
		e.hits++
	} else {
		e.misses++
	}
}

// OnSettingsChanged applies a new set of enabled categories: cached items
// of disabled categories are dropped at once and a current card of a
// disabled category is forgotten. No selection runs while the set changes.
func (e *Engine) OnSettingsChanged(ctx context.Context, cats []model.Category) {
	set := model.NewCategorySet(cats)

	e.selectMu.Lock()
	e.mu.Lock()
	e.enabled = append([]model.Category(nil), cats...)
	if e.hasCurrent && !set.Has(e.current.Category) {
		e.current = model.Item{}
		e.hasCurrent = false
	}
	e.mu.Unlock()

	e.sched.SetEnabled(cats)
	removed := e.cache.Purge(func(it model.Item) bool { return set.Has(it.Category) })
	e.selectMu.Unlock()

	e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindCachePurge, Comp: "cache", Count: removed})
	logging.Info("Settings changed", "categories", cats, "purged", removed, "cache", e.cache.Len())

	if e.cache.Len() < e.cfg.Schedule.MinCache {
		e.sched.StartPeriodic(e.root())
	}
	_ = e.Persist(ctx)
}

// Shutdown stops the scheduler, waits for background fetches and persists
// state. Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) {
	e.shutdown.Do(func() {
		e.sched.StopPeriodic()
		e.mu.Lock()
		e.cancel()
		e.mu.Unlock()
		e.sched.Wait()

		_ = e.Persist(ctx)
		e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindShutdown, Comp: "app", Count: e.cache.Len()})
		logging.Info("Engine stopped", "cache", e.cache.Len())
	})
}

// Wait blocks until background replenishment started so far has finished.
func (e *Engine) Wait() {
	e.sched.Wait()
}

// Stats is a point-in-time view for hosts.
type Stats struct {
	CacheSize       int                    `json:"cache_size"`
	ByCategory      map[model.Category]int `json:"by_category"`
	Enabled         []model.Category       `json:"enabled"`
	Performance     Performance            `json:"performance"`
	Usage           coord.UserStats        `json:"usage"`
	Health          []health.Entry         `json:"health"`
	PeriodicRunning bool                   `json:"periodic_running"`
	Clicks          int                    `json:"clicks"`
}

// Stats reports the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		CacheSize:       e.cache.Len(),
		ByCategory:      e.cache.Counts(),
		Enabled:         e.Enabled(),
		Performance:     e.performance(),
		Usage:           e.sched.Usage(),
		Health:          e.health.Snapshot(),
		PeriodicRunning: e.sched.PeriodicRunning(),
		Clicks:          e.sched.Clicks(),
	}
}
