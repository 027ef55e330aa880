package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

// DefaultTimeout bounds each network attempt.
const DefaultTimeout = 5 * time.Second

// Options configures a Gateway. Zero values use defaults.
type Options struct {
	Language     string
	Timeout      time.Duration
	APINinjasKey string
	Endpoints    *Endpoints
	Client       *http.Client
	// MinInterval is the per-transport limiter refill interval.
	MinInterval time.Duration
	Detector    Detector
	Events      *otel.Logger
	Clock       model.Clock
}

// Stats are cumulative gateway call counters.
type Stats struct {
	APICalls     int64 `json:"apiCallCount"`
	Successes    int64 `json:"apiSuccessCount"`
	Failures     int64 `json:"apiFailureCount"`
	ItemsFetched int64 `json:"totalCardsFetched"`
	// TotalResponseMs sums successful call durations in milliseconds.
	TotalResponseMs int64 `json:"totalResponseTime"`
}

// AverageResponse is the mean duration of successful calls.
func (s Stats) AverageResponse() time.Duration {
	if s.Successes == 0 {
		return 0
	}
	return time.Duration(s.TotalResponseMs/s.Successes) * time.Millisecond
}

// Gateway fetches items per category. Safe for concurrent use.
type Gateway struct {
	sources  map[model.Category]Source
	local    map[model.Category][]model.Item
	timeout  time.Duration
	language string
	detector Detector
	events   *otel.Logger
	clock    model.Clock

	mu    sync.Mutex
	stats Stats
}

// NewGateway wires the default sources for every known category.
func NewGateway(opts Options) *Gateway {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = model.SystemClock{}
	}
	ep := DefaultEndpoints()
	if opts.Endpoints != nil {
		ep = *opts.Endpoints
	}

	g := &Gateway{
		sources:  make(map[model.Category]Source),
		local:    loadLocal(),
		timeout:  opts.Timeout,
		language: opts.Language,
		detector: opts.Detector,
		events:   opts.Events,
		clock:    opts.Clock,
	}
	for _, src := range buildSources(ep, opts.Language, opts.APINinjasKey, opts.Client, opts.MinInterval) {
		g.Register(src)
	}
	return g
}

func loadLocal() map[model.Category][]model.Item {
	local, err := LoadStarter()
	if err != nil {
		logging.Warn("Starter dataset unavailable", "error", err)
		local = make(map[model.Category][]model.Item)
	}
	if facts, err := LoadDataFacts(); err == nil {
		local[model.CategoryDataFacts] = facts
	}
	if gathas, err := LoadGathas(); err == nil {
		local[model.CategoryGathas] = gathas
	}
	return local
}

// Register replaces the source for src.Category. Call it before the
// gateway is shared; it does not lock.
func (g *Gateway) Register(src Source) {
	g.sources[src.Category] = src
}

// Categories lists the categories with a source, sorted.
func (g *Gateway) Categories() []model.Category {
	out := make([]model.Category, 0, len(g.sources))
	for cat := range g.sources {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Local returns the offline items bundled for category, tagged like fetched
// items. The slice is a copy.
func (g *Gateway) Local(category model.Category) []model.Item {
	items := append([]model.Item(nil), g.local[category]...)
	g.normalize(category, items)
	return items
}

// Fetch makes one attempt against the preferred transport and, if that
// fails, one against the fallback. Any failure is returned as a single
// *model.SourceUnavailableError.
func (g *Gateway) Fetch(ctx context.Context, category model.Category) ([]model.Item, error) {
	src, ok := g.sources[category]
	if !ok || src.Preferred == nil {
		return nil, model.SourceUnavailable(category, errors.New("no source configured"))
	}

	start := g.clock.Now()
	g.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStart, Comp: "fetch", Category: string(category), Msg: src.Preferred.Name()})

	items, err := g.attempt(ctx, src.Preferred)
	if err != nil && src.Fallback != nil && ctx.Err() == nil {
		logging.Debug("Preferred transport failed, trying fallback", "category", category, "transport", src.Preferred.Name(), "error", err)
		g.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindFetchFallback, Comp: "fetch", Category: string(category), Msg: src.Fallback.Name(), Err: err.Error()})

		var ferr error
		items, ferr = g.attempt(ctx, src.Fallback)
		if ferr != nil {
			err = errors.Join(err, ferr)
		} else {
			err = nil
		}
	}

	dur := g.clock.Now().Sub(start)
	g.record(len(items), dur, err)
	g.events.Fetch(string(category), len(items), dur, err)

	if err != nil {
		return nil, model.SourceUnavailable(category, err)
	}

	g.normalize(category, items)
	return items, nil
}

func (g *Gateway) attempt(ctx context.Context, t Transport) ([]model.Item, error) {
	if !isOffline(t) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	items, err := t.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: no items", t.Name())
	}
	return items, nil
}

// normalize stamps category and language on items in place.
func (g *Gateway) normalize(category model.Category, items []model.Item) {
	for i := range items {
		items[i].Category = category
		if items[i].Language != "" {
			continue
		}
		if g.detector != nil {
			items[i].Language = g.detector.Detect(items[i].Body)
		}
		if items[i].Language == "" {
			items[i].Language = g.language
		}
	}
}

func (g *Gateway) record(n int, dur time.Duration, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.APICalls++
	if err != nil {
		g.stats.Failures++
		return
	}
	g.stats.Successes++
	g.stats.ItemsFetched += int64(n)
	g.stats.TotalResponseMs += dur.Milliseconds()
}

// Stats returns a copy of the call counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// RestoreStats adds persisted counters to the live ones.
func (g *Gateway) RestoreStats(s Stats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.APICalls += s.APICalls
	g.stats.Successes += s.Successes
	g.stats.Failures += s.Failures
	g.stats.ItemsFetched += s.ItemsFetched
	g.stats.TotalResponseMs += s.TotalResponseMs
}

// keyless stands in for a transport that needs an API key nobody configured.
type keyless struct{ name string }

func (k keyless) Name() string { return k.name }

func (k keyless) Fetch(context.Context) ([]model.Item, error) {
	return nil, errNoKey
}
