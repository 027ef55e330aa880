package filter

import (
	"math"
	"sync"

	"github.com/abelbrown/waitwiki/internal/model"
)

// Default recency window sizes.
const (
	DefaultRecentTitles       = 50
	DefaultShortQueue         = 5
	DefaultRecentFingerprints = 50
)

// Stage names the rung of the relaxation ladder that produced a result.
type Stage int

const (
	// StagePassthrough: the allowed pool had at most one item.
	StagePassthrough Stage = iota
	// StageStrict: title, short queue, last index and fingerprint all excluded.
	StageStrict
	// StageShortQueue: only the short title queue excluded.
	StageShortQueue
	// StageReset: long-term history cleared, only the last shown title excluded.
	StageReset
	// StageFallback: the whole pool minus the previous index.
	StageFallback
)

func (s Stage) String() string {
	switch s {
	case StagePassthrough:
		return "passthrough"
	case StageStrict:
		return "strict"
	case StageShortQueue:
		return "short-queue"
	case StageReset:
		return "reset"
	case StageFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of Guard.Filter.
type Result struct {
	// Pool is every allowed item, indexed as the guard saw them.
	Pool []Candidate
	// Candidates is the surviving subset. Empty only when Pool is empty.
	Candidates []Candidate
	Stage      Stage
	// Replenish is set when the strict filter left too few candidates.
	// Filter never fetches; the caller decides what to do with it.
	Replenish bool
}

// Options sizes the recency windows. Zero fields use defaults.
type Options struct {
	RecentTitles       int
	ShortQueue         int
	RecentFingerprints int
}

// Guard holds short- and long-term anti-repeat state. Safe for concurrent use.
type Guard struct {
	mu           sync.Mutex
	recentTitles *orderedSet
	shortQueue   []string
	shortSize    int
	fingerprints *orderedSet
	lastIndex    int
}

// NewGuard creates a guard with empty history.
func NewGuard(opts Options) *Guard {
	if opts.RecentTitles <= 0 {
		opts.RecentTitles = DefaultRecentTitles
	}
	if opts.ShortQueue <= 0 {
		opts.ShortQueue = DefaultShortQueue
	}
	if opts.RecentFingerprints <= 0 {
		opts.RecentFingerprints = DefaultRecentFingerprints
	}
	return &Guard{
		recentTitles: newOrderedSet(opts.RecentTitles),
		shortSize:    opts.ShortQueue,
		fingerprints: newOrderedSet(opts.RecentFingerprints),
		lastIndex:    -1,
	}
}

// Filter narrows items down to candidates worth showing. Each rung of the
// ladder only widens the set, so a non-empty allowed pool always yields a
// non-empty result.
func (g *Guard) Filter(items []model.Item, allowed model.CategorySet) Result {
	pool := ByCategory(items, allowed)
	if len(pool) <= 1 {
		return Result{Pool: pool, Candidates: pool, Stage: StagePassthrough}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	strict := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if g.recentTitles.has(c.Item.Title) || g.inShortQueue(c.Item.Title) {
			continue
		}
		if c.Index == g.lastIndex {
			continue
		}
		if g.contentSimilar(c.Item.Body, false) {
			continue
		}
		strict = append(strict, c)
	}

	res := Result{Pool: pool, Candidates: strict, Stage: StageStrict}
	floor := math.Min(5, float64(len(pool))*0.3)
	if float64(len(strict)) >= floor {
		return res
	}

	res.Replenish = true
	res.Stage = StageShortQueue
	res.Candidates = res.Candidates[:0:0]
	for _, c := range pool {
		if !g.inShortQueue(c.Item.Title) {
			res.Candidates = append(res.Candidates, c)
		}
	}
	if len(res.Candidates) > 0 {
		return res
	}

	// Start over, keeping only the very last title so it cannot repeat at once.
	g.recentTitles.clear()
	g.fingerprints.clear()
	last := ""
	if n := len(g.shortQueue); n > 0 {
		last = g.shortQueue[n-1]
		g.shortQueue = []string{last}
	}

	res.Stage = StageReset
	for _, c := range pool {
		if last == "" || c.Item.Title != last {
			res.Candidates = append(res.Candidates, c)
		}
	}
	if len(res.Candidates) > 0 {
		return res
	}

	// Every allowed item shares the last title.
	res.Stage = StageFallback
	for _, c := range pool {
		if c.Index != g.lastIndex {
			res.Candidates = append(res.Candidates, c)
		}
	}
	return res
}

// RecordShown registers a displayed item: its title enters both title
// windows, its fingerprint enters the fingerprint window, and poolIndex
// becomes the index excluded on the next strict pass.
func (g *Guard) RecordShown(item model.Item, poolIndex int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recentTitles.add(item.Title)
	g.shortQueue = append(g.shortQueue, item.Title)
	if len(g.shortQueue) > g.shortSize {
		g.shortQueue = g.shortQueue[len(g.shortQueue)-g.shortSize:]
	}
	g.contentSimilar(item.Body, true)
	g.lastIndex = poolIndex
}

// contentSimilar reports whether body's fingerprint is in the recent
// window. With record set the fingerprint enters the window, so a second
// call with the same body returns true. g.mu must be held.
func (g *Guard) contentSimilar(body string, record bool) bool {
	fp := Fingerprint(body)
	if g.fingerprints.has(fp) {
		return true
	}
	if record {
		g.fingerprints.add(fp)
	}
	return false
}

// State is a read-only copy of the guard's history.
type State struct {
	RecentTitles []string
	ShortQueue   []string
	Fingerprints []string
	LastIndex    int
}

// Snapshot copies the current history.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		RecentTitles: g.recentTitles.values(),
		ShortQueue:   append([]string(nil), g.shortQueue...),
		Fingerprints: g.fingerprints.values(),
		LastIndex:    g.lastIndex,
	}
}

func (g *Guard) inShortQueue(title string) bool {
	for _, t := range g.shortQueue {
		if t == title {
			return true
		}
	}
	return false
}

// orderedSet is a bounded set that evicts in insertion order.
// Re-adding a present member does not refresh its position.
type orderedSet struct {
	limit   int
	order   []string
	members map[string]struct{}
}

func newOrderedSet(limit int) *orderedSet {
	return &orderedSet{limit: limit, members: make(map[string]struct{})}
}

func (s *orderedSet) has(v string) bool {
	_, ok := s.members[v]
	return ok
}

func (s *orderedSet) add(v string) {
	if s.has(v) {
		return
	}
	s.members[v] = struct{}{}
	s.order = append(s.order, v)
	for len(s.order) > s.limit {
		delete(s.members, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *orderedSet) clear() {
	s.order = nil
	s.members = make(map[string]struct{})
}

func (s *orderedSet) values() []string {
	return append([]string(nil), s.order...)
}
