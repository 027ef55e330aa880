package otel

import (
	"maps"
	"sync"
)

// DefaultRingSize is used when NewRingBuffer gets a non-positive size.
const DefaultRingSize = 1024

// RingBuffer holds the newest events of a session. Safe for concurrent
// use; methods on a nil *RingBuffer are no-ops.
type RingBuffer struct {
	mu      sync.Mutex
	slots   []Event
	written int // total pushed; slots[written%len] is the next write
}

// NewRingBuffer keeps up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{slots: make([]Event, size)}
}

// Push stores e, evicting the oldest event when full. Extra is copied so
// the caller may reuse its map.
func (r *RingBuffer) Push(e Event) {
	if r == nil {
		return
	}
	e.Extra = maps.Clone(e.Extra)
	r.mu.Lock()
	r.slots[r.written%len(r.slots)] = e
	r.written++
	r.mu.Unlock()
}

// Len is the number of stored events.
func (r *RingBuffer) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min(r.written, len(r.slots))
}

// Cap is the buffer's capacity.
func (r *RingBuffer) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.slots)
}

// newestFirst calls fn on stored events from newest to oldest until fn
// returns false. r.mu must be held.
func (r *RingBuffer) newestFirst(fn func(Event) bool) {
	n := min(r.written, len(r.slots))
	for i := 1; i <= n; i++ {
		if !fn(r.slots[(r.written-i)%len(r.slots)]) {
			return
		}
	}
}

// Query selects events from the buffer. Zero fields match everything.
type Query struct {
	Limit     int    // newest matches to keep; 0 keeps all
	MinLevel  Level  // e.g. LevelWarn for failures only
	Subsystem string // kind prefix: "card", "fetch", "sched", ...
	Category  string
}

func (q Query) match(e Event) bool {
	if q.MinLevel != "" && !e.Level.AtLeast(q.MinLevel) {
		return false
	}
	if q.Subsystem != "" && e.Kind.Subsystem() != q.Subsystem {
		return false
	}
	return q.Category == "" || e.Category == q.Category
}

// Find returns the newest events matching q, oldest first.
func (r *RingBuffer) Find(q Query) []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	var out []Event
	r.newestFirst(func(e Event) bool {
		if q.match(e) {
			out = append(out, e)
		}
		return q.Limit <= 0 || len(out) < q.Limit
	})
	r.mu.Unlock()

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Last returns the n newest events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	if n <= 0 {
		return nil
	}
	return r.Find(Query{Limit: n})
}

// Recent returns up to n of the newest events at or above level.
func (r *RingBuffer) Recent(n int, level Level) []Event {
	if n <= 0 {
		return nil
	}
	return r.Find(Query{Limit: n, MinLevel: level})
}

// Stats counts stored events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	counts := make(map[EventKind]int)
	if r == nil {
		return counts
	}
	r.mu.Lock()
	r.newestFirst(func(e Event) bool {
		counts[e.Kind]++
		return true
	})
	r.mu.Unlock()
	return counts
}

// Summary condenses the buffered session into the engine's counters.
type Summary struct {
	FetchOK       int
	FetchFallback int
	FetchFailed   int

	CardsShown    int
	CardsRejected int
	CardsEmpty    int
	ShownBy       map[string]int // category -> cards shown
	RelaxedBy     map[string]int // guard stage -> relaxed selections

	Preloads     int
	Batches      int
	PeriodicRuns int
	Failures     int // categories put on the health ledger

	Persisted   int
	StoreErrors int
}

// Summary tallies the buffered events.
func (r *RingBuffer) Summary() Summary {
	s := Summary{ShownBy: make(map[string]int), RelaxedBy: make(map[string]int)}
	if r == nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newestFirst(func(e Event) bool {
		switch e.Kind {
		case KindFetchComplete:
			s.FetchOK++
		case KindFetchFallback:
			s.FetchFallback++
		case KindFetchError:
			s.FetchFailed++
		case KindCardSelect:
			s.CardsShown++
			if e.Category != "" {
				s.ShownBy[e.Category]++
			}
		case KindCardReject:
			s.CardsRejected++
		case KindCardEmpty:
			s.CardsEmpty++
		case KindFilterRelax:
			s.RelaxedBy[e.Stage]++
		case KindPreload:
			s.Preloads++
		case KindBatchRun:
			s.Batches++
		case KindPeriodicRun:
			s.PeriodicRuns++
		case KindHealthFailure:
			s.Failures++
		case KindCachePersist:
			s.Persisted++
		case KindStoreError:
			s.StoreErrors++
		}
		return true
	})
	return s
}

// Relaxed is the total of RelaxedBy.
func (s Summary) Relaxed() int {
	n := 0
	for _, v := range s.RelaxedBy {
		n += v
	}
	return n
}
