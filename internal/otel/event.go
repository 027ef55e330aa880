// Package otel records the engine's event trail.
//
// Every card decision, gateway call and scheduler run becomes one Event,
// appended to a JSONL file by a background writer. A RingBuffer attached
// to the Logger keeps the newest events in memory so the debug overlay and
// the stats endpoint can summarize the session without reading the file.
package otel

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is an event's severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// rank orders levels; an empty level counts as info.
func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}

// EventKind names an event as "<subsystem>.<action>".
type EventKind string

const (
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchFallback EventKind = "fetch.fallback"
	KindFetchError    EventKind = "fetch.error"

	KindHealthFailure EventKind = "health.failure"
	KindHealthSweep   EventKind = "health.sweep"

	KindCardSelect  EventKind = "card.select"
	KindCardReject  EventKind = "card.reject"
	KindCardEmpty   EventKind = "card.empty"
	KindFilterRelax EventKind = "filter.relax"

	KindCachePurge   EventKind = "cache.purge"
	KindCachePersist EventKind = "cache.persist"
	KindCacheRestore EventKind = "cache.restore"
	KindStoreError   EventKind = "store.error"

	KindPreload       EventKind = "sched.preload"
	KindBatchRun      EventKind = "sched.batch"
	KindPeriodicRun   EventKind = "sched.periodic"
	KindPeriodicStart EventKind = "sched.periodic_start"
	KindPeriodicStop  EventKind = "sched.periodic_stop"
	KindWarm          EventKind = "sched.warm"

	KindKeyPress EventKind = "ui.key"
	KindRequest  EventKind = "api.request"

	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
)

// Subsystem returns the part of the kind before the dot ("card" for
// card.select).
func (k EventKind) Subsystem() string {
	s, _, _ := strings.Cut(string(k), ".")
	return s
}

// Event is one line of the trail. Only Kind is required; Time and
// SessionID are stamped by the Logger.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Category  string         `json:"cat,omitempty"`
	Title     string         `json:"title,omitempty"`
	Stage     string         `json:"stage,omitempty"` // guard stage of a card decision
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"`
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON writes Dur as fractional milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	p := plain(e)
	if e.Dur > 0 {
		p.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(p)
}
