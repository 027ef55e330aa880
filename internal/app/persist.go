package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/waitwiki/internal/cache"
	"github.com/abelbrown/waitwiki/internal/coord"
	"github.com/abelbrown/waitwiki/internal/fetch"
	"github.com/abelbrown/waitwiki/internal/health"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

// Store keys.
const (
	KeyCache       = "waitwiki_global_cache_v1"
	KeyPerformance = "waitwiki_performance_stats_v1"
	KeyUserStats   = "waitwiki_user_stats_v1"
	KeyFailedAPIs  = "waitwiki_failed_apis_v1"
)

// Keys lists every key the engine persists.
func Keys() []string {
	return []string{KeyCache, KeyPerformance, KeyUserStats, KeyFailedAPIs}
}

// Performance are the cumulative gateway and cache counters.
type Performance struct {
	fetch.Stats
	AverageResponseMs int64     `json:"averageResponseTime"`
	CacheHits         int64     `json:"cacheHits"`
	CacheMisses       int64     `json:"cacheMisses"`
	LastReset         time.Time `json:"lastResetTime"`
}

func (e *Engine) performance() Performance {
	gs := e.gateway.Stats()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Performance{
		Stats:             gs,
		AverageResponseMs: gs.AverageResponse().Milliseconds(),
		CacheHits:         e.hits,
		CacheMisses:       e.misses,
		LastReset:         e.lastReset,
	}
}

// Persist writes the cache snapshot and the counters. Failures are logged
// and returned; callers keep running on memory state.
func (e *Engine) Persist(ctx context.Context) error {
	values := make(map[string][]byte, 4)
	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = data
		return nil
	}

	snap := e.cache.Snapshot()
	err := errors.Join(
		put(KeyCache, snap),
		put(KeyPerformance, e.performance()),
		put(KeyUserStats, e.sched.Usage()),
		put(KeyFailedAPIs, e.health.Snapshot()),
	)
	if err == nil {
		err = e.store.Set(ctx, values)
	}
	if err != nil {
		e.events.Error(otel.KindStoreError, "app", err)
		logging.Warn("Persist failed, continuing in memory", "error", err)
		return err
	}

	e.mu.Lock()
	e.lastPersist = e.clock.Now()
	e.mu.Unlock()
	e.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindCachePersist, Comp: "app", Count: len(snap)})
	return nil
}

// maybePersist persists when the configured interval has passed since the
// last successful write.
func (e *Engine) maybePersist() {
	interval := e.cfg.Cache.PersistInterval
	if interval <= 0 {
		return
	}
	e.mu.Lock()
	due := e.lastPersist.IsZero() || e.clock.Now().Sub(e.lastPersist) >= interval
	if due {
		// Claim the slot so concurrent requests do not all write.
		e.lastPersist = e.clock.Now()
	}
	e.mu.Unlock()
	if due {
		_ = e.Persist(e.root())
	}
}

// restore loads persisted state additively. Unreadable entries are
// skipped; a store failure leaves the engine on empty memory state.
func (e *Engine) restore(ctx context.Context) {
	values, err := e.store.Get(ctx, Keys()...)
	if err != nil {
		e.events.Error(otel.KindStoreError, "app", err)
		logging.Warn("Restore failed, starting empty", "error", err)
		return
	}

	// The first persist after a restart waits a full interval.
	e.mu.Lock()
	e.lastPersist = e.clock.Now()
	e.mu.Unlock()

	if data, ok := values[KeyCache]; ok {
		var entries []cache.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			logging.Warn("Ignoring unreadable cache snapshot", "error", err)
		} else {
			n := e.cache.Restore(entries)
			allowed := e.allowed()
			purged := e.cache.Purge(func(it model.Item) bool { return allowed.Has(it.Category) })
			e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindCacheRestore, Comp: "app", Count: n - purged})
		}
	}

	if data, ok := values[KeyPerformance]; ok {
		var p Performance
		if err := json.Unmarshal(data, &p); err != nil {
			logging.Warn("Ignoring unreadable performance stats", "error", err)
		} else {
			e.gateway.RestoreStats(p.Stats)
			e.mu.Lock()
			e.hits += p.CacheHits
			e.misses += p.CacheMisses
			if !p.LastReset.IsZero() {
				e.lastReset = p.LastReset
			}
			e.mu.Unlock()
		}
	}

	if data, ok := values[KeyUserStats]; ok {
		var u coord.UserStats
		if err := json.Unmarshal(data, &u); err != nil {
			logging.Warn("Ignoring unreadable user stats", "error", err)
		} else {
			e.sched.RestoreUsage(u)
		}
	}

	if data, ok := values[KeyFailedAPIs]; ok {
		var entries []health.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			logging.Warn("Ignoring unreadable failure ledger", "error", err)
		} else {
			e.health.Restore(entries)
		}
	}
}
