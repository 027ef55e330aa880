// Package cache holds fetched items in insertion order.
//
// The cache is a multiset: the same (category, title) may appear several
// times if fetched at different moments. Deduplication happens at selection
// time, never here. The size cap applies only to persisted snapshots; the
// live cache may exceed it between persists.
package cache

import (
	"fmt"
	"sync"

	"github.com/abelbrown/waitwiki/internal/model"
)

// DefaultMaxPersist is the number of most recent entries a snapshot keeps.
const DefaultMaxPersist = 300

// Entry pairs an item with its synthetic key. The key only gives the
// persisted mapping unique names; nothing looks items up by it.
type Entry struct {
	Key  string     `json:"key"`
	Item model.Item `json:"item"`
}

// Cache is an ordered, bounded-on-persist item store. Safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	clock      model.Clock
	entries    []Entry
	counts     map[model.Category]int
	seq        uint64
	maxPersist int
}

// New creates an empty cache. A non-positive maxPersist uses DefaultMaxPersist.
func New(clock model.Clock, maxPersist int) *Cache {
	if clock == nil {
		clock = model.SystemClock{}
	}
	if maxPersist <= 0 {
		maxPersist = DefaultMaxPersist
	}
	return &Cache{
		clock:      clock,
		counts:     make(map[model.Category]int),
		maxPersist: maxPersist,
	}
}

// Insert appends item under a fresh synthetic key and returns the key.
// Never merges with or overwrites existing entries.
func (c *Cache) Insert(item model.Item) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(item)
}

// InsertAll appends items in order and returns how many were added.
func (c *Cache) InsertAll(items []model.Item) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.insertLocked(it)
	}
	return len(items)
}

func (c *Cache) insertLocked(item model.Item) string {
	c.seq++
	key := fmt.Sprintf("%s_%s_%d_%d", item.Category, item.Title, c.clock.Now().UnixMilli(), c.seq)
	c.entries = append(c.entries, Entry{Key: key, Item: item})
	c.counts[item.Category]++
	return key
}

// Snapshot returns at most maxPersist of the most recently inserted entries,
// oldest first.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if len(c.entries) > c.maxPersist {
		start = len(c.entries) - c.maxPersist
	}
	out := make([]Entry, len(c.entries)-start)
	copy(out, c.entries[start:])
	return out
}

// Restore appends persisted entries. No cap is applied here; the next
// snapshot enforces it. Entries with an empty key get a fresh one.
func (c *Cache) Restore(entries []Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.Item.Category == "" {
			continue
		}
		if e.Key == "" {
			c.insertLocked(e.Item)
		} else {
			c.entries = append(c.entries, e)
			c.counts[e.Item.Category]++
		}
		n++
	}
	return n
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Count returns the number of live entries in cat.
func (c *Cache) Count(cat model.Category) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[cat]
}

// Counts returns a copy of the per-category counts.
func (c *Cache) Counts() map[model.Category]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.Category]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// ValuesByCategory returns the items of cat in insertion order.
func (c *Cache) ValuesByCategory(cat model.Category) []model.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Item, 0, c.counts[cat])
	for _, e := range c.entries {
		if e.Item.Category == cat {
			out = append(out, e.Item)
		}
	}
	return out
}

// All returns every item in insertion order.
func (c *Cache) All() []model.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Item, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Item
	}
	return out
}

// Purge removes every entry for which keep returns false.
// Returns the number removed.
func (c *Cache) Purge(keep func(model.Item) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		if keep(e.Item) {
			kept = append(kept, e)
			continue
		}
		c.counts[e.Item.Category]--
		if c.counts[e.Item.Category] == 0 {
			delete(c.counts, e.Item.Category)
		}
		removed++
	}
	// Clear the tail so dropped items can be collected.
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = Entry{}
	}
	c.entries = kept
	return removed
}
