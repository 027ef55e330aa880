// Package selection picks the next card from a filtered candidate pool.
//
// The pick is a two-level lottery. A category tier is drawn first: featured
// categories win PriorityShare of the time, and within them the first
// featured category present wins LeadShare. Otherwise items are drawn from
// the remaining categories weighted by the inverse of their category's
// count, so a category that dominates the cache does not dominate the screen.
package selection

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/abelbrown/waitwiki/internal/filter"
	"github.com/abelbrown/waitwiki/internal/model"
)

// Policy tunes the tier lottery.
type Policy struct {
	// Featured categories in priority order. Empty disables the priority tier.
	Featured      []model.Category
	PriorityShare float64
	LeadShare     float64
}

// DefaultPolicy favours encyclopedia excerpts, then curated data facts.
func DefaultPolicy() Policy {
	return Policy{
		Featured:      []model.Category{model.CategoryWikipedia, model.CategoryDataFacts},
		PriorityShare: 0.7,
		LeadShare:     0.6,
	}
}

// Recorder is told about every pick. *filter.Guard satisfies it.
type Recorder interface {
	RecordShown(item model.Item, poolIndex int)
}

// Selector draws candidates. Safe for concurrent use.
type Selector struct {
	policy   Policy
	featured model.CategorySet

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a selector. A nil rng is seeded from the clock.
func New(policy Policy, rng *rand.Rand) *Selector {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>17|1))
	}
	return &Selector{
		policy:   policy,
		featured: model.NewCategorySet(policy.Featured),
		rng:      rng,
	}
}

// Select picks one candidate and reports it to rec (which may be nil).
// ok is false only for an empty pool.
func (s *Selector) Select(cands []filter.Candidate, rec Recorder) (filter.Candidate, bool) {
	c, ok := s.Pick(cands)
	if ok && rec != nil {
		rec.RecordShown(c.Item, c.Index)
	}
	return c, ok
}

// Pick draws one candidate without side effects on any guard.
func (s *Selector) Pick(cands []filter.Candidate) (filter.Candidate, bool) {
	if len(cands) == 0 {
		return filter.Candidate{}, false
	}

	var priority, other []filter.Candidate
	for _, c := range cands {
		if s.featured.Has(c.Item.Category) {
			priority = append(priority, c)
		} else {
			other = append(other, c)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(priority) > 0 && s.rng.Float64() < s.policy.PriorityShare:
		return s.pickFeatured(priority), true
	case len(other) > 0:
		return s.pickWeighted(other), true
	default:
		return priority[s.rng.IntN(len(priority))], true
	}
}

// pickFeatured gives the first featured category present LeadShare of the
// draw and splits the rest evenly across the other featured categories.
func (s *Selector) pickFeatured(priority []filter.Candidate) filter.Candidate {
	byCat := make(map[model.Category][]filter.Candidate)
	var present []model.Category
	for _, cat := range s.policy.Featured {
		for _, c := range priority {
			if c.Item.Category == cat {
				byCat[cat] = append(byCat[cat], c)
			}
		}
		if len(byCat[cat]) > 0 {
			present = append(present, cat)
		}
	}

	var group []filter.Candidate
	switch len(present) {
	case 0:
		group = priority
	case 1:
		group = byCat[present[0]]
	default:
		if s.rng.Float64() < s.policy.LeadShare {
			group = byCat[present[0]]
		} else {
			rest := present[1:]
			group = byCat[rest[s.rng.IntN(len(rest))]]
		}
	}
	return group[s.rng.IntN(len(group))]
}

// pickWeighted draws with weight 1/count(category) per item.
func (s *Selector) pickWeighted(other []filter.Candidate) filter.Candidate {
	counts := make(map[model.Category]int)
	for _, c := range other {
		counts[c.Item.Category]++
	}

	weights := make([]float64, len(other))
	total := 0.0
	for i, c := range other {
		weights[i] = 1 / float64(counts[c.Item.Category])
		total += weights[i]
	}

	r := s.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return other[i]
		}
	}
	return other[len(other)-1]
}
