package opt

import (
	"math"
	"math/rand"
	"sort"
)

const defaultEliteSize = 100

type eliteEntry struct {
	sol  Solution
	cost float64
	seq  uint64
}

// EliteArchive is a bounded memory of good solutions keyed by structural
// hash. Collisions overwrite; it is a heuristic memory, not an index.
type EliteArchive struct {
	MaxSize int

	entries map[uint64]*eliteEntry
	seq     uint64
}

// NewEliteArchive holds at most maxSize members; <= 0 uses the default.
func NewEliteArchive(maxSize int) *EliteArchive {
	if maxSize <= 0 {
		maxSize = defaultEliteSize
	}
	return &EliteArchive{MaxSize: maxSize, entries: map[uint64]*eliteEntry{}}
}

// Len is the number of members.
func (a *EliteArchive) Len() int { return len(a.entries) }

// Update inserts or overwrites sol and evicts the single worst entry when
// the archive overflows. Ties on cost evict the oldest insertion.
func (a *EliteArchive) Update(sol Solution, cost float64) {
	h := sol.Hash()
	a.seq++
	if e, ok := a.entries[h]; ok {
		e.sol, e.cost = sol.Clone(), cost
	} else {
		a.entries[h] = &eliteEntry{sol: sol.Clone(), cost: cost, seq: a.seq}
	}
	if len(a.entries) <= a.MaxSize {
		return
	}
	var worstKey uint64
	var worst *eliteEntry
	for k, e := range a.entries {
		if worst == nil || e.cost > worst.cost || (e.cost == worst.cost && e.seq < worst.seq) {
			worstKey, worst = k, e
		}
	}
	delete(a.entries, worstKey)
}

// Cheapest returns the k lowest-cost members. This is the "clustering" of
// the archive: there is no distance metric involved, only cost order.
func (a *EliteArchive) Cheapest(k int) []Solution {
	if len(a.entries) == 0 || k <= 0 {
		return nil
	}
	all := make([]*eliteEntry, 0, len(a.entries))
	for _, e := range a.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].cost != all[j].cost {
			return all[i].cost < all[j].cost
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]Solution, len(all))
	for i, e := range all {
		out[i] = e.sol
	}
	return out
}

// Costs returns member costs in ascending order.
func (a *EliteArchive) Costs() []float64 {
	out := make([]float64, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.cost)
	}
	sort.Float64s(out)
	return out
}

// RandomRepresentative picks a member uniformly, nil when empty.
func RandomRepresentative(members []Solution, rng *rand.Rand) Solution {
	if len(members) == 0 {
		return nil
	}
	return members[rng.Intn(len(members))]
}

// NearestByCost picks the member whose full cost is closest to the
// parent's. Cost is a one-dimensional stand-in for similarity.
func NearestByCost(e *Evaluator, parent Solution, members []Solution) Solution {
	if len(members) == 0 {
		return nil
	}
	target := e.FullCost(parent)
	var best Solution
	bestGap := math.Inf(1)
	for _, m := range members {
		if gap := math.Abs(e.FullCost(m) - target); best == nil || gap < bestGap {
			best, bestGap = m, gap
		}
	}
	return best
}
