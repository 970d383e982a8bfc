package opt

import (
	"math"
	"sort"
)

// ChargingSolver is the lower level: for a fixed route it inserts charging
// stops greedily, one arc at a time. A cheaper global plan may exist; the
// upper level is tuned against this bias, so keep it per-arc.
type ChargingSolver struct {
	P *Problem
}

func NewChargingSolver(p *Problem) *ChargingSolver {
	return &ChargingSolver{P: p}
}

// Solve runs SolveRoute on every route and sums the cost. The first
// infeasible route makes the whole solution infeasible.
func (c *ChargingSolver) Solve(s Solution) (bool, float64) {
	total := 0.0
	for _, r := range s {
		ok, cost := c.SolveRoute(r)
		if !ok {
			return false, math.Inf(1)
		}
		total += cost
	}
	return true, total
}

// SolveRoute returns whether r can be made SoC-feasible and the cost of
// the chosen stops (detour + per-visit cost + price of energy to full).
func (c *ChargingSolver) SolveRoute(r Route) (bool, float64) {
	if len(r) < 2 {
		return true, 0
	}
	p := c.P
	d := p.Distance
	alpha := p.EnergyConsumption
	bmax := p.EnergyCapacity

	cands := candidateCache{p: p, byOrigin: map[int][]int{}}
	soc := p.InitialSoC()
	cost := 0.0

	for t := 0; t < len(r)-1; t++ {
		i, j := r[t], r[t+1]
		need := alpha * d[i][j]
		if soc >= need {
			soc -= need
			continue
		}

		best := math.Inf(1)
		bestB := -1
		for _, b := range cands.feasible(i, j) {
			toB := d[i][b] + p.detour(b)
			needIB := alpha * toB
			if needIB > soc {
				continue
			}
			if bmax-alpha*d[b][j] < -socEpsilon {
				continue
			}
			toFull := math.Max(0, bmax-(soc-needIB))
			cand := toB + p.visitCost(b) + p.energyPrice(b)*toFull
			if cand < best {
				best = cand
				bestB = b
			}
		}
		if bestB < 0 {
			return false, math.Inf(1)
		}

		soc = bmax - alpha*d[bestB][j]
		cost += best
		if soc < -socEpsilon || soc > bmax+socEpsilon {
			return false, math.Inf(1)
		}
	}
	return true, cost
}

// candidateCache memoizes the K nearest stations per origin for one route
// evaluation; the list only depends on the origin.
type candidateCache struct {
	p        *Problem
	byOrigin map[int][]int
}

func (cc *candidateCache) nearest(i int) []int {
	if lst, ok := cc.byOrigin[i]; ok {
		return lst
	}
	p := cc.p
	lst := append([]int(nil), p.Stations...)
	sort.SliceStable(lst, func(a, b int) bool {
		return p.Distance[i][lst[a]]+p.detour(lst[a]) < p.Distance[i][lst[b]]+p.detour(lst[b])
	})
	if k := p.kNearest(); len(lst) > k {
		lst = lst[:k]
	}
	cc.byOrigin[i] = lst
	return lst
}

// feasible filters the nearest stations to those reachable from i and
// able to reach j, both on a full battery.
func (cc *candidateCache) feasible(i, j int) []int {
	p := cc.p
	rng := p.Range()
	var out []int
	for _, b := range cc.nearest(i) {
		if p.Distance[i][b]+p.detour(b) <= rng && p.Distance[b][j] <= rng {
			out = append(out, b)
		}
	}
	return out
}

// IsPromising is a cheap necessary condition for LL feasibility: every arc
// is coverable directly on a full battery or through one station.
func (c *ChargingSolver) IsPromising(s Solution) bool {
	for _, r := range s {
		for t := 0; t < len(r)-1; t++ {
			if !c.arcCoverable(r[t], r[t+1]) {
				return false
			}
		}
	}
	return true
}

func (c *ChargingSolver) arcCoverable(i, j int) bool {
	p := c.P
	rng := p.Range()
	if p.Distance[i][j] <= rng {
		return true
	}
	for _, b := range p.Stations {
		if p.Distance[i][b]+p.detour(b) <= rng && p.Distance[b][j] <= rng {
			return true
		}
	}
	return false
}
