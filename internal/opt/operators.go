package opt

import (
	"context"
	"math"
	"math/rand"
)

// TwoOpt reverses a random interior segment route[i..j]. Routes shorter
// than 4 nodes come back as an unchanged copy.
func TwoOpt(r Route, rng *rand.Rand) Route {
	if len(r) < 4 {
		return append(Route(nil), r...)
	}
	i := 1 + rng.Intn(len(r)-3)       // 1..len-3
	k := i + 1 + rng.Intn(len(r)-2-i) // i+1..len-2
	return twoOptSwap(r, i, k)
}

func twoOptSwap(ord Route, i, k int) Route {
	out := make(Route, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// Relocate moves one interior node to a random interior position of a
// random route (possibly the same one).
func Relocate(s Solution, rng *rand.Rand) Solution {
	child := s.Clone()
	var src []int
	for ri, r := range child {
		if len(r) > 3 {
			src = append(src, ri)
		}
	}
	if len(src) == 0 {
		return child
	}
	ri := src[rng.Intn(len(src))]
	from := child[ri]
	positions := customerPositions(len(from))
	pos := positions[rng.Intn(len(positions))]
	node := from[pos]
	child[ri] = append(from[:pos], from[pos+1:]...)

	rj := rng.Intn(len(child))
	dest := child[rj]
	at := len(dest)
	if len(dest) >= 2 {
		at = 1 + rng.Intn(len(dest)-1) // before the closing depot
	}
	child[rj] = append(dest[:at], append(Route{node}, dest[at:]...)...)
	return child
}

// Swap exchanges one interior node between two random routes, which may
// be the same route.
func Swap(s Solution, rng *rand.Rand) Solution {
	child := s.Clone()
	if len(child) == 0 {
		return child
	}
	a := rng.Intn(len(child))
	b := rng.Intn(len(child))
	ra, rb := child[a], child[b]
	if len(ra) < 3 || len(rb) < 3 {
		return child
	}
	pa := customerPositions(len(ra))
	pb := customerPositions(len(rb))
	i := pa[rng.Intn(len(pa))]
	j := pb[rng.Intn(len(pb))]
	ra[i], rb[j] = rb[j], ra[i]
	return child
}

type move int

const (
	moveTwoOpt move = iota
	moveRelocate
	moveSwap
	numMoves
)

// Neighborhood is the UL local search: sample candidates, keep the best.
type Neighborhood struct {
	Eval *Evaluator
	// Candidates per call (default 8).
	Candidates int
	// Tolerance is the relative uphill band still accepted; zero accepts
	// only non-worsening moves. DefaultConfig sets 0.002.
	Tolerance float64
	Workers   int
}

// Apply samples candidate moves around parent and returns the best one if
// it does not exceed the parent's cost by more than the tolerance band.
// Otherwise parent is returned as is.
func (n *Neighborhood) Apply(ctx context.Context, parent Solution, rng *rand.Rand) Solution {
	parentCost := n.Eval.FullCost(parent)

	count := n.Candidates
	if count <= 0 {
		count = 8
	}
	cands := make([]Solution, 0, count)
	for c := 0; c < count; c++ {
		switch move(rng.Intn(int(numMoves))) {
		case moveTwoOpt:
			var idx []int
			for i, r := range parent {
				if len(r) > 3 {
					idx = append(idx, i)
				}
			}
			if len(idx) == 0 {
				continue
			}
			ri := idx[rng.Intn(len(idx))]
			cand := parent.Clone()
			cand[ri] = TwoOpt(cand[ri], rng)
			cands = append(cands, cand)
		case moveRelocate:
			cands = append(cands, Relocate(parent, rng))
		case moveSwap:
			cands = append(cands, Swap(parent, rng))
		}
	}
	if len(cands) == 0 {
		return parent
	}

	costs, err := n.Eval.CostAll(ctx, cands, n.Workers)
	if err != nil {
		return parent
	}
	best, bestCost := -1, math.Inf(1)
	for i, c := range costs {
		if c < bestCost {
			best, bestCost = i, c
		}
	}
	if best < 0 {
		return parent
	}
	if bestCost <= parentCost || bestCost < parentCost*(1+n.Tolerance) {
		return cands[best]
	}
	return parent
}
