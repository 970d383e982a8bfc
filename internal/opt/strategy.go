package opt

import (
	"context"
	"fmt"
)

// Strategy is one of the four per-generation UL/LL coordination schemes.
type Strategy int

const (
	// Hierarchical (H1) runs the LL on the parent and, when feasible,
	// mutates an elite representative instead of the parent.
	Hierarchical Strategy = iota
	// SelectiveLL (H2) runs the LL only when the cheap pre-check passes.
	SelectiveLL
	// Relaxed (H3) skips the LL entirely.
	Relaxed
	// SimilarityGuided (H4) mutates the elite member closest in cost.
	SimilarityGuided

	// NoStrategy marks the controller state before the first generation.
	NoStrategy Strategy = -1
)

// Strategies lists the action space in controller order.
var Strategies = [...]Strategy{Hierarchical, SelectiveLL, Relaxed, SimilarityGuided}

func (s Strategy) String() string {
	switch s {
	case Hierarchical:
		return "H1"
	case SelectiveLL:
		return "H2"
	case Relaxed:
		return "H3"
	case SimilarityGuided:
		return "H4"
	case NoStrategy:
		return "start"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText writes the H1..H4 label.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Apply produces one offspring from parent. It may read and update the
// search's elite archive and always draws randomness from the search rng.
func (s Strategy) Apply(ctx context.Context, sr *Search, parent Solution) Solution {
	switch s {
	case Hierarchical:
		return sr.hierarchical(ctx, parent)
	case SelectiveLL:
		return sr.selectiveLL(ctx, parent)
	case SimilarityGuided:
		return sr.similarityGuided(ctx, parent)
	default:
		return sr.mutate(ctx, parent)
	}
}

func (sr *Search) mutate(ctx context.Context, s Solution) Solution {
	return sr.Neighborhood.Apply(ctx, s, sr.rng)
}

// registerIfFeasible runs the LL on parent and archives it when feasible.
func (sr *Search) registerIfFeasible(parent Solution) bool {
	sr.Metrics.LLSolves++
	ok, _ := sr.Eval.LL.Solve(parent)
	if !ok {
		return false
	}
	sr.Metrics.LLFeasible++
	sr.Archive.Update(parent, sr.Eval.FullCost(parent))
	return true
}

func (sr *Search) hierarchical(ctx context.Context, parent Solution) Solution {
	if sr.registerIfFeasible(parent) {
		members := sr.Archive.Cheapest(sr.Config.EliteK)
		if pick := RandomRepresentative(members, sr.rng); pick != nil {
			return sr.mutate(ctx, pick)
		}
	}
	return sr.mutate(ctx, parent)
}

func (sr *Search) selectiveLL(ctx context.Context, parent Solution) Solution {
	if sr.Eval.LL.IsPromising(parent) {
		sr.registerIfFeasible(parent)
	} else {
		sr.Metrics.LLSkipped++
	}
	return sr.mutate(ctx, parent)
}

func (sr *Search) similarityGuided(ctx context.Context, parent Solution) Solution {
	members := sr.Archive.Cheapest(sr.Config.EliteK)
	if near := NearestByCost(sr.Eval, parent, members); near != nil {
		return sr.mutate(ctx, near)
	}
	return sr.mutate(ctx, parent)
}
