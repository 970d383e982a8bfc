package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Metrics summarizes what the search did over a run.
type Metrics struct {
	Generations   int                  `json:"generations"`
	Improvements  int                  `json:"improvements"`
	ActionSelects [len(Strategies)]int `json:"actionSelects"`
	LLSolves      int                  `json:"llSolves"`
	LLFeasible    int                  `json:"llFeasible"`
	LLSkipped     int                  `json:"llSkipped"`
	BestCost      float64              `json:"bestCost"`
	FinalEpsilon  float64              `json:"finalEpsilon"`
	ArchiveSize   int                  `json:"archiveSize"`
	Elapsed       time.Duration        `json:"elapsed"`
	Snapshots     []GenerationReport   `json:"snapshots,omitempty"`
}

// GenerationReport is what a reporter sees after each sampled generation.
type GenerationReport struct {
	Generation int      `json:"generation"`
	BestCost   float64  `json:"bestCost"`
	Epsilon    float64  `json:"epsilon"`
	Action     Strategy `json:"action"`
	Reward     float64  `json:"reward"`
	Improved   bool     `json:"improved"`
}

// Result is the outcome of Solve.
type Result struct {
	Best      Solution
	Cost      float64
	Breakdown Breakdown
	Metrics   Metrics
}

// Reporter receives progress; the engine does not care how it is shown.
type Reporter interface {
	OnGeneration(GenerationReport)
	OnDone(Result)
}

type scored struct {
	sol  Solution
	cost float64
}

// Search is the mutable state of one run: population, archive, Q-table,
// epsilon and the single random source every stochastic step draws from.
type Search struct {
	P            *Problem
	Config       Config
	Eval         *Evaluator
	Neighborhood *Neighborhood
	Archive      *EliteArchive
	Controller   *Controller
	Metrics      Metrics

	rng        *rand.Rand
	population []scored
	state      State
	best       Solution
	bestCost   float64
}

// NewSearch wires a search for p. Both arguments must already be valid.
func NewSearch(p *Problem, cfg Config) *Search {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	eval := NewEvaluator(p, cfg.Policy)
	return &Search{
		P:      p,
		Config: cfg,
		Eval:   eval,
		Neighborhood: &Neighborhood{
			Eval:       eval,
			Candidates: cfg.Candidates,
			Tolerance:  cfg.AcceptTolerance,
			Workers:    cfg.Workers,
		},
		Archive:    NewEliteArchive(cfg.EliteSize),
		Controller: NewController(cfg),
		rng:        rand.New(rand.NewSource(seed)),
		state:      State{Improved: 0, Last: NoStrategy},
		bestCost:   math.Inf(1),
	}
}

// Solve validates its inputs and runs the generational loop to MaxGens.
// Cancellation is observed only between generations.
func Solve(ctx context.Context, p *Problem, cfg Config, rep Reporter) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("solve: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("solve: %w", err)
	}
	return NewSearch(p, cfg).Run(ctx, rep)
}

// Run executes the search. On cancellation it returns the best result so
// far together with the context error.
func (sr *Search) Run(ctx context.Context, rep Reporter) (Result, error) {
	start := time.Now()
	if err := sr.initPopulation(ctx); err != nil {
		return Result{}, err
	}

	var runErr error
	for gen := 0; gen < sr.Config.MaxGens; gen++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		r, err := sr.step(ctx, gen)
		if err != nil {
			runErr = err
			break
		}
		last := gen == sr.Config.MaxGens-1
		if every := sr.Config.ReportEvery; (every > 0 && gen%every == 0) || last {
			sr.Metrics.Snapshots = append(sr.Metrics.Snapshots, r)
			if rep != nil {
				rep.OnGeneration(r)
			}
		}
	}

	res := sr.result()
	res.Metrics.Elapsed = time.Since(start)
	sr.Metrics.Elapsed = res.Metrics.Elapsed
	if rep != nil {
		rep.OnDone(res)
	}
	return res, runErr
}

func (sr *Search) initPopulation(ctx context.Context) error {
	sols := make([]Solution, sr.Config.PopSize)
	for i := range sols {
		sols[i] = Repair(sr.P, InitialSolution(sr.P, sr.rng))
	}
	costs, err := sr.Eval.CostAll(ctx, sols, sr.Config.Workers)
	if err != nil {
		return fmt.Errorf("initial population: %w", err)
	}
	sr.population = make([]scored, len(sols))
	for i := range sols {
		sr.population[i] = scored{sol: sols[i], cost: costs[i]}
	}
	return nil
}

func (sr *Search) step(ctx context.Context, gen int) (GenerationReport, error) {
	pool := sr.matingPool()

	action := sr.Controller.Select(sr.state, sr.rng)
	sr.Metrics.ActionSelects[action]++

	offspring := make([]Solution, len(pool))
	for i, parent := range pool {
		child := action.Apply(ctx, sr, parent)
		offspring[i] = Repair(sr.P, child)
	}
	costs, err := sr.Eval.CostAll(ctx, offspring, sr.Config.Workers)
	if err != nil {
		return GenerationReport{}, fmt.Errorf("generation %d: %w", gen, err)
	}

	bestOff := 0
	for i := range costs {
		if costs[i] < costs[bestOff] {
			bestOff = i
		}
	}
	offCost := costs[bestOff]

	reward := 0.0
	if !math.IsInf(sr.bestCost, 1) {
		reward = math.Max(0, sr.bestCost-offCost)
	}
	improved := offCost < sr.bestCost
	if improved {
		sr.best, sr.bestCost = offspring[bestOff].Clone(), offCost
		sr.Archive.Update(offspring[bestOff], offCost)
		sr.Metrics.Improvements++
	}

	next := State{Improved: 0, Last: action}
	if improved {
		next.Improved = 1
	}
	sr.Controller.Update(sr.state, action, reward, next)

	combined := make([]scored, 0, len(sr.population)+len(offspring))
	combined = append(combined, sr.population...)
	for i := range offspring {
		combined = append(combined, scored{sol: offspring[i], cost: costs[i]})
	}
	sort.SliceStable(combined, func(i, j int) bool { return combined[i].cost < combined[j].cost })
	sr.population = combined[:sr.Config.PopSize]

	eps := sr.Controller.DecayEpsilon()
	sr.state = next
	sr.Metrics.Generations++

	return GenerationReport{
		Generation: gen,
		BestCost:   sr.bestCost,
		Epsilon:    eps,
		Action:     action,
		Reward:     reward,
		Improved:   improved,
	}, nil
}

// matingPool fills a pool of PopSize by tournament: sample without
// replacement, keep the fittest (fitness = 1/(1+cost)).
func (sr *Search) matingPool() []Solution {
	n := len(sr.population)
	fitness := make([]float64, n)
	for i, s := range sr.population {
		fitness[i] = 1 / (1 + s.cost)
	}
	k := sr.Config.TournamentSize
	if k > n {
		k = n
	}
	idx := make([]int, n)
	pool := make([]Solution, 0, n)
	for range n {
		for i := range idx {
			idx[i] = i
		}
		winner := -1
		for t := 0; t < k; t++ {
			j := t + sr.rng.Intn(n-t)
			idx[t], idx[j] = idx[j], idx[t]
			if winner < 0 || fitness[idx[t]] > fitness[winner] {
				winner = idx[t]
			}
		}
		pool = append(pool, sr.population[winner].sol)
	}
	return pool
}

func (sr *Search) result() Result {
	best, cost := sr.best, sr.bestCost
	for _, s := range sr.population {
		if best == nil || s.cost < cost {
			best, cost = s.sol, s.cost
		}
	}
	sr.Metrics.BestCost = cost
	sr.Metrics.FinalEpsilon = sr.Controller.Epsilon
	sr.Metrics.ArchiveSize = sr.Archive.Len()
	res := Result{Best: best.Clone(), Cost: cost, Metrics: sr.Metrics}
	if best != nil {
		res.Breakdown = sr.Eval.Breakdown(best)
	}
	res.Metrics.Snapshots = append([]GenerationReport(nil), sr.Metrics.Snapshots...)
	return res
}
