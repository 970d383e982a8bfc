package opt

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// BigMPenalty ranks any infeasible solution behind every feasible one.
	BigMPenalty = 1e9
	// CapPenalty is charged per unit of payload overload.
	CapPenalty = 1e6

	socEpsilon = 1e-9
)

// ChargingModel selects how station visits recharge the battery when
// checking energy feasibility.
type ChargingModel int

const (
	// FixedDuration charges min(Bmax-soc, rate*duration) at every station
	// already present in the route.
	FixedDuration ChargingModel = iota
	// ExactToFull delegates each route to the LL charging solver.
	ExactToFull
)

func (m ChargingModel) String() string {
	switch m {
	case ExactToFull:
		return "exact_to_full"
	default:
		return "fixed_duration"
	}
}

// ParseChargingModel accepts the names produced by String.
func ParseChargingModel(s string) (ChargingModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed_duration", "fixed":
		return FixedDuration, nil
	case "exact_to_full", "exact":
		return ExactToFull, nil
	}
	return FixedDuration, fmt.Errorf("unknown charging model %q", s)
}

// MarshalText writes the String form.
func (m ChargingModel) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText accepts anything ParseChargingModel does.
func (m *ChargingModel) UnmarshalText(b []byte) error {
	v, err := ParseChargingModel(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// CostPolicy selects how detours and station charging enter the cost.
type CostPolicy struct {
	DetourInTravel bool          `yaml:"detour_in_travel" json:"detourInTravel"`
	Charging       ChargingModel `yaml:"charging_model" json:"chargingModel"`
}

// DefaultCostPolicy counts detours as travel and charges for a fixed duration.
func DefaultCostPolicy() CostPolicy {
	return CostPolicy{DetourInTravel: true, Charging: FixedDuration}
}

// Evaluator computes cost and feasibility. It is safe for concurrent use.
type Evaluator struct {
	P      *Problem
	Policy CostPolicy
	LL     *ChargingSolver
}

func NewEvaluator(p *Problem, policy CostPolicy) *Evaluator {
	return &Evaluator{P: p, Policy: policy, LL: NewChargingSolver(p)}
}

// TravelCost sums arc distances over every route.
func (e *Evaluator) TravelCost(s Solution) float64 {
	d := e.P.Distance
	total := 0.0
	for _, r := range s {
		for i := 0; i < len(r)-1; i++ {
			u, v := r[i], r[i+1]
			dist := d[u][v]
			if e.Policy.DetourInTravel && e.P.IsStation(v) {
				dist += e.P.detour(v)
			}
			total += dist
		}
	}
	return total
}

// RouteLoad is the demand served on r.
func (e *Evaluator) RouteLoad(r Route) int {
	if len(e.P.Demands) == 0 {
		return 0
	}
	load := 0
	for _, n := range r {
		if e.P.IsCustomer(n) {
			load += e.P.demand(n)
		}
	}
	return load
}

// CapacityViolation sums positive overloads across routes.
func (e *Evaluator) CapacityViolation(s Solution) int {
	if len(e.P.Demands) == 0 {
		return 0
	}
	viol := 0
	for _, r := range s {
		if over := e.RouteLoad(r) - e.P.Capacity; over > 0 {
			viol += over
		}
	}
	return viol
}

// FeasibilityAndEnergyCost simulates SoC along every route. The first
// infeasible route stops accumulation.
func (e *Evaluator) FeasibilityAndEnergyCost(s Solution) (feasible bool, energy, waiting float64) {
	if e.Policy.Charging == ExactToFull {
		ok, c := e.LL.Solve(s)
		if !ok {
			return false, 0, 0
		}
		return true, c, 0
	}

	p := e.P
	bmax := p.EnergyCapacity
	dur := p.fixedChargeHours()
	for _, r := range s {
		soc := p.InitialSoC()
		for i := 0; i < len(r)-1; i++ {
			u, v := r[i], r[i+1]
			station := p.IsStation(v)
			dist := p.Distance[u][v]
			if station {
				dist += p.detour(v)
			}
			soc -= dist * p.EnergyConsumption
			if soc < -socEpsilon {
				return false, energy, waiting
			}
			if !station {
				continue
			}
			added := math.Min(bmax-soc, p.chargeRate(v)*dur)
			energy += added * p.energyPrice(v)
			waiting += (p.StationWaitTime[v] + dur) * p.WaitingCost
			waiting += p.StationWaitCost[v]
			soc = math.Min(bmax, soc+added)
		}
	}
	return true, energy, waiting
}

// FullCost is the scalar objective, penalties included.
func (e *Evaluator) FullCost(s Solution) float64 {
	travel := e.TravelCost(s)
	feasible, ec, wc := e.FeasibilityAndEnergyCost(s)
	penalty := 0.0
	if !feasible {
		penalty = BigMPenalty
	}
	penalty += CapPenalty * float64(e.CapacityViolation(s))
	return travel + ec + wc + penalty
}

// Breakdown is FullCost split into its terms.
type Breakdown struct {
	Travel            float64 `json:"travel"`
	Energy            float64 `json:"energy"`
	Waiting           float64 `json:"waiting"`
	Feasible          bool    `json:"feasible"`
	CapacityViolation int     `json:"capacityViolation"`
	Total             float64 `json:"total"`
}

func (e *Evaluator) Breakdown(s Solution) Breakdown {
	b := Breakdown{Travel: e.TravelCost(s), CapacityViolation: e.CapacityViolation(s)}
	b.Feasible, b.Energy, b.Waiting = e.FeasibilityAndEnergyCost(s)
	b.Total = e.FullCost(s)
	return b
}

// CostAll scores every solution, fanning out across workers when
// workers > 1. Results are positional so ordering stays deterministic.
func (e *Evaluator) CostAll(ctx context.Context, sols []Solution, workers int) ([]float64, error) {
	out := make([]float64, len(sols))
	if workers <= 1 || len(sols) < 2 {
		for i, s := range sols {
			out[i] = e.FullCost(s)
		}
		return out, nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range sols {
		g.Go(func() error {
			out[i] = e.FullCost(sols[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
