package opt

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Problem is the static instance data consumed read-only by the engine.
// Node ids run 1..N; row and column 0 of Distance are unused.
//
// Validate (or the first IsStation/IsCustomer call) freezes the node-kind
// index; Stations and Customers must not change after that.
type Problem struct {
	Name      string
	Vehicles  int
	Capacity  int // payload per vehicle
	Depot     int
	Customers []int
	Stations  []int

	Coords   [][2]float64 // optional, indexed by node id
	Distance [][]float64

	// Demands may be empty, which disables capacity checks. A customer
	// missing from a non-empty map has demand 1.
	Demands map[int]int

	EnergyCapacity    float64 // Bmax
	EnergyConsumption float64 // energy per distance unit
	InitSoCRatio      float64

	WaitingCost      float64 // per hour, also the per-visit fallback in the LL
	EnergyCost       float64 // fallback price per energy unit
	ChargeRate       float64 // fallback rate; <= 0 means unlimited
	FixedChargeHours float64

	StationChargeRate  map[int]float64
	StationEnergyPrice map[int]float64
	StationWaitTime    map[int]float64 // hours per visit
	StationWaitCost    map[int]float64 // flat cost per visit
	StationDetour      map[int]float64 // extra distance on arrival

	KNearestStations int

	once       sync.Once
	isStation  []bool
	isCustomer []bool
}

const defaultKNearest = 5

// Validate checks the structural invariants the engine relies on.
func (p *Problem) Validate() error {
	if p == nil {
		return errors.New("problem: nil")
	}
	if p.Vehicles < 1 {
		return fmt.Errorf("problem %q: vehicles must be >= 1, got %d", p.Name, p.Vehicles)
	}
	if p.Capacity < 0 {
		return fmt.Errorf("problem %q: capacity must be >= 0, got %d", p.Name, p.Capacity)
	}
	if p.EnergyCapacity <= 0 {
		return fmt.Errorf("problem %q: energy capacity must be > 0, got %v", p.Name, p.EnergyCapacity)
	}
	if p.EnergyConsumption <= 0 {
		return fmt.Errorf("problem %q: energy consumption must be > 0, got %v", p.Name, p.EnergyConsumption)
	}
	if p.InitSoCRatio < 0 || p.InitSoCRatio > 1 {
		return fmt.Errorf("problem %q: initial soc ratio must be in [0,1], got %v", p.Name, p.InitSoCRatio)
	}
	n := len(p.Distance)
	if n < 2 {
		return fmt.Errorf("problem %q: distance matrix is empty", p.Name)
	}
	for i, row := range p.Distance {
		if len(row) != n {
			return fmt.Errorf("problem %q: distance row %d has %d columns, want %d", p.Name, i, len(row), n)
		}
	}
	inRange := func(id int) bool { return id >= 1 && id < n }
	if !inRange(p.Depot) {
		return fmt.Errorf("problem %q: depot %d outside distance matrix", p.Name, p.Depot)
	}
	for _, c := range p.Customers {
		if !inRange(c) {
			return fmt.Errorf("problem %q: customer %d outside distance matrix", p.Name, c)
		}
	}
	for _, s := range p.Stations {
		if !inRange(s) {
			return fmt.Errorf("problem %q: station %d outside distance matrix", p.Name, s)
		}
	}
	for id, d := range p.Demands {
		if d < 0 {
			return fmt.Errorf("problem %q: customer %d has negative demand %d", p.Name, id, d)
		}
	}
	p.index()
	return nil
}

func (p *Problem) index() {
	p.once.Do(func() {
		n := len(p.Distance)
		p.isStation = make([]bool, n)
		p.isCustomer = make([]bool, n)
		for _, s := range p.Stations {
			if s >= 0 && s < n {
				p.isStation[s] = true
			}
		}
		for _, c := range p.Customers {
			if c >= 0 && c < n {
				p.isCustomer[c] = true
			}
		}
	})
}

// IsStation reports whether id is a charging station.
func (p *Problem) IsStation(id int) bool {
	p.index()
	return id >= 0 && id < len(p.isStation) && p.isStation[id]
}

// IsCustomer reports whether id is a customer.
func (p *Problem) IsCustomer(id int) bool {
	p.index()
	return id >= 0 && id < len(p.isCustomer) && p.isCustomer[id]
}

// InitialSoC is the battery level every route starts with.
func (p *Problem) InitialSoC() float64 {
	ratio := p.InitSoCRatio
	if ratio == 0 {
		ratio = 1
	}
	return ratio * p.EnergyCapacity
}

// Range is the distance a full battery covers.
func (p *Problem) Range() float64 {
	return p.EnergyCapacity / p.EnergyConsumption
}

func (p *Problem) kNearest() int {
	if p.KNearestStations > 0 {
		return p.KNearestStations
	}
	return defaultKNearest
}

func (p *Problem) fixedChargeHours() float64 {
	if p.FixedChargeHours > 0 {
		return p.FixedChargeHours
	}
	return 0.5
}

func (p *Problem) detour(b int) float64 { return p.StationDetour[b] }

func (p *Problem) chargeRate(b int) float64 {
	if r, ok := p.StationChargeRate[b]; ok {
		return r
	}
	if p.ChargeRate > 0 {
		return p.ChargeRate
	}
	return math.Inf(1)
}

func (p *Problem) energyPrice(b int) float64 {
	if v, ok := p.StationEnergyPrice[b]; ok {
		return v
	}
	return p.EnergyCost
}

// visitCost is the flat per-visit charge used by the LL solver, falling
// back to the scalar waiting cost.
func (p *Problem) visitCost(b int) float64 {
	if v, ok := p.StationWaitCost[b]; ok {
		return v
	}
	return p.WaitingCost
}

func (p *Problem) demand(id int) int {
	if d, ok := p.Demands[id]; ok {
		return d
	}
	return 1
}
