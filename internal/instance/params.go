package instance

import (
	"math/rand"

	"evfleet/internal/opt"
)

// Overrides replace scalar fallbacks on a loaded problem. Nil fields keep
// whatever the problem already has.
type Overrides struct {
	WaitingCost      *float64 `yaml:"waiting_cost" json:"waitingCost,omitempty"`
	EnergyCost       *float64 `yaml:"energy_cost" json:"energyCost,omitempty"`
	ChargeRate       *float64 `yaml:"charge_rate" json:"chargeRate,omitempty"`
	FixedChargeHours *float64 `yaml:"fixed_charge_hours" json:"fixedChargeHours,omitempty"`
	InitSoCRatio     *float64 `yaml:"init_soc_ratio" json:"initSocRatio,omitempty"`
	KNearestStations *int     `yaml:"k_nearest_stations" json:"kNearestStations,omitempty"`
}

// ApplyDefaults fills the scalar fallbacks a bare .evrp file leaves unset.
func ApplyDefaults(p *opt.Problem) {
	if p.ChargeRate == 0 {
		p.ChargeRate = 1.0
	}
	if p.FixedChargeHours == 0 {
		p.FixedChargeHours = 0.5
	}
	if p.InitSoCRatio == 0 {
		p.InitSoCRatio = 1
	}
}

// Apply copies every set override onto p.
func (o Overrides) Apply(p *opt.Problem) {
	if o.WaitingCost != nil {
		p.WaitingCost = *o.WaitingCost
	}
	if o.EnergyCost != nil {
		p.EnergyCost = *o.EnergyCost
	}
	if o.ChargeRate != nil {
		p.ChargeRate = *o.ChargeRate
	}
	if o.FixedChargeHours != nil {
		p.FixedChargeHours = *o.FixedChargeHours
	}
	if o.InitSoCRatio != nil {
		p.InitSoCRatio = *o.InitSoCRatio
	}
	if o.KNearestStations != nil {
		p.KNearestStations = *o.KNearestStations
	}
}

// Decoration controls the synthetic per-station parameters.
type Decoration struct {
	Seed         int64   `yaml:"seed" json:"seed"`
	ChargeRateKW float64 `yaml:"charge_rate_kw" json:"chargeRateKW"`
}

// DefaultDecoration charges at 200 kW.
func DefaultDecoration(seed int64) Decoration {
	return Decoration{Seed: seed, ChargeRateKW: 200}
}

const (
	minPrice, maxPrice   = 0.25, 0.45 // per kWh
	maxWaitHours         = 0.5
	maxDetourKM          = 2.0
	visitFee             = 0.0
	fixedChargeHoursPEVR = 0.5
)

// Decorate draws a charge rate, energy price, queueing time and arrival
// detour for every station from a generator seeded with d.Seed. The same
// seed always yields the same parameters.
func Decorate(p *opt.Problem, d Decoration) {
	rng := rand.New(rand.NewSource(d.Seed))
	kw := d.ChargeRateKW
	if kw <= 0 {
		kw = 200
	}
	p.FixedChargeHours = fixedChargeHoursPEVR
	p.StationChargeRate = make(map[int]float64, len(p.Stations))
	p.StationEnergyPrice = make(map[int]float64, len(p.Stations))
	p.StationWaitTime = make(map[int]float64, len(p.Stations))
	p.StationWaitCost = make(map[int]float64, len(p.Stations))
	p.StationDetour = make(map[int]float64, len(p.Stations))
	for _, s := range p.Stations {
		p.StationChargeRate[s] = kw
		p.StationEnergyPrice[s] = minPrice + rng.Float64()*(maxPrice-minPrice)
		p.StationWaitTime[s] = rng.Float64() * maxWaitHours
		p.StationWaitCost[s] = visitFee
		p.StationDetour[s] = rng.Float64() * maxDetourKM
	}
}
