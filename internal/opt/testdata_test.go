package opt

import "math"

// euclid builds a 1-indexed distance matrix from coordinates; coords[0]
// is a placeholder for the unused row.
func euclid(coords [][2]float64) [][]float64 {
	n := len(coords)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		if i == 0 {
			continue
		}
		for j := 1; j < n; j++ {
			dx := coords[i][0] - coords[j][0]
			dy := coords[i][1] - coords[j][1]
			d[i][j] = math.Hypot(dx, dy)
		}
	}
	return d
}

// bridgeProblem has depot 1, customer 2 and station 3. The direct leg
// 1->2 exceeds the battery; going through 3 works both ways.
func bridgeProblem() *Problem {
	d := [][]float64{
		{0, 0, 0, 0},
		{0, 0, 50, 20},
		{0, 50, 0, 10},
		{0, 20, 25, 0},
	}
	return &Problem{
		Name:              "bridge",
		Vehicles:          1,
		Depot:             1,
		Customers:         []int{2},
		Stations:          []int{3},
		Distance:          d,
		EnergyCapacity:    40,
		EnergyConsumption: 1,
		InitSoCRatio:      1,
		WaitingCost:       2,
		EnergyCost:        0.5,
	}
}

// gridProblem is a small instance where a full battery covers every arc.
func gridProblem() *Problem {
	coords := [][2]float64{
		{},
		{0, 0},   // 1 depot
		{10, 0},  // 2
		{20, 0},  // 3
		{0, 10},  // 4
		{0, 20},  // 5
		{10, 10}, // 6
		{20, 10}, // 7
		{15, 5},  // 8 station
		{5, 15},  // 9 station
	}
	return &Problem{
		Name:              "grid",
		Vehicles:          2,
		Capacity:          100,
		Depot:             1,
		Customers:         []int{2, 3, 4, 5, 6, 7},
		Stations:          []int{8, 9},
		Coords:            coords,
		Distance:          euclid(coords),
		EnergyCapacity:    80,
		EnergyConsumption: 1,
		InitSoCRatio:      1,
		WaitingCost:       1,
		EnergyCost:        0.2,
		ChargeRate:        50,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PopSize = 8
	cfg.MaxGens = 25
	cfg.Seed = 42
	cfg.ReportEvery = 5
	return cfg
}
