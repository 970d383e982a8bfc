package opt

import "math/rand"

// InitialSolution deals shuffled customers round-robin across vehicles.
// No stations are inserted here.
func InitialSolution(p *Problem, rng *rand.Rand) Solution {
	customers := append([]int(nil), p.Customers...)
	rng.Shuffle(len(customers), func(i, j int) { customers[i], customers[j] = customers[j], customers[i] })
	routes := make([][]int, p.Vehicles)
	for i, c := range customers {
		routes[i%p.Vehicles] = append(routes[i%p.Vehicles], c)
	}
	sol := make(Solution, p.Vehicles)
	for i, r := range routes {
		route := make(Route, 0, len(r)+2)
		route = append(route, p.Depot)
		route = append(route, r...)
		route = append(route, p.Depot)
		sol[i] = route
	}
	return sol
}

// Repair returns a depot-anchored copy of s where every unaffordable arc
// gets the cheapest reachable station inserted in front of it.
func Repair(p *Problem, s Solution) Solution {
	out := make(Solution, len(s))
	for i, r := range s {
		route := append(Route(nil), r...)
		if len(route) == 0 || route[0] != p.Depot {
			route = append(Route{p.Depot}, route...)
		}
		if route[len(route)-1] != p.Depot || len(route) == 1 {
			route = append(route, p.Depot)
		}
		out[i] = insertStations(p, route)
	}
	return out
}

// insertStations walks r forward, charging to full at every station, and
// patches unaffordable arcs. It gives up (leaving the tail as is) when no
// station is reachable; the cost penalty reports that downstream.
func insertStations(p *Problem, r Route) Route {
	d := p.Distance
	alpha := p.EnergyConsumption
	bmax := p.EnergyCapacity
	// bound insertions so two stations cannot keep pointing at each other
	budget := len(r) + 2*len(p.Stations)

	soc := p.InitialSoC()
	for i := 0; i < len(r)-1; {
		u, v := r[i], r[i+1]
		need := d[u][v] * alpha
		if soc >= need {
			soc -= need
			if p.IsStation(v) {
				soc = bmax
			}
			i++
			continue
		}
		if budget == 0 {
			return r
		}

		best, bestExtra := -1, 0.0
		for _, s := range p.Stations {
			if s == u || s == v || d[u][s]*alpha > soc {
				continue
			}
			extra := d[u][s] + d[s][v] - d[u][v]
			if best < 0 || extra < bestExtra {
				best, bestExtra = s, extra
			}
		}
		if best < 0 {
			return r
		}

		r = append(r[:i+1], append(Route{best}, r[i+1:]...)...)
		budget--
		soc = bmax
		i++
	}
	return r
}
