package opt

import (
	"math"
	"testing"
)

func TestSolveRouteBridgesThroughStation(t *testing.T) {
	p := bridgeProblem()
	ll := NewChargingSolver(p)

	ok, cost := ll.SolveRoute(Route{1, 2, 1})
	if !ok {
		t.Fatalf("want feasible")
	}
	// out: 20 + 2 + 0.5*20, back: 10 + 2 + 0.5*35
	if !approx(cost, 61.5) {
		t.Fatalf("cost: got %v, want 61.5", cost)
	}
	if cost <= 0 {
		t.Fatalf("cost should be positive")
	}
}

func TestSolveRouteNoStations(t *testing.T) {
	p := bridgeProblem()
	p.Stations = nil
	ok, cost := NewChargingSolver(p).Solve(Solution{{1, 2, 1}})
	if ok || !math.IsInf(cost, 1) {
		t.Fatalf("got ok=%v cost=%v, want infeasible", ok, cost)
	}
}

func TestSolveRouteAffordableNeedsNothing(t *testing.T) {
	p := bridgeProblem()
	ok, cost := NewChargingSolver(p).SolveRoute(Route{1, 3, 1})
	if !ok || cost != 0 {
		t.Fatalf("got ok=%v cost=%v, want feasible at 0", ok, cost)
	}
}

func TestIsPromising(t *testing.T) {
	p := bridgeProblem()
	ll := NewChargingSolver(p)
	if !ll.IsPromising(Solution{{1, 2, 1}}) {
		t.Fatalf("arc 1->2 is coverable through station 3")
	}
	p2 := bridgeProblem()
	p2.Stations = nil
	if NewChargingSolver(p2).IsPromising(Solution{{1, 2, 1}}) {
		t.Fatalf("without stations 1->2 cannot be covered")
	}
}

func TestKNearestLimitsCandidates(t *testing.T) {
	p := gridProblem()
	p.KNearestStations = 1
	cc := candidateCache{p: p, byOrigin: map[int][]int{}}
	got := cc.nearest(2)
	// node 2 (10,0) is closer to station 8 (15,5) than to 9 (5,15)
	if len(got) != 1 || got[0] != 8 {
		t.Fatalf("got %v, want [8]", got)
	}
}
