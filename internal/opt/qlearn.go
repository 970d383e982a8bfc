package opt

import "math/rand"

// State is what the controller conditions on: whether the last generation
// improved the best cost, and which strategy it used.
type State struct {
	Improved int
	Last     Strategy
}

// Controller is an epsilon-greedy tabular Q-learner over Strategies.
type Controller struct {
	Q       map[State]map[Strategy]float64
	Epsilon float64
	EpsMin  float64
	Decay   float64
	Alpha   float64
	Gamma   float64
}

// NewController starts with an empty table and epsilon at EpsStart.
func NewController(cfg Config) *Controller {
	return &Controller{
		Q:       map[State]map[Strategy]float64{},
		Epsilon: cfg.EpsStart,
		EpsMin:  cfg.EpsMin,
		Decay:   cfg.Decay,
		Alpha:   cfg.Alpha,
		Gamma:   cfg.Gamma,
	}
}

// Select draws once from rng; below epsilon it explores uniformly,
// otherwise it exploits Best.
func (c *Controller) Select(st State, rng *rand.Rand) Strategy {
	if rng.Float64() < c.Epsilon {
		return Strategies[rng.Intn(len(Strategies))]
	}
	return c.Best(st)
}

// Best is the argmax over touched actions of st. Ties and unseen states
// resolve to the first strategy in action order.
func (c *Controller) Best(st State) Strategy {
	row := c.Q[st]
	if len(row) == 0 {
		return Strategies[0]
	}
	best := Strategies[0]
	bestV, found := 0.0, false
	for _, a := range Strategies {
		v, ok := row[a]
		if !ok {
			continue
		}
		if !found || v > bestV {
			best, bestV, found = a, v, true
		}
	}
	return best
}

// Value reads Q[st][a], zero when untouched.
func (c *Controller) Value(st State, a Strategy) float64 {
	return c.Q[st][a]
}

// Update applies Q = (1-alpha)Q + alpha(r + gamma max Q[next]).
func (c *Controller) Update(st State, a Strategy, reward float64, next State) {
	row := c.Q[st]
	if row == nil {
		row = map[Strategy]float64{}
		c.Q[st] = row
	}
	nextMax := 0.0
	if nr := c.Q[next]; len(nr) > 0 {
		first := true
		for _, v := range nr {
			if first || v > nextMax {
				nextMax, first = v, false
			}
		}
	}
	row[a] = (1-c.Alpha)*row[a] + c.Alpha*(reward+c.Gamma*nextMax)
}

// DecayEpsilon shrinks epsilon geometrically down to EpsMin.
func (c *Controller) DecayEpsilon() float64 {
	eps := c.Epsilon * c.Decay
	if eps < c.EpsMin {
		eps = c.EpsMin
	}
	c.Epsilon = eps
	return eps
}
