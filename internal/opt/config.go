package opt

import (
	"errors"
	"fmt"
)

// Config holds the evolution and controller parameters for one run.
type Config struct {
	PopSize        int     `yaml:"pop_size" json:"popSize"`
	MaxGens        int     `yaml:"max_gens" json:"maxGens"`
	TournamentSize int     `yaml:"tournament_size" json:"tournamentSize"`
	EpsStart       float64 `yaml:"eps_start" json:"epsStart"`
	EpsMin         float64 `yaml:"eps_min" json:"epsMin"`
	Decay          float64 `yaml:"decay" json:"decay"`
	Alpha          float64 `yaml:"alpha" json:"alpha"`
	Gamma          float64 `yaml:"gamma" json:"gamma"`
	// Seed 0 seeds from the clock.
	Seed int64 `yaml:"seed" json:"seed"`

	EliteSize       int     `yaml:"elite_size" json:"eliteSize"`
	EliteK          int     `yaml:"elite_k" json:"eliteK"`
	Candidates      int     `yaml:"candidates" json:"candidates"`
	AcceptTolerance float64 `yaml:"accept_tolerance" json:"acceptTolerance"`
	Workers         int     `yaml:"workers" json:"workers"`
	ReportEvery     int     `yaml:"report_every" json:"reportEvery"`

	Policy CostPolicy `yaml:"policy" json:"policy"`
}

// DefaultConfig matches the evrp command line defaults.
func DefaultConfig() Config {
	return Config{
		PopSize:         30,
		MaxGens:         200,
		TournamentSize:  2,
		EpsStart:        1.0,
		EpsMin:          0.1,
		Decay:           0.995,
		Alpha:           0.1,
		Gamma:           0.9,
		Seed:            8,
		EliteSize:       defaultEliteSize,
		EliteK:          3,
		Candidates:      8,
		AcceptTolerance: 0.002,
		Workers:         1,
		ReportEvery:     50,
		Policy:          DefaultCostPolicy(),
	}
}

// Validate enforces the parameter ranges the engine depends on.
func (c Config) Validate() error {
	var errs []error
	if c.PopSize < 2 {
		errs = append(errs, fmt.Errorf("pop_size must be >= 2, got %d", c.PopSize))
	}
	if c.MaxGens < 0 {
		errs = append(errs, fmt.Errorf("max_gens must be >= 0, got %d", c.MaxGens))
	}
	if c.TournamentSize < 1 || c.TournamentSize > c.PopSize {
		errs = append(errs, fmt.Errorf("tournament_size must be in [1,pop_size], got %d", c.TournamentSize))
	}
	if !(0 <= c.EpsMin && c.EpsMin <= c.EpsStart && c.EpsStart <= 1) {
		errs = append(errs, fmt.Errorf("need 0 <= eps_min <= eps_start <= 1, got eps_min=%v eps_start=%v", c.EpsMin, c.EpsStart))
	}
	if c.Decay <= 0 || c.Decay > 1 {
		errs = append(errs, fmt.Errorf("decay must be in (0,1], got %v", c.Decay))
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		errs = append(errs, fmt.Errorf("alpha must be in (0,1], got %v", c.Alpha))
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		errs = append(errs, fmt.Errorf("gamma must be in (0,1], got %v", c.Gamma))
	}
	if c.EliteSize < 1 {
		errs = append(errs, fmt.Errorf("elite_size must be >= 1, got %d", c.EliteSize))
	}
	if c.EliteK < 1 {
		errs = append(errs, fmt.Errorf("elite_k must be >= 1, got %d", c.EliteK))
	}
	if c.Candidates < 1 {
		errs = append(errs, fmt.Errorf("candidates must be >= 1, got %d", c.Candidates))
	}
	if c.AcceptTolerance < 0 {
		errs = append(errs, fmt.Errorf("accept_tolerance must be >= 0, got %v", c.AcceptTolerance))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
