// Command evrp solves one .evrp instance from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"evfleet/internal/buildinfo"
	"evfleet/internal/config"
	"evfleet/internal/instance"
	"evfleet/internal/model"
	"evfleet/internal/opt"
)

type options struct {
	instance      string
	config        string
	stationRateKW float64
	decorateSeed  int64
	noDecorate    bool
	chargingModel string
	printConfig   bool
	json          bool
	version       bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	log.SetOutput(stderr)

	fs := flag.NewFlagSet("evrp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	def := opt.DefaultConfig()
	var eng opt.Config
	var waiting, energy, rate float64
	var detour bool
	fs.StringVar(&o.instance, "instance", "", "path to the .evrp instance (required)")
	fs.StringVar(&o.config, "config", os.Getenv("ENGINE_CONFIG"), "YAML run file")
	fs.IntVar(&eng.MaxGens, "max-gens", def.MaxGens, "generations")
	fs.IntVar(&eng.PopSize, "pop", def.PopSize, "population size")
	fs.IntVar(&eng.TournamentSize, "tournament-size", def.TournamentSize, "tournament size")
	fs.Float64Var(&eng.EpsStart, "eps-start", def.EpsStart, "initial exploration rate")
	fs.Float64Var(&eng.EpsMin, "eps-min", def.EpsMin, "exploration floor")
	fs.Float64Var(&eng.Decay, "decay", def.Decay, "epsilon decay per generation")
	fs.Float64Var(&eng.Alpha, "alpha", def.Alpha, "Q-learning rate")
	fs.Float64Var(&eng.Gamma, "gamma", def.Gamma, "Q-learning discount")
	fs.Int64Var(&eng.Seed, "seed", def.Seed, "random seed (0 = clock)")
	fs.IntVar(&eng.Workers, "workers", def.Workers, "parallel evaluation workers")
	fs.IntVar(&eng.ReportEvery, "report-every", def.ReportEvery, "progress line every N generations (0 = off)")
	fs.BoolVar(&detour, "detour-in-travel", def.Policy.DetourInTravel, "count station arrival detours as travel")
	fs.StringVar(&o.chargingModel, "charging-model", def.Policy.Charging.String(), "fixed_duration or exact_to_full")
	fs.Float64Var(&waiting, "waiting-cost", 0, "waiting cost per hour")
	fs.Float64Var(&energy, "energy-cost", 0, "fallback energy price")
	fs.Float64Var(&rate, "charge-rate", 0, "fallback charge rate")
	fs.Float64Var(&o.stationRateKW, "station-charge-rate", 200, "decorated station charge rate in kW")
	fs.Int64Var(&o.decorateSeed, "decorate-seed", def.Seed, "seed for synthetic station parameters (default: -seed)")
	fs.BoolVar(&o.noDecorate, "no-decorate", false, "skip synthetic station parameters")
	fs.BoolVar(&o.printConfig, "print-config", false, "print the effective run file and exit")
	fs.BoolVar(&o.json, "json", false, "print the result as JSON")
	fs.BoolVar(&o.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if o.version {
		fmt.Fprintln(stdout, buildinfo.String())
		return 0
	}

	file, err := config.Load(o.config)
	if err != nil {
		log.Printf("config: %v", err)
		return 2
	}
	// Flags given explicitly win over the run file.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
		switch f.Name {
		case "max-gens":
			file.Engine.MaxGens = eng.MaxGens
		case "pop":
			file.Engine.PopSize = eng.PopSize
		case "tournament-size":
			file.Engine.TournamentSize = eng.TournamentSize
		case "eps-start":
			file.Engine.EpsStart = eng.EpsStart
		case "eps-min":
			file.Engine.EpsMin = eng.EpsMin
		case "decay":
			file.Engine.Decay = eng.Decay
		case "alpha":
			file.Engine.Alpha = eng.Alpha
		case "gamma":
			file.Engine.Gamma = eng.Gamma
		case "seed":
			file.Engine.Seed = eng.Seed
		case "workers":
			file.Engine.Workers = eng.Workers
		case "report-every":
			file.Engine.ReportEvery = eng.ReportEvery
		case "detour-in-travel":
			file.Engine.Policy.DetourInTravel = detour
		case "waiting-cost":
			file.Overrides.WaitingCost = &waiting
		case "energy-cost":
			file.Overrides.EnergyCost = &energy
		case "charge-rate":
			file.Overrides.ChargeRate = &rate
		case "station-charge-rate":
			file.Decorate.ChargeRateKW = o.stationRateKW
		case "decorate-seed":
			file.Decorate.Seed = o.decorateSeed
		case "charging-model":
			m, perr := opt.ParseChargingModel(o.chargingModel)
			if perr != nil {
				err = perr
				return
			}
			file.Engine.Policy.Charging = m
		}
	})
	if err != nil {
		log.Printf("flags: %v", err)
		return 2
	}
	// Station decoration follows -seed unless it has its own seed.
	if set["seed"] && !set["decorate-seed"] {
		file.Decorate.Seed = eng.Seed
	}
	if err := file.Engine.Validate(); err != nil {
		log.Printf("config: %v", err)
		return 2
	}
	if o.printConfig {
		b, err := config.Marshal(file)
		if err != nil {
			log.Printf("config: %v", err)
			return 1
		}
		_, _ = stdout.Write(b)
		return 0
	}
	if o.instance == "" {
		fmt.Fprintln(stderr, "evrp: -instance is required")
		fs.Usage()
		return 2
	}

	p, err := instance.Load(o.instance)
	if err != nil {
		log.Printf("instance: %v", err)
		return 1
	}
	instance.ApplyDefaults(p)
	if !o.noDecorate {
		instance.Decorate(p, file.Decorate)
	}
	file.Overrides.Apply(p)
	if err := p.Validate(); err != nil {
		log.Printf("instance: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rep opt.Reporter
	if !o.json {
		rep = opt.LogReporter{}
	}
	res, err := opt.Solve(ctx, p, file.Engine, rep)
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		log.Printf("solve: %v", err)
		return 1
	}
	if res.Best == nil {
		return 130
	}

	if o.json {
		err = writeJSON(stdout, p, res)
	} else {
		fmt.Fprintf(stdout, "Instance: %s (%d customers, %d stations, %d vehicles)\n",
			p.Name, len(p.Customers), len(p.Stations), p.Vehicles)
		err = opt.Describe(stdout, opt.NewEvaluator(p, file.Engine.Policy), res.Best)
	}
	if err != nil {
		log.Printf("output: %v", err)
		return 1
	}
	if interrupted {
		return 130
	}
	return 0
}

type output struct {
	Instance  string           `json:"instance"`
	Cost      float64          `json:"cost"`
	Routes    [][]int          `json:"routes"`
	Breakdown opt.Breakdown    `json:"breakdown"`
	Summary   model.RunSummary `json:"summary"`
}

func writeJSON(w io.Writer, p *opt.Problem, res opt.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output{
		Instance:  p.Name,
		Cost:      res.Cost,
		Routes:    res.Best.Ints(),
		Breakdown: res.Breakdown,
		Summary:   model.SummaryFrom(res.Metrics),
	})
}
