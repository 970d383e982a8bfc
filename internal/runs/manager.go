// Package runs executes optimization runs in the background and fans
// their progress out to the store, the event broker and webhooks.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"evfleet/internal/config"
	"evfleet/internal/events"
	"evfleet/internal/instance"
	"evfleet/internal/metrics"
	"evfleet/internal/model"
	"evfleet/internal/obs"
	"evfleet/internal/opt"
	"evfleet/internal/store"
	"evfleet/internal/webhooks"
)

// ErrInvalid wraps every request problem detected before a run is created.
var ErrInvalid = errors.New("invalid run request")

// Manager owns the lifecycle of runs started on this process.
type Manager struct {
	Store    store.Store
	Broker   events.Broker
	Hooks    *webhooks.Publisher
	Defaults config.File
	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
	// FlushEvery is how many generation snapshots are buffered before
	// they are written to the store.
	FlushEvery int

	sem     chan struct{}
	base    context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager allows at most maxConcurrent runs to execute at once; the
// rest wait in status queued.
func NewManager(s store.Store, b events.Broker, hooks *webhooks.Publisher, defaults config.File, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		Store:      s,
		Broker:     b,
		Hooks:      hooks,
		Defaults:   defaults,
		FlushEvery: 10,
		sem:        make(chan struct{}, maxConcurrent),
		base:       base,
		stop:       stop,
		cancels:    map[string]context.CancelFunc{},
	}
}

// Prepare builds the problem and engine config for req without touching
// the store. Errors wrap ErrInvalid.
func (m *Manager) Prepare(req model.CreateRunRequest) (*opt.Problem, opt.Config, error) {
	if strings.TrimSpace(req.Instance) == "" {
		return nil, opt.Config{}, fmt.Errorf("%w: instance is required", ErrInvalid)
	}
	p, err := instance.Parse(strings.NewReader(req.Instance))
	if err != nil {
		return nil, opt.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	instance.ApplyDefaults(p)
	if req.Decorate != nil {
		instance.Decorate(p, *req.Decorate)
	}
	m.Defaults.Overrides.Apply(p)
	req.Overrides.Apply(p)
	if err := p.Validate(); err != nil {
		return nil, opt.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := m.Defaults.Engine
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, opt.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return p, cfg, nil
}

// Submit validates req, records a queued run and starts it in the
// background.
func (m *Manager) Submit(ctx context.Context, req model.CreateRunRequest) (run model.Run, err error) {
	defer obs.Time(ctx, "runs.submit")(&err)
	p, cfg, err := m.Prepare(req)
	if err != nil {
		return model.Run{}, err
	}
	name := req.Name
	if name == "" {
		name = p.Name
	}
	run, err = m.Store.CreateRun(ctx, model.RunInput{
		Name:         name,
		InstanceName: p.Name,
		Customers:    len(p.Customers),
		Stations:     len(p.Stations),
		Vehicles:     p.Vehicles,
		Config:       cfg,
	})
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if m.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(m.base, m.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(m.base)
	}
	m.mu.Lock()
	m.cancels[run.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(obs.WithRunID(runCtx, run.ID), cancel, run.ID, p, cfg)
	return run, nil
}

// Cancel stops a queued or running run. Runs owned by another process
// or already finished report store.ErrNotFound or store.ErrConflict.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	r, err := m.Store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if model.Terminal(r.Status) {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

// Active reports how many runs this process is tracking.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Shutdown cancels every run and waits for them to record their final
// status, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted run has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, id string, p *opt.Problem, cfg opt.Config) {
	defer m.wg.Done()
	defer m.forget(id)
	defer cancel()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.finish(id, opt.Result{}, ctx.Err(), 0)
		return
	}
	defer func() { <-m.sem }()

	started := time.Now()
	if err := m.Store.MarkRunStarted(ctx, id, started); err != nil {
		log.Printf("run=%s mark started err=%v", id, err)
	}
	m.publish(ctx, model.EventRunStarted, id, map[string]any{"customers": len(p.Customers), "stations": len(p.Stations)}, true)
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	rep := &runReporter{m: m, runID: id, flushEvery: m.FlushEvery}
	res, err := func() (res opt.Result, err error) {
		defer obs.Time(ctx, "runs.solve")(&err)
		return opt.Solve(ctx, p, cfg, rep)
	}()
	rep.flush()
	m.finish(id, res, err, time.Since(started))
}

// finish records the terminal status. It uses a fresh context since the
// run context is usually done by now.
func (m *Manager) finish(id string, res opt.Result, solveErr error, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(obs.WithRunID(context.Background(), id), 10*time.Second)
	defer cancel()

	out := model.RunResult{Status: model.RunCompleted}
	evt := model.EventRunCompleted
	switch {
	case solveErr == nil:
	case errors.Is(solveErr, context.Canceled):
		out.Status, evt = model.RunCancelled, model.EventRunCancelled
	default:
		out.Status, evt = model.RunFailed, model.EventRunFailed
		out.Error = solveErr.Error()
	}
	if res.Best != nil {
		cost := res.Cost
		bd := res.Breakdown
		sum := model.SummaryFrom(res.Metrics)
		out.BestCost = &cost
		out.Routes = res.Best.Ints()
		out.Breakdown = &bd
		out.Summary = &sum
	}
	if err := m.Store.FinishRun(ctx, id, out, time.Now()); err != nil {
		log.Printf("run=%s finish err=%v", id, err)
	}

	metrics.Runs.WithLabelValues(out.Status).Inc()
	metrics.RunDuration.WithLabelValues(out.Status).Observe(elapsed.Seconds())
	metrics.BestCost.DeleteLabelValues(id)
	if res.Best != nil {
		mt := res.Metrics
		metrics.Generations.Add(float64(mt.Generations))
		for i, s := range opt.Strategies {
			metrics.StrategySelections.WithLabelValues(s.String()).Add(float64(mt.ActionSelects[i]))
		}
		metrics.ChargingSolves.WithLabelValues("feasible").Add(float64(mt.LLFeasible))
		metrics.ChargingSolves.WithLabelValues("infeasible").Add(float64(mt.LLSolves - mt.LLFeasible))
		metrics.ChargingSolves.WithLabelValues("skipped").Add(float64(mt.LLSkipped))
	}
	log.Printf("run=%s status=%s cost=%s elapsed=%s", id, out.Status, costString(out.BestCost), elapsed.Round(time.Millisecond))

	data := map[string]any{"status": out.Status}
	if out.BestCost != nil {
		data["bestCost"] = *out.BestCost
		data["routes"] = out.Routes
	}
	if out.Error != "" {
		data["error"] = out.Error
	}
	m.publish(ctx, evt, id, data, true)
}

func (m *Manager) publish(ctx context.Context, typ, runID string, data any, hook bool) {
	evt := model.Event{Type: typ, RunID: runID, Data: data, TS: time.Now().UTC().Format(time.RFC3339Nano)}
	if m.Broker != nil {
		m.Broker.Publish(runID, evt)
	}
	if hook && m.Hooks != nil {
		m.Hooks.EmitEvent(ctx, evt)
	}
}

func costString(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *c)
}
