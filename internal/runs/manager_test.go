package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evfleet/internal/config"
	"evfleet/internal/instance"
	"evfleet/internal/model"
	"evfleet/internal/opt"
	"evfleet/internal/store"
	"evfleet/internal/webhooks"
)

const tinyInstance = `NAME: tiny-n5-s1
VEHICLES: 2
DIMENSION: 5
STATIONS: 1
CAPACITY: 100
ENERGY_CAPACITY: 50.0
ENERGY_CONSUMPTION: 1.0
NODE_COORD_SECTION
1 0 0
2 3 4
3 6 8
4 0 10
5 5 5
DEMAND_SECTION
1 0
2 10
3 20
4 30
EOF
`

type recordBroker struct {
	mu  sync.Mutex
	evs []model.Event
}

func (b *recordBroker) Subscribe(string) chan model.Event    { return make(chan model.Event) }
func (b *recordBroker) Unsubscribe(string, chan model.Event) {}
func (b *recordBroker) Publish(_ string, evt model.Event) {
	b.mu.Lock()
	b.evs = append(b.evs, evt)
	b.mu.Unlock()
}

func (b *recordBroker) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.evs))
	for i, e := range b.evs {
		out[i] = e.Type
	}
	return out
}

func smallConfig() config.File {
	f := config.Default()
	f.Engine.PopSize = 6
	f.Engine.MaxGens = 20
	f.Engine.ReportEvery = 5
	f.Engine.Seed = 3
	return f
}

func longConfig() *opt.Config {
	c := opt.DefaultConfig()
	c.PopSize = 6
	c.MaxGens = 10_000_000
	c.ReportEvery = 0
	return &c
}

func newTestManager(t *testing.T, maxConcurrent int) (*Manager, *store.Memory, *recordBroker) {
	t.Helper()
	st := store.NewMemory()
	br := &recordBroker{}
	m := NewManager(st, br, webhooks.NewPublisher(st, nil), smallConfig(), maxConcurrent)
	m.FlushEvery = 2
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, st, br
}

func waitStatus(t *testing.T, st store.Store, id, status string) model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := st.GetRun(context.Background(), id)
		if err == nil && r.Status == status {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", id, status)
	return model.Run{}
}

func TestSubmitCompletes(t *testing.T) {
	m, st, br := newTestManager(t, 2)
	ctx := context.Background()
	_, _ = st.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://hook", Events: []string{model.EventRunCompleted}})

	run, err := m.Submit(ctx, model.CreateRunRequest{Instance: tinyInstance})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.Status != model.RunQueued || run.InstanceName != "tiny-n5-s1" || run.Customers != 3 || run.Stations != 1 {
		t.Fatalf("run: %+v", run)
	}
	m.Wait()

	got, _ := st.GetRun(ctx, run.ID)
	if got.Status != model.RunCompleted || got.BestCost == nil || got.Summary == nil || got.StartedAt == nil {
		t.Fatalf("finished run: %+v", got)
	}
	if got.Summary.Generations != 20 {
		t.Fatalf("generations: got %d, want 20", got.Summary.Generations)
	}
	if *got.BestCost != got.Breakdown.Total {
		t.Fatalf("best cost %v != breakdown total %v", *got.BestCost, got.Breakdown.Total)
	}
	seen := map[int]bool{}
	for _, r := range got.Routes {
		if len(r) == 0 {
			continue
		}
		if r[0] != 1 || r[len(r)-1] != 1 {
			t.Fatalf("route not anchored at depot: %v", r)
		}
		for _, n := range r {
			if n >= 2 && n <= 4 {
				seen[n] = true
			}
		}
	}
	if len(seen) != 3 {
		t.Fatalf("customers missing from routes: %v", got.Routes)
	}

	// gens 0, 5, 10, 15 and the last one
	gens, _ := st.ListGenerations(ctx, run.ID, -1, 100)
	if len(gens) != 5 || gens[4].Generation != 19 {
		t.Fatalf("generations: %+v", gens)
	}

	types := br.types()
	if types[0] != model.EventRunStarted || types[len(types)-1] != model.EventRunCompleted {
		t.Fatalf("event order: %v", types)
	}
	if len(types) != 7 {
		t.Fatalf("want started + 5 generations + completed, got %v", types)
	}
	due, _ := st.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].EventType != model.EventRunCompleted {
		t.Fatalf("webhooks queued: %+v", due)
	}
}

func TestPrepareAppliesRequest(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	wait := 3.0
	req := model.CreateRunRequest{Instance: tinyInstance}
	req.Overrides.WaitingCost = &wait
	p, cfg, err := m.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.WaitingCost != 3 || p.ChargeRate != 1.0 || p.StationEnergyPrice != nil {
		t.Fatalf("problem: waiting=%v rate=%v prices=%v", p.WaitingCost, p.ChargeRate, p.StationEnergyPrice)
	}
	if cfg.PopSize != 6 || cfg.MaxGens != 20 {
		t.Fatalf("want manager defaults, got %+v", cfg)
	}

	dec := instance.DefaultDecoration(7)
	req.Decorate = &dec
	p, _, err = m.Prepare(req)
	if err != nil {
		t.Fatalf("Prepare decorated: %v", err)
	}
	if price := p.StationEnergyPrice[5]; price < 0.25 || price > 0.45 {
		t.Fatalf("decorated price: %v", price)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	m, _, _ := newTestManager(t, 1)
	ctx := context.Background()
	if _, err := m.Submit(ctx, model.CreateRunRequest{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty instance: want ErrInvalid, got %v", err)
	}
	if _, err := m.Submit(ctx, model.CreateRunRequest{Instance: "NAME: x\n"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad instance: want ErrInvalid, got %v", err)
	}
	cfg := opt.DefaultConfig()
	cfg.PopSize = 1
	if _, err := m.Submit(ctx, model.CreateRunRequest{Instance: tinyInstance, Config: &cfg}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad config: want ErrInvalid, got %v", err)
	}
}

func TestCancelRunningAndQueued(t *testing.T) {
	m, st, _ := newTestManager(t, 1)
	ctx := context.Background()

	first, err := m.Submit(ctx, model.CreateRunRequest{Instance: tinyInstance, Config: longConfig()})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, st, first.ID, model.RunRunning)

	second, err := m.Submit(ctx, model.CreateRunRequest{Instance: tinyInstance, Config: longConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(ctx, second.ID); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	q := waitStatus(t, st, second.ID, model.RunCancelled)
	if q.StartedAt != nil || q.BestCost != nil {
		t.Fatalf("queued run should not have started: %+v", q)
	}

	if err := m.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	r := waitStatus(t, st, first.ID, model.RunCancelled)
	if r.BestCost == nil || len(r.Routes) == 0 {
		t.Fatalf("cancelled run should keep best-so-far: %+v", r)
	}

	m.Wait()
	if err := m.Cancel(ctx, first.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("cancel finished: want ErrConflict, got %v", err)
	}
	if err := m.Cancel(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancel missing: want ErrNotFound, got %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("active: %d", m.Active())
	}
}

func TestTimeoutFailsRun(t *testing.T) {
	m, st, _ := newTestManager(t, 1)
	m.Timeout = 50 * time.Millisecond

	run, err := m.Submit(context.Background(), model.CreateRunRequest{Instance: tinyInstance, Config: longConfig()})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()
	got, _ := st.GetRun(context.Background(), run.ID)
	if got.Status != model.RunFailed || got.Error == "" {
		t.Fatalf("want failed with error, got %+v", got)
	}
}

func TestShutdownCancelsRuns(t *testing.T) {
	m, st, _ := newTestManager(t, 1)
	run, err := m.Submit(context.Background(), model.CreateRunRequest{Instance: tinyInstance, Config: longConfig()})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, st, run.ID, model.RunRunning)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	got, _ := st.GetRun(context.Background(), run.ID)
	if got.Status != model.RunCancelled {
		t.Fatalf("status after shutdown: %s", got.Status)
	}
}
