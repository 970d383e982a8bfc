package runs

import (
	"context"
	"log"
	"time"

	"evfleet/internal/metrics"
	"evfleet/internal/model"
	"evfleet/internal/opt"
)

// runReporter streams sampled generations to subscribers and buffers them
// for the store. It is called from the solving goroutine only.
type runReporter struct {
	m          *Manager
	runID      string
	flushEvery int
	buf        []model.Generation
}

func (r *runReporter) OnGeneration(g opt.GenerationReport) {
	gen := model.GenerationFrom(r.runID, g, time.Now().UTC())
	metrics.BestCost.WithLabelValues(r.runID).Set(g.BestCost)
	r.m.publish(context.Background(), model.EventGeneration, r.runID, gen, false)
	r.buf = append(r.buf, gen)
	if r.flushEvery > 0 && len(r.buf) >= r.flushEvery {
		r.flush()
	}
}

func (r *runReporter) OnDone(opt.Result) {}

func (r *runReporter) flush() {
	if len(r.buf) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.m.Store.AppendGenerations(ctx, r.runID, r.buf); err != nil {
		log.Printf("run=%s append generations n=%d err=%v", r.runID, len(r.buf), err)
	}
	r.buf = r.buf[:0]
}
