package opt

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// LogReporter prints progress lines through a standard logger.
type LogReporter struct {
	Logger *log.Logger // nil uses the package logger
}

func (r LogReporter) printf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (r LogReporter) OnGeneration(g GenerationReport) {
	r.printf("[gen %d] best=%.2f eps=%.3f act=%s", g.Generation, g.BestCost, g.Epsilon, g.Action)
}

func (r LogReporter) OnDone(res Result) {
	r.printf("done best=%.2f gens=%d improvements=%d feasible=%t",
		res.Cost, res.Metrics.Generations, res.Metrics.Improvements, res.Breakdown.Feasible)
}

// MultiReporter fans out to every non-nil reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) OnGeneration(g GenerationReport) {
	for _, r := range m {
		if r != nil {
			r.OnGeneration(g)
		}
	}
}

func (m MultiReporter) OnDone(res Result) {
	for _, r := range m {
		if r != nil {
			r.OnDone(res)
		}
	}
}

// Describe writes a human readable summary of s: one line per route,
// then travel distance and total cost.
func Describe(w io.Writer, e *Evaluator, s Solution) error {
	var b strings.Builder
	b.WriteString("Routes:\n")
	for _, r := range s {
		fmt.Fprintf(&b, "   %s\n", r)
	}
	fmt.Fprintf(&b, "Travel distance: %.2f\n", e.TravelCost(s))
	fmt.Fprintf(&b, "Total cost     : %.2f\n", e.FullCost(s))
	_, err := io.WriteString(w, b.String())
	return err
}
