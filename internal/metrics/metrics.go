package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Runs counts finished optimization runs by outcome
    Runs = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "evrp_runs_total", Help: "Optimization runs by final status."},
        []string{"status"},
    )
    // RunsActive is the number of runs currently executing
    RunsActive = prometheus.NewGauge(prometheus.GaugeOpts{Name: "evrp_runs_active", Help: "Runs currently executing."})
    // RunDuration records wall time per run in seconds
    RunDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "evrp_run_duration_seconds", Help: "Run wall time in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900}},
        []string{"status"},
    )
    // Generations counts evolved generations across all runs
    Generations = prometheus.NewCounter(prometheus.CounterOpts{Name: "evrp_generations_total", Help: "Generations evolved."})
    // StrategySelections counts controller choices by strategy
    StrategySelections = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "evrp_strategy_selections_total", Help: "Strategy chosen per generation."},
        []string{"strategy"},
    )
    // ChargingSolves counts lower-level charging solves by result
    ChargingSolves = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "evrp_charging_solves_total", Help: "Lower-level charging solves by result (feasible, infeasible, skipped)."},
        []string{"result"},
    )
    // BestCost is the latest best cost per run
    BestCost = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "evrp_best_cost", Help: "Latest best cost reported by a run."},
        []string{"run_id"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests, HTTPDuration)
        Registry.MustRegister(Runs, RunsActive, RunDuration, Generations, StrategySelections, ChargingSolves, BestCost)
        Registry.MustRegister(WebhookDeliveries, WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
