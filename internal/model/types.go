package model

import (
    "time"

    "evfleet/internal/instance"
    "evfleet/internal/opt"
)

// Run statuses
const (
    RunQueued    = "queued"
    RunRunning   = "running"
    RunCompleted = "completed"
    RunFailed    = "failed"
    RunCancelled = "cancelled"
)

// Terminal reports whether a run in this status will not change again.
func Terminal(status string) bool {
    return status == RunCompleted || status == RunFailed || status == RunCancelled
}

// CreateRunRequest is the body of POST /v1/runs.
type CreateRunRequest struct {
    Name      string               `json:"name,omitempty"`
    Instance  string               `json:"instance"` // .evrp text
    Decorate  *instance.Decoration `json:"decorate,omitempty"`
    Overrides instance.Overrides   `json:"overrides,omitempty"`
    Config    *opt.Config          `json:"config,omitempty"`
}

// RunInput is what the store needs to create a run record.
type RunInput struct {
    Name         string
    InstanceName string
    Customers    int
    Stations     int
    Vehicles     int
    Config       opt.Config
}

type Run struct {
    ID           string         `json:"id"`
    Name         string         `json:"name,omitempty"`
    Status       string         `json:"status"`
    InstanceName string         `json:"instanceName"`
    Customers    int            `json:"customers"`
    Stations     int            `json:"stations"`
    Vehicles     int            `json:"vehicles"`
    Config       opt.Config     `json:"config"`
    BestCost     *float64       `json:"bestCost,omitempty"`
    Routes       [][]int        `json:"routes,omitempty"`
    Breakdown    *opt.Breakdown `json:"breakdown,omitempty"`
    Summary      *RunSummary    `json:"summary,omitempty"`
    Error        string         `json:"error,omitempty"`
    CreatedAt    time.Time      `json:"createdAt"`
    StartedAt    *time.Time     `json:"startedAt,omitempty"`
    FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
}

// RunSummary is opt.Metrics without the per-generation snapshots, which
// are stored separately as Generation rows.
type RunSummary struct {
    Generations   int            `json:"generations"`
    Improvements  int            `json:"improvements"`
    ActionSelects map[string]int `json:"actionSelects"`
    LLSolves      int            `json:"llSolves"`
    LLFeasible    int            `json:"llFeasible"`
    LLSkipped     int            `json:"llSkipped"`
    FinalEpsilon  float64        `json:"finalEpsilon"`
    ArchiveSize   int            `json:"archiveSize"`
    ElapsedMs     int64          `json:"elapsedMs"`
}

// SummaryFrom flattens engine metrics for storage.
func SummaryFrom(m opt.Metrics) RunSummary {
    acts := make(map[string]int, len(opt.Strategies))
    for i, s := range opt.Strategies {
        acts[s.String()] = m.ActionSelects[i]
    }
    return RunSummary{
        Generations:   m.Generations,
        Improvements:  m.Improvements,
        ActionSelects: acts,
        LLSolves:      m.LLSolves,
        LLFeasible:    m.LLFeasible,
        LLSkipped:     m.LLSkipped,
        FinalEpsilon:  m.FinalEpsilon,
        ArchiveSize:   m.ArchiveSize,
        ElapsedMs:     m.Elapsed.Milliseconds(),
    }
}

// RunResult is written once when a run reaches a terminal status.
type RunResult struct {
    Status    string
    BestCost  *float64
    Routes    [][]int
    Breakdown *opt.Breakdown
    Summary   *RunSummary
    Error     string
}

// Generation is one sampled progress point of a run.
type Generation struct {
    RunID      string    `json:"runId"`
    Generation int       `json:"generation"`
    BestCost   float64   `json:"bestCost"`
    Epsilon    float64   `json:"epsilon"`
    Action     string    `json:"action"`
    Reward     float64   `json:"reward"`
    Improved   bool      `json:"improved"`
    At         time.Time `json:"at"`
}

// GenerationFrom converts an engine report.
func GenerationFrom(runID string, g opt.GenerationReport, at time.Time) Generation {
    return Generation{
        RunID:      runID,
        Generation: g.Generation,
        BestCost:   g.BestCost,
        Epsilon:    g.Epsilon,
        Action:     g.Action.String(),
        Reward:     g.Reward,
        Improved:   g.Improved,
        At:         at,
    }
}

// Webhook subscriptions
type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}

type Subscription struct {
    ID        string    `json:"id"`
    URL       string    `json:"url"`
    Events    []string  `json:"events"`
    Secret    string    `json:"secret,omitempty"`
    CreatedAt time.Time `json:"createdAt"`
}

// Event is what flows through the broker to SSE and WebSocket clients.
type Event struct {
    Type  string `json:"type"`
    RunID string `json:"runId"`
    Data  any    `json:"data,omitempty"`
    TS    string `json:"ts"`
}

// Event types
const (
    EventRunStarted   = "run.started"
    EventGeneration   = "run.generation"
    EventRunCompleted = "run.completed"
    EventRunFailed    = "run.failed"
    EventRunCancelled = "run.cancelled"
)
