//go:build postgres_integration

package store

import (
    "os"
    "testing"
    "time"

    "evfleet/internal/model"
    "evfleet/internal/opt"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }

    r, err := p.CreateRun(t.Context(), model.RunInput{Name: "it", InstanceName: "tiny", Config: opt.DefaultConfig()})
    if err != nil { t.Fatalf("CreateRun: %v", err) }
    if err := p.MarkRunStarted(t.Context(), r.ID, time.Now()); err != nil { t.Fatalf("MarkRunStarted: %v", err) }
    gens := []model.Generation{{Generation: 0, BestCost: 10, Action: "H1", At: time.Now()}}
    if err := p.AppendGenerations(t.Context(), r.ID, gens); err != nil { t.Fatalf("AppendGenerations: %v", err) }
    cost := 9.5
    if err := p.FinishRun(t.Context(), r.ID, model.RunResult{Status: model.RunCompleted, BestCost: &cost, Routes: [][]int{{1, 2, 1}}}, time.Now()); err != nil {
        t.Fatalf("FinishRun: %v", err)
    }
    got, err := p.GetRun(t.Context(), r.ID)
    if err != nil { t.Fatalf("GetRun: %v", err) }
    if got.Status != model.RunCompleted || got.BestCost == nil || *got.BestCost != 9.5 { t.Fatalf("run: %+v", got) }
    if _, _, err := p.ListRuns(t.Context(), "", "", 1); err != nil { t.Fatalf("ListRuns: %v", err) }
    if g, err := p.ListGenerations(t.Context(), r.ID, -1, 10); err != nil || len(g) != 1 { t.Fatalf("ListGenerations: %v %v", g, err) }
}
