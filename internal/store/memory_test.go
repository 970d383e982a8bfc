package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"evfleet/internal/model"
	"evfleet/internal/opt"
)

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, err := m.CreateRun(ctx, model.RunInput{Name: "a", InstanceName: "E-n22", Config: opt.DefaultConfig()})
	if err != nil || r.ID == "" || r.Status != model.RunQueued {
		t.Fatalf("CreateRun: %+v %v", r, err)
	}
	if err := m.MarkRunStarted(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkRunStarted: %v", err)
	}
	cost := 123.5
	res := model.RunResult{Status: model.RunCompleted, BestCost: &cost, Routes: [][]int{{1, 2, 1}}}
	if err := m.FinishRun(ctx, r.ID, res, time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := m.FinishRun(ctx, r.ID, res, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("second FinishRun: want ErrConflict, got %v", err)
	}
	got, err := m.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunCompleted || *got.BestCost != 123.5 || got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("run: %+v", got)
	}
	got.Routes[0][1] = 99
	again, _ := m.GetRun(ctx, r.ID)
	if again.Routes[0][1] != 2 {
		t.Fatalf("GetRun returned shared route slice")
	}
	if _, err := m.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		r, _ := m.CreateRun(ctx, model.RunInput{Config: opt.DefaultConfig()})
		ids = append(ids, r.ID)
	}
	page, next, err := m.ListRuns(ctx, "", "", 2)
	if err != nil || len(page) != 2 || next == "" {
		t.Fatalf("page1: %d %q %v", len(page), next, err)
	}
	if page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("want newest first")
	}
	page, next, _ = m.ListRuns(ctx, "", next, 2)
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Fatalf("page2: %+v", page)
	}
	page, next, _ = m.ListRuns(ctx, "", next, 2)
	if len(page) != 1 || next != "" {
		t.Fatalf("page3: %d %q", len(page), next)
	}
	running, _, _ := m.ListRuns(ctx, model.RunRunning, "", 10)
	if len(running) != 0 {
		t.Fatalf("status filter: got %d", len(running))
	}
}

func TestMemoryGenerations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.CreateRun(ctx, model.RunInput{Config: opt.DefaultConfig()})
	var gens []model.Generation
	for g := 0; g < 10; g++ {
		gens = append(gens, model.Generation{RunID: r.ID, Generation: g * 5, BestCost: float64(100 - g)})
	}
	if err := m.AppendGenerations(ctx, r.ID, gens); err != nil {
		t.Fatal(err)
	}
	got, err := m.ListGenerations(ctx, r.ID, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Generation != 15 || got[2].Generation != 25 {
		t.Fatalf("got %+v", got)
	}
	if err := m.AppendGenerations(ctx, "nope", gens); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://x", Events: []string{model.EventRunCompleted}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://y", Events: []string{model.EventRunFailed}})
	subs, _ := m.GetSubscriptionsForEvent(ctx, model.EventRunCompleted)
	if len(subs) != 1 || subs[0].ID != s.ID {
		t.Fatalf("got %+v", subs)
	}
	if err := m.DeleteSubscription(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSubscription(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	list, _, _ := m.ListSubscriptions(ctx, "", 10)
	if len(list) != 1 {
		t.Fatalf("got %d", len(list))
	}
}

func TestMemoryDeliveryQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, _ := m.EnqueueWebhook(ctx, "", model.EventRunCompleted, "http://x", "s", []byte(`{}`))
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %+v", due)
	}
	later := time.Now().Add(time.Hour)
	_ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3)
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry scheduled in the future should not be due")
	}
	_ = m.FailWebhookDelivery(ctx, id, "boom", 500, 3)
	list, _, _ := m.ListWebhookDeliveries(ctx, DeliveryFailed, "", 10)
	if len(list) != 1 || list[0].Attempts != 2 {
		t.Fatalf("failed list: %+v", list)
	}
}
