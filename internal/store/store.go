package store

import (
    "context"
    "errors"
    "time"

    "evfleet/internal/model"
)

// Store is the persistence interface used by the run manager and API server.
type Store interface {
    // Runs
    CreateRun(ctx context.Context, in model.RunInput) (model.Run, error)
    GetRun(ctx context.Context, id string) (model.Run, error)
    ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error)
    MarkRunStarted(ctx context.Context, id string, at time.Time) error
    FinishRun(ctx context.Context, id string, res model.RunResult, at time.Time) error

    // Generation snapshots
    AppendGenerations(ctx context.Context, runID string, gens []model.Generation) error
    ListGenerations(ctx context.Context, runID string, afterGen, limit int) ([]model.Generation, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error)

    Ping(ctx context.Context) error
}

var (
    ErrNotFound = errors.New("not found")
    // ErrConflict is returned when a run is already in a terminal status.
    ErrConflict = errors.New("conflict")
)

const defaultLimit = 100

func clampLimit(limit int) int {
    if limit <= 0 || limit > 500 {
        return defaultLimit
    }
    return limit
}
