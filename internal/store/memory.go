package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "evfleet/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    runs     map[string]*model.Run         // id -> run
    runOrder []string                      // creation order
    gens     map[string][]model.Generation // runId -> snapshots, ascending
    subs     []model.Subscription
    // Webhooks queue state
    deliveries map[string]*memDelivery // id -> delivery state
    delivOrder []string
    dlq        []WebhookDelivery // dead-lettered deliveries
}

func NewMemory() *Memory {
    return &Memory{
        runs:       map[string]*model.Run{},
        gens:       map[string][]model.Generation{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    LatencyMs   int
    DeliveredAt *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateRun(ctx context.Context, in model.RunInput) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r := &model.Run{
        ID:           uuid.New().String(),
        Name:         in.Name,
        Status:       model.RunQueued,
        InstanceName: in.InstanceName,
        Customers:    in.Customers,
        Stations:     in.Stations,
        Vehicles:     in.Vehicles,
        Config:       in.Config,
        CreatedAt:    time.Now().UTC(),
    }
    m.runs[r.ID] = r
    m.runOrder = append(m.runOrder, r.ID)
    return copyRun(r), nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok { return model.Run{}, ErrNotFound }
    return copyRun(r), nil
}

// ListRuns pages newest first; the cursor is the last id of the previous page.
func (m *Memory) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    limit = clampLimit(limit)
    start := len(m.runOrder) - 1
    if cursor != "" {
        start = -1
        for i := len(m.runOrder) - 1; i >= 0; i-- {
            if m.runOrder[i] == cursor { start = i - 1; break }
        }
    }
    out := []model.Run{}
    next := ""
    for i := start; i >= 0; i-- {
        r := m.runs[m.runOrder[i]]
        if status != "" && r.Status != status { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, copyRun(r))
    }
    return out, next, nil
}

func (m *Memory) MarkRunStarted(ctx context.Context, id string, at time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok { return ErrNotFound }
    if model.Terminal(r.Status) { return ErrConflict }
    r.Status = model.RunRunning
    t := at.UTC()
    r.StartedAt = &t
    return nil
}

func (m *Memory) FinishRun(ctx context.Context, id string, res model.RunResult, at time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok { return ErrNotFound }
    if model.Terminal(r.Status) { return ErrConflict }
    r.Status = res.Status
    r.BestCost = res.BestCost
    r.Routes = res.Routes
    r.Breakdown = res.Breakdown
    r.Summary = res.Summary
    r.Error = res.Error
    t := at.UTC()
    r.FinishedAt = &t
    return nil
}

func (m *Memory) AppendGenerations(ctx context.Context, runID string, gens []model.Generation) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.runs[runID]; !ok { return ErrNotFound }
    m.gens[runID] = append(m.gens[runID], gens...)
    return nil
}

// ListGenerations returns snapshots with Generation > afterGen, ascending.
func (m *Memory) ListGenerations(ctx context.Context, runID string, afterGen, limit int) ([]model.Generation, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.runs[runID]; !ok { return nil, ErrNotFound }
    limit = clampLimit(limit)
    all := m.gens[runID]
    i := sort.Search(len(all), func(i int) bool { return all[i].Generation > afterGen })
    end := i + limit
    if end > len(all) { end = len(all) }
    return append([]model.Generation{}, all[i:end]...), nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret, CreatedAt: time.Now().UTC()}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    limit = clampLimit(limit)
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription{}, list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    found := false
    for _, s := range m.subs {
        if s.ID == id { found = true; continue }
        out = append(out, s)
    }
    if !found { return ErrNotFound }
    m.subs = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    now := time.Now()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: &now}}
    m.deliveries[id] = d
    m.delivOrder = append(m.delivOrder, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.delivOrder {
        d := m.deliveries[id]
        if d == nil { continue }
        due := d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && due {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
        d.NextAttemptAt = nil
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { t := *nextAttemptAt; d.NextAttemptAt = &t } else { t := time.Now().Add(1 * time.Minute); d.NextAttemptAt = &t }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = DeliveryFailed
    d.Attempts++
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    d.NextAttemptAt = nil
    m.dlq = append(m.dlq, d.WebhookDelivery)
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    limit = clampLimit(limit)
    start := 0
    if cursor != "" {
        for i, id := range m.delivOrder { if id == cursor { start = i + 1; break } }
    }
    out := []WebhookDelivery{}
    next := ""
    for i := start; i < len(m.delivOrder); i++ {
        d := m.deliveries[m.delivOrder[i]]
        if d == nil || (status != "" && d.Status != status) { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, d.WebhookDelivery)
    }
    return out, next, nil
}

func copyRun(r *model.Run) model.Run {
    out := *r
    if r.Routes != nil {
        out.Routes = make([][]int, len(r.Routes))
        for i, rt := range r.Routes { out.Routes[i] = append([]int(nil), rt...) }
    }
    return out
}
