package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "embed"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "io/fs"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "evfleet/internal/model"
    "evfleet/internal/obs"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent, so running it on each start is safe.
func (p *Postgres) Migrate(ctx context.Context) (err error) {
    defer obs.Time(ctx, "store.migrate")(&err)
    names, err := fs.Glob(migrations, "migrations/*.sql")
    if err != nil { return err }
    sort.Strings(names)
    for _, name := range names {
        b, err := migrations.ReadFile(name)
        if err != nil { return err }
        for _, stmt := range splitStatements(string(b)) {
            if _, err := p.db.ExecContext(ctx, stmt); err != nil {
                return fmt.Errorf("migrate %s: %w", name, err)
            }
        }
    }
    return nil
}

func splitStatements(src string) []string {
    var out []string
    for _, s := range strings.Split(src, ";") {
        if s = strings.TrimSpace(s); s != "" { out = append(out, s) }
    }
    return out
}

const runColumns = `id::text, COALESCE(name,''), status, instance_name, customers, stations, vehicles, config, best_cost, routes, breakdown, summary, COALESCE(error,''), created_at, started_at, finished_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(row rowScanner) (model.Run, error) {
    var r model.Run
    var cfg, routes, breakdown, summary []byte
    var best sql.NullFloat64
    var started, finished sql.NullTime
    if err := row.Scan(&r.ID, &r.Name, &r.Status, &r.InstanceName, &r.Customers, &r.Stations, &r.Vehicles,
        &cfg, &best, &routes, &breakdown, &summary, &r.Error, &r.CreatedAt, &started, &finished); err != nil {
        return model.Run{}, err
    }
    if err := json.Unmarshal(cfg, &r.Config); err != nil { return model.Run{}, fmt.Errorf("decode config: %w", err) }
    if best.Valid { v := best.Float64; r.BestCost = &v }
    if len(routes) > 0 { _ = json.Unmarshal(routes, &r.Routes) }
    if len(breakdown) > 0 {
        if err := json.Unmarshal(breakdown, &r.Breakdown); err != nil { return model.Run{}, err }
    }
    if len(summary) > 0 {
        if err := json.Unmarshal(summary, &r.Summary); err != nil { return model.Run{}, err }
    }
    if started.Valid { t := started.Time; r.StartedAt = &t }
    if finished.Valid { t := finished.Time; r.FinishedAt = &t }
    return r, nil
}

func (p *Postgres) CreateRun(ctx context.Context, in model.RunInput) (model.Run, error) {
    cfg, err := json.Marshal(in.Config)
    if err != nil { return model.Run{}, err }
    id := uuid.New().String()
    row := p.db.QueryRowContext(ctx, `INSERT INTO runs (id, name, status, instance_name, customers, stations, vehicles, config)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+runColumns,
        id, nullIfEmpty(in.Name), model.RunQueued, in.InstanceName, in.Customers, in.Stations, in.Vehicles, cfg)
    return scanRun(row)
}

func (p *Postgres) GetRun(ctx context.Context, id string) (model.Run, error) {
    if _, err := uuid.Parse(id); err != nil { return model.Run{}, ErrNotFound }
    r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id))
    if errors.Is(err, sql.ErrNoRows) { return model.Run{}, ErrNotFound }
    return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
    limit = clampLimit(limit)
    q := `SELECT ` + runColumns + ` FROM runs WHERE ($1 = '' OR status = $1)`
    args := []any{status}
    if cursor != "" {
        if _, err := uuid.Parse(cursor); err != nil { return nil, "", fmt.Errorf("bad cursor: %w", err) }
        q += ` AND seq < (SELECT seq FROM runs WHERE id=$2)`
        args = append(args, cursor)
    }
    q += fmt.Sprintf(` ORDER BY seq DESC LIMIT %d`, limit+1)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Run{}
    for rows.Next() {
        r, err := scanRun(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) > limit {
        out = out[:limit]
        next = out[limit-1].ID
    }
    return out, next, nil
}

func (p *Postgres) MarkRunStarted(ctx context.Context, id string, at time.Time) error {
    res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, started_at=$3 WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')`, id, model.RunRunning, at)
    if err != nil { return err }
    return p.expectOne(ctx, res, id)
}

func (p *Postgres) FinishRun(ctx context.Context, id string, r model.RunResult, at time.Time) (err error) {
    defer obs.Time(ctx, "store.finish_run")(&err)
    var best any
    if r.BestCost != nil { best = *r.BestCost }
    routes, breakdown, summary := jsonOrNil(r.Routes), jsonOrNil(r.Breakdown), jsonOrNil(r.Summary)
    res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, best_cost=$3, routes=$4, breakdown=$5, summary=$6, error=$7, finished_at=$8
        WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')`,
        id, r.Status, best, routes, breakdown, summary, nullIfEmpty(r.Error), at)
    if err != nil { return err }
    return p.expectOne(ctx, res, id)
}

// expectOne maps a zero-row update to ErrNotFound or ErrConflict.
func (p *Postgres) expectOne(ctx context.Context, res sql.Result, id string) error {
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 1 { return nil }
    var exists bool
    if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id=$1)`, id).Scan(&exists); err != nil { return err }
    if !exists { return ErrNotFound }
    return ErrConflict
}

func (p *Postgres) AppendGenerations(ctx context.Context, runID string, gens []model.Generation) (err error) {
    if len(gens) == 0 { return nil }
    defer obs.Time(ctx, "store.append_generations")(&err)
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_generations (run_id, generation, best_cost, epsilon, action, reward, improved, at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (run_id, generation) DO NOTHING`)
    if err != nil { return err }
    defer stmt.Close()
    for _, g := range gens {
        if _, err := stmt.ExecContext(ctx, runID, g.Generation, g.BestCost, g.Epsilon, g.Action, g.Reward, g.Improved, g.At); err != nil {
            return fmt.Errorf("insert generation %d: %w", g.Generation, err)
        }
    }
    return tx.Commit()
}

func (p *Postgres) ListGenerations(ctx context.Context, runID string, afterGen, limit int) ([]model.Generation, error) {
    if _, err := p.GetRun(ctx, runID); err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT generation, best_cost, epsilon, action, reward, improved, at FROM run_generations
        WHERE run_id=$1 AND generation > $2 ORDER BY generation LIMIT $3`, runID, afterGen, clampLimit(limit))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Generation{}
    for rows.Next() {
        g := model.Generation{RunID: runID}
        if err := rows.Scan(&g.Generation, &g.BestCost, &g.Epsilon, &g.Action, &g.Reward, &g.Improved, &g.At); err != nil { return nil, err }
        out = append(out, g)
    }
    return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    var created time.Time
    err := p.db.QueryRowContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4) RETURNING created_at`, id, req.URL, ev, nullIfEmpty(req.Secret)).Scan(&created)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret, CreatedAt: created}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    want, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events, created_at FROM subscriptions WHERE events @> $1::jsonb ORDER BY seq`, want)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = clampLimit(limit)
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events, created_at FROM subscriptions
            WHERE seq > (SELECT seq FROM subscriptions WHERE id::text=$1) ORDER BY seq LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events, created_at FROM subscriptions ORDER BY seq LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out, err := scanSubscriptions(rows)
    if err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev, &s.CreatedAt); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id::text=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

const deliveryColumns = `id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0)`

func scanDeliveries(rows *sql.Rows) ([]WebhookDelivery, error) {
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        var next sql.NullTime
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &next, &d.LastError, &d.ResponseCode); err != nil { return nil, err }
        if next.Valid { t := next.Time; d.NextAttemptAt = &t }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryColumns+`
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    return scanDeliveries(rows)
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', next_attempt_at=NULL, delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', next_attempt_at=NULL, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    limit = clampLimit(limit)
    q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE ($1 = '' OR status = $1)`
    args := []any{status}
    if cursor != "" {
        q += ` AND seq > (SELECT seq FROM webhook_deliveries WHERE id::text=$2)`
        args = append(args, cursor)
    }
    q += fmt.Sprintf(` ORDER BY seq LIMIT %d`, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out, err := scanDeliveries(rows)
    if err != nil { return nil, "", err }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func jsonOrNil(v any) any {
    b, err := json.Marshal(v)
    if err != nil || string(b) == "null" { return nil }
    return b
}
