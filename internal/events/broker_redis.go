package events

import (
    "context"
    "encoding/json"
    "log"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"

    "evfleet/internal/model"
)

// Redis implements Broker over Redis Pub/Sub so every API replica sees
// progress of runs executing on any other replica.
type Redis struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan model.Event]*redis.PubSub
}

// NewRedis connects to url (redis://...) and pings it.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return &Redis{rdb: rdb, subs: map[chan model.Event]*redis.PubSub{}}, nil
}

func (b *Redis) Close() error { return b.rdb.Close() }

func (b *Redis) Subscribe(runID string) chan model.Event {
    ch := make(chan model.Event, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, chanName(runID))
    // initial consume to ensure subscription
    if _, err := ps.Receive(ctx); err != nil {
        log.Printf("events: subscribe run=%s err=%v", runID, err)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt model.Event
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the Pub/Sub connection; the reader goroutine then
// closes ch.
func (b *Redis) Unsubscribe(runID string, ch chan model.Event) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *Redis) Publish(runID string, evt model.Event) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil { return }
    if err := b.rdb.Publish(ctx, chanName(runID), data).Err(); err != nil {
        log.Printf("events: publish run=%s type=%s err=%v", runID, evt.Type, err)
    }
}

func chanName(runID string) string { return "evrp:run:" + runID }
