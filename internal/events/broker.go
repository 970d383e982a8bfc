// Package events fans run progress out to SSE and WebSocket subscribers.
package events

import (
    "sync"

    "evfleet/internal/model"
)

// Broker delivers events per run id. Publish never blocks; a slow
// subscriber drops events instead of stalling the run.
type Broker interface {
    Subscribe(runID string) chan model.Event
    Unsubscribe(runID string, ch chan model.Event)
    Publish(runID string, evt model.Event)
}

// Memory is the in-process broker used when REDIS_URL is not set.
type Memory struct {
    mu   sync.Mutex
    subs map[string]map[chan model.Event]struct{} // runId -> set of channels
}

func NewMemory() *Memory {
    return &Memory{subs: map[string]map[chan model.Event]struct{}{}}
}

func (b *Memory) Subscribe(runID string) chan model.Event {
    ch := make(chan model.Event, 16)
    b.mu.Lock()
    if b.subs[runID] == nil { b.subs[runID] = map[chan model.Event]struct{}{} }
    b.subs[runID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Memory) Unsubscribe(runID string, ch chan model.Event) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[runID]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, runID) }
    close(ch)
}

func (b *Memory) Publish(runID string, evt model.Event) {
    b.mu.Lock()
    m := b.subs[runID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
