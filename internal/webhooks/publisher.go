package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"evfleet/internal/model"
	"evfleet/internal/store"
)

// Target is a static webhook endpoint configured outside the
// subscriptions table (WEBHOOK_URL / WEBHOOK_SECRET). It receives every
// run event.
type Target struct {
	URL    string
	Secret string
}

type Publisher struct {
	Store  store.Store
	Static *Target
}

func NewPublisher(s store.Store, static *Target) *Publisher {
	if static != nil && static.URL == "" {
		static = nil
	}
	return &Publisher{Store: s, Static: static}
}

// Emit enqueues an event for every matching subscription and the static
// target. Delivery happens asynchronously in Worker.
func (p *Publisher) Emit(ctx context.Context, eventType, runID string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		log.Printf("webhooks: lookup subscriptions event=%s err=%v", eventType, err)
	}
	if len(subs) == 0 && p.Static == nil {
		return
	}
	now := time.Now().UTC()
	payload := map[string]any{
		"id":    fmt.Sprintf("evt_%d", now.UnixNano()),
		"type":  eventType,
		"runId": runID,
		"ts":    now.Format(time.RFC3339),
		"data":  data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhooks: encode event=%s run=%s err=%v", eventType, runID, err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			log.Printf("webhooks: enqueue sub=%s event=%s err=%v", s.ID, eventType, err)
		}
	}
	if p.Static != nil {
		if _, err := p.Store.EnqueueWebhook(ctx, "", eventType, p.Static.URL, p.Static.Secret, body); err != nil {
			log.Printf("webhooks: enqueue static event=%s err=%v", eventType, err)
		}
	}
}

// EmitEvent is Emit for an event already shaped for the broker.
func (p *Publisher) EmitEvent(ctx context.Context, evt model.Event) {
	p.Emit(ctx, evt.Type, evt.RunID, evt.Data)
}
