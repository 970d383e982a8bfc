// Package api implements the HTTP surface of the EV routing optimizer.
package api

import (
	"net/http"

	"evfleet/internal/auth"
	"evfleet/internal/config"
	"evfleet/internal/events"
	"evfleet/internal/runs"
	"evfleet/internal/store"
)

type Server struct {
	Store    store.Store
	Runs     *runs.Manager
	Broker   events.Broker
	Auth     *auth.Verifier
	Defaults config.File
	Limiter  *RateLimiter
}

// NewServer wires handlers over already constructed dependencies. A nil
// verifier means dev auth; a nil limiter disables rate limiting.
func NewServer(st store.Store, mgr *runs.Manager, broker events.Broker, v *auth.Verifier, lim *RateLimiter) *Server {
	if v == nil {
		v = &auth.Verifier{Mode: "dev"}
	}
	return &Server{Store: st, Runs: mgr, Broker: broker, Auth: v, Defaults: mgr.Defaults, Limiter: lim}
}

// Handler returns the full route table wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("POST /v1/runs", s.require(auth.RoleOperator, s.CreateRunHandler))
	mux.HandleFunc("GET /v1/runs", s.require(auth.RoleViewer, s.ListRunsHandler))
	mux.HandleFunc("GET /v1/runs/{id}", s.require(auth.RoleViewer, s.GetRunHandler))
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.require(auth.RoleOperator, s.CancelRunHandler))
	mux.HandleFunc("GET /v1/runs/{id}/generations", s.require(auth.RoleViewer, s.GenerationsHandler))
	mux.HandleFunc("GET /v1/runs/{id}/events/stream", s.require(auth.RoleViewer, s.RunEventsSSEHandler))
	mux.HandleFunc("GET /v1/runs/{id}/ws", s.require(auth.RoleViewer, s.RunEventsWSHandler))
	mux.HandleFunc("GET /v1/engine/config", s.require(auth.RoleViewer, s.EngineConfigHandler))

	// Webhook subscriptions and deliveries
	mux.HandleFunc("POST /v1/subscriptions", s.require(auth.RoleAdmin, s.CreateSubscriptionHandler))
	mux.HandleFunc("GET /v1/subscriptions", s.require(auth.RoleAdmin, s.ListSubscriptionsHandler))
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.require(auth.RoleAdmin, s.DeleteSubscriptionHandler))
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.require(auth.RoleAdmin, s.WebhookDeliveriesHandler))

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", metricsHandler())
	mux.HandleFunc("GET /debug/info", s.require(auth.RoleAdmin, s.DebugJSON))
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)

	var h http.Handler = mux
	if s.Limiter != nil {
		h = s.Limiter.Middleware(h)
	}
	return logMiddleware(metricsMiddleware(h))
}
