package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"evfleet/internal/model"
	"evfleet/internal/runs"
	"evfleet/internal/store"
)

// maxInstanceBytes bounds POST /v1/runs bodies.
const maxInstanceBytes = 8 << 20

// CreateRunHandler handles POST /v1/runs
func (s *Server) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInstanceBytes)
	// absent config fields keep the server defaults
	cfg := s.Defaults.Engine
	req := model.CreateRunRequest{Config: &cfg}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateCreateRunRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
		return
	}
	run, err := s.Runs.Submit(r.Context(), req)
	if errors.Is(err, runs.ErrInvalid) {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid run request", err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
		return
	}
	log.Printf("run=%s submitted by=%s instance=%s customers=%d", run.ID, principalFrom(r.Context()).Subject, run.InstanceName, run.Customers)
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID, "status": run.Status})
}

// ListRunsHandler handles GET /v1/runs
func (s *Server) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, next, err := s.Store.ListRuns(r.Context(), q.Get("status"), q.Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// GetRunHandler handles GET /v1/runs/{id}
func (s *Server) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "Get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelRunHandler handles POST /v1/runs/{id}/cancel
func (s *Server) CancelRunHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Runs.Cancel(r.Context(), id); err != nil {
		writeStoreError(w, r, "Cancel run failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "status": "cancelling"})
}

// GenerationsHandler handles GET /v1/runs/{id}/generations?after=&limit=
func (s *Server) GenerationsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	after := queryInt(r, "after", -1)
	items, err := s.Store.ListGenerations(r.Context(), id, after, queryInt(r, "limit", 100))
	if err != nil {
		writeStoreError(w, r, "List generations failed", err)
		return
	}
	next := ""
	if len(items) > 0 {
		next = strconv.Itoa(items[len(items)-1].Generation)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextAfter": next})
}

// EngineConfigHandler returns the defaults applied to runs that omit config.
func (s *Server) EngineConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":    s.Defaults.Engine,
		"decorate":  s.Defaults.Decorate,
		"overrides": s.Defaults.Overrides,
	})
}

// CreateSubscriptionHandler handles POST /v1/subscriptions
func (s *Server) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req model.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSubscriptionRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
		return
	}
	sub, err := s.Store.CreateSubscription(r.Context(), req)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptionsHandler handles GET /v1/subscriptions
func (s *Server) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
		return
	}
	// secrets are write-only
	for i := range items {
		items[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// DeleteSubscriptionHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) DeleteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, "Delete subscription failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), q.Get("status"), q.Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "activeRuns": s.Runs.Active()})
}

func writeStoreError(w http.ResponseWriter, r *http.Request, title string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", "run already finished", r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
