package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"evfleet/internal/auth"
	"evfleet/internal/config"
	"evfleet/internal/events"
	"evfleet/internal/model"
	"evfleet/internal/opt"
	"evfleet/internal/runs"
	"evfleet/internal/store"
	"evfleet/internal/webhooks"
)

const tinyInstance = "NAME: tiny-n5-s1\nVEHICLES: 2\nDIMENSION: 5\nSTATIONS: 1\nCAPACITY: 100\n" +
	"ENERGY_CAPACITY: 50.0\nENERGY_CONSUMPTION: 1.0\nNODE_COORD_SECTION\n" +
	"1 0 0\n2 3 4\n3 6 8\n4 0 10\n5 5 5\nDEMAND_SECTION\n1 0\n2 10\n3 20\n4 30\nEOF\n"

type testEnv struct {
	srv    *Server
	h      http.Handler
	store  *store.Memory
	broker *events.Memory
	runs   *runs.Manager
}

func newTestEnv(t *testing.T, v *auth.Verifier, lim *RateLimiter) *testEnv {
	t.Helper()
	st := store.NewMemory()
	br := events.NewMemory()
	def := config.Default()
	def.Engine.PopSize = 6
	def.Engine.MaxGens = 10
	def.Engine.ReportEvery = 2
	def.Engine.Seed = 5
	mgr := runs.NewManager(st, br, webhooks.NewPublisher(st, nil), def, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	s := NewServer(st, mgr, br, v, lim)
	return &testEnv{srv: s, h: s.Handler(), store: st, broker: br, runs: mgr}
}

func (e *testEnv) do(method, path string, body []byte, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func submit(t *testing.T, e *testEnv) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"name": "demo", "instance": tinyInstance})
	rr := e.do(http.MethodPost, "/v1/runs", body, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create run: got %d %s", rr.Code, rr.Body.String())
	}
	out := decode[map[string]string](t, rr)
	if out["runId"] == "" || rr.Header().Get("Location") != "/v1/runs/"+out["runId"] {
		t.Fatalf("create run response: %v location=%q", out, rr.Header().Get("Location"))
	}
	return out["runId"]
}

func TestHealthReady(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	if rr := e.do(http.MethodGet, "/healthz", nil, ""); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/readyz", nil, ""); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/healthz", nil, ""); rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id")
	}
}

func TestRunLifecycle(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	id := submit(t, e)
	e.runs.Wait()

	rr := e.do(http.MethodGet, "/v1/runs/"+id, nil, "")
	if rr.Code != 200 {
		t.Fatalf("get run: got %d", rr.Code)
	}
	run := decode[model.Run](t, rr)
	if run.Status != model.RunCompleted || run.Name != "demo" || run.BestCost == nil || run.Summary == nil {
		t.Fatalf("run: %+v", run)
	}
	if run.Config.MaxGens != 10 {
		t.Fatalf("server defaults not applied: %+v", run.Config)
	}

	rr = e.do(http.MethodGet, "/v1/runs?limit=5", nil, "")
	list := decode[struct {
		Items []model.Run `json:"items"`
	}](t, rr)
	if len(list.Items) != 1 || list.Items[0].ID != id {
		t.Fatalf("list: %+v", list)
	}

	// gens 0, 2, 4, 6, 8 and 9
	rr = e.do(http.MethodGet, "/v1/runs/"+id+"/generations?limit=4", nil, "")
	page := decode[struct {
		Items     []model.Generation `json:"items"`
		NextAfter string             `json:"nextAfter"`
	}](t, rr)
	if len(page.Items) != 4 || page.NextAfter != "6" {
		t.Fatalf("generations page 1: %+v", page)
	}
	rr = e.do(http.MethodGet, "/v1/runs/"+id+"/generations?after=6", nil, "")
	page = decode[struct {
		Items     []model.Generation `json:"items"`
		NextAfter string             `json:"nextAfter"`
	}](t, rr)
	if len(page.Items) != 2 || page.Items[1].Generation != 9 {
		t.Fatalf("generations page 2: %+v", page)
	}

	if rr := e.do(http.MethodPost, "/v1/runs/"+id+"/cancel", nil, ""); rr.Code != http.StatusConflict {
		t.Fatalf("cancel finished: got %d", rr.Code)
	}
}

func TestCreateRunWithConfig(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	body := []byte(`{"instance":` + jsonString(tinyInstance) + `,"config":{"maxGens":3,"reportEvery":1},"decorate":{"seed":1,"chargeRateKW":150}}`)
	rr := e.do(http.MethodPost, "/v1/runs", body, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	id := decode[map[string]string](t, rr)["runId"]
	e.runs.Wait()
	run := decode[model.Run](t, e.do(http.MethodGet, "/v1/runs/"+id, nil, ""))
	// absent config keys fall back to the server defaults
	if run.Config.MaxGens != 3 || run.Config.PopSize != 6 || run.Summary.Generations != 3 {
		t.Fatalf("config merge: %+v summary=%+v", run.Config, run.Summary)
	}
}

func TestCreateRunRejects(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no instance", `{"name":"x"}`, http.StatusBadRequest},
		{"negative override", `{"instance":"x","overrides":{"energyCost":-1}}`, http.StatusBadRequest},
		{"malformed instance", `{"instance":"NAME: broken\n"}`, http.StatusUnprocessableEntity},
		{"bad engine config", `{"instance":` + jsonString(tinyInstance) + `,"config":{"popSize":1}}`, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		rr := e.do(http.MethodPost, "/v1/runs", []byte(c.body), "")
		if rr.Code != c.code {
			t.Errorf("%s: got %d, want %d (%s)", c.name, rr.Code, c.code, rr.Body.String())
			continue
		}
		p := decode[Problem](t, rr)
		if p.Status != c.code || p.Instance != "/v1/runs" {
			t.Errorf("%s: problem %+v", c.name, p)
		}
	}
}

func TestNotFound(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	for _, path := range []string{"/v1/runs/nope", "/v1/runs/nope/generations", "/v1/runs/nope/events/stream"} {
		if rr := e.do(http.MethodGet, path, nil, ""); rr.Code != http.StatusNotFound {
			t.Errorf("%s: got %d", path, rr.Code)
		}
	}
	if rr := e.do(http.MethodPost, "/v1/runs/nope/cancel", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("cancel: got %d", rr.Code)
	}
}

func TestSubscriptions(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	if rr := e.do(http.MethodPost, "/v1/subscriptions", []byte(`{"url":"ftp://x","events":["run.completed"]}`), ""); rr.Code != 400 {
		t.Fatalf("bad url: got %d", rr.Code)
	}
	if rr := e.do(http.MethodPost, "/v1/subscriptions", []byte(`{"url":"https://hooks.example.com/x","events":["run.generation"]}`), ""); rr.Code != 400 {
		t.Fatalf("stream-only event: got %d", rr.Code)
	}
	rr := e.do(http.MethodPost, "/v1/subscriptions", []byte(`{"url":"https://hooks.example.com/x","events":["run.completed"],"secret":"s"}`), "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", rr.Code, rr.Body.String())
	}
	sub := decode[model.Subscription](t, rr)

	list := decode[struct {
		Items []model.Subscription `json:"items"`
	}](t, e.do(http.MethodGet, "/v1/subscriptions", nil, ""))
	if len(list.Items) != 1 || list.Items[0].Secret != "" {
		t.Fatalf("list: %+v", list)
	}

	// a finished run queues a delivery for the subscription
	submit(t, e)
	e.runs.Wait()
	deliveries := decode[struct {
		Items []store.WebhookDelivery `json:"items"`
	}](t, e.do(http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", nil, ""))
	if len(deliveries.Items) != 1 || deliveries.Items[0].SubscriptionID != sub.ID {
		t.Fatalf("deliveries: %+v", deliveries)
	}

	if rr := e.do(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", rr.Code)
	}
	if rr := e.do(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("delete again: got %d", rr.Code)
	}
}

func TestEngineConfigAndDocs(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	cfg := decode[map[string]json.RawMessage](t, e.do(http.MethodGet, "/v1/engine/config", nil, ""))
	var eng opt.Config
	if err := json.Unmarshal(cfg["engine"], &eng); err != nil || eng.PopSize != 6 {
		t.Fatalf("engine config: %s %v", cfg["engine"], err)
	}
	doc := decode[map[string]any](t, e.do(http.MethodGet, "/openapi.json", nil, ""))
	if doc["openapi"] != "3.0.3" {
		t.Fatalf("openapi: %v", doc["openapi"])
	}
	if paths, _ := doc["paths"].(map[string]any); paths["/v1/runs"] == nil {
		t.Fatalf("openapi paths missing /v1/runs")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	e.do(http.MethodGet, "/healthz", nil, "")
	rr := e.do(http.MethodGet, "/metrics", nil, "")
	if rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `http_requests_total{method="GET",path="GET /healthz",status="200"}`) {
		t.Fatalf("metrics body missing request counter")
	}
}

func TestAuthTokenMode(t *testing.T) {
	v := &auth.Verifier{Mode: "token", Tokens: auth.ParseTokens("view=viewer,ops=operator")}
	e := newTestEnv(t, v, nil)
	if rr := e.do(http.MethodGet, "/v1/runs", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/v1/runs", nil, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/v1/runs", nil, "view"); rr.Code != 200 {
		t.Fatalf("viewer list: got %d", rr.Code)
	}
	body, _ := json.Marshal(map[string]any{"instance": tinyInstance})
	if rr := e.do(http.MethodPost, "/v1/runs", body, "view"); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer create: got %d", rr.Code)
	}
	if rr := e.do(http.MethodPost, "/v1/runs", body, "ops"); rr.Code != http.StatusAccepted {
		t.Fatalf("operator create: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/v1/subscriptions", nil, "ops"); rr.Code != http.StatusForbidden {
		t.Fatalf("operator subscriptions: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/healthz", nil, ""); rr.Code != 200 {
		t.Fatalf("health must stay open: got %d", rr.Code)
	}
	e.runs.Wait()
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, nil, NewRateLimiter(0.001, 2))
	for i := 0; i < 2; i++ {
		if rr := e.do(http.MethodGet, "/v1/runs", nil, ""); rr.Code != 200 {
			t.Fatalf("request %d: got %d", i, rr.Code)
		}
	}
	rr := e.do(http.MethodGet, "/v1/runs", nil, "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("third request: got %d", rr.Code)
	}
	if rr := e.do(http.MethodGet, "/healthz", nil, ""); rr.Code != 200 {
		t.Fatalf("health must bypass the limiter: got %d", rr.Code)
	}
}

// queuedRun creates a record no manager will execute, so tests control
// every event the stream sees.
func queuedRun(t *testing.T, e *testEnv) string {
	t.Helper()
	r, err := e.store.CreateRun(context.Background(), model.RunInput{Name: "manual", Config: opt.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	return r.ID
}

func TestSSEStream(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	id := queuedRun(t, e)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + id + "/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	if got := readSSEEvent(t, rd); got != "run.snapshot" {
		t.Fatalf("first event: %q", got)
	}

	e.broker.Publish(id, model.Event{Type: model.EventGeneration, RunID: id, Data: map[string]any{"generation": 0}})
	e.broker.Publish(id, model.Event{Type: model.EventRunCompleted, RunID: id})
	if got := readSSEEvent(t, rd); got != model.EventGeneration {
		t.Fatalf("second event: %q", got)
	}
	if got := readSSEEvent(t, rd); got != model.EventRunCompleted {
		t.Fatalf("third event: %q", got)
	}
	// the server ends the stream after the terminal event
	if rest, _ := io.ReadAll(rd); len(bytes.TrimSpace(rest)) != 0 {
		t.Fatalf("unexpected trailing data: %q", rest)
	}
}

func TestSSEFinishedRunReturnsSnapshotOnly(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	id := submit(t, e)
	e.runs.Wait()
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + id + "/events/stream")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.Count(string(body), "event: ") != 1 || !strings.Contains(string(body), `"status":"completed"`) {
		t.Fatalf("body: %s", body)
	}
}

// readSSEEvent returns the event name of the next non-heartbeat event.
func readSSEEvent(t *testing.T, rd *bufio.Reader) string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		name := ""
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				done <- ""
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case line == "" && name != "":
				if name != "heartbeat" {
					done <- name
					return
				}
				name = ""
			}
		}
	}()
	select {
	case name := <-done:
		return name
	case <-time.After(3 * time.Second):
		t.Fatal("timeout reading SSE event")
		return ""
	}
}

func TestWebSocketStream(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	id := queuedRun(t, e)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var evt model.Event
	if err := conn.ReadJSON(&evt); err != nil || evt.Type != "run.snapshot" || evt.RunID != id {
		t.Fatalf("snapshot: %+v %v", evt, err)
	}
	e.broker.Publish(id, model.Event{Type: model.EventGeneration, RunID: id})
	e.broker.Publish(id, model.Event{Type: model.EventRunCancelled, RunID: id})
	if err := conn.ReadJSON(&evt); err != nil || evt.Type != model.EventGeneration {
		t.Fatalf("generation: %+v %v", evt, err)
	}
	if err := conn.ReadJSON(&evt); err != nil || evt.Type != model.EventRunCancelled {
		t.Fatalf("terminal: %+v %v", evt, err)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal close, got %v", err)
	}
}

func TestWebSocketUnknownRun(t *testing.T) {
	e := newTestEnv(t, nil, nil)
	ts := httptest.NewServer(e.h)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 handshake failure, got resp=%v err=%v", resp, err)
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
