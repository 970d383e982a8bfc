package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"evfleet/internal/model"
)

const (
	sseHeartbeat = 15 * time.Second
	wsPing       = 20 * time.Second
	wsPongWait   = 60 * time.Second
	wsWriteWait  = 5 * time.Second
)

// eventSnapshot is the first message on every stream: the run as stored.
const eventSnapshot = "run.snapshot"

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

func terminalEvent(t string) bool {
	return t == model.EventRunCompleted || t == model.EventRunFailed || t == model.EventRunCancelled
}

func snapshotEvent(run model.Run) model.Event {
	return model.Event{Type: eventSnapshot, RunID: run.ID, Data: run, TS: time.Now().UTC().Format(time.RFC3339Nano)}
}

// RunEventsSSEHandler handles GET /v1/runs/{id}/events/stream. The stream
// ends after the run's terminal event.
func (s *Server) RunEventsSSEHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before reading the run so a finish in between is not lost
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, "Get run failed", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeSSE(w, snapshotEvent(run))
	flusher.Flush()
	if model.Terminal(run.Status) {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if terminalEvent(evt.Type) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt model.Event) {
	b, _ := json.Marshal(evt)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

// RunEventsWSHandler handles GET /v1/runs/{id}/ws. Each text frame is a
// JSON model.Event; the server closes after the terminal event.
func (s *Server) RunEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		writeStoreError(w, r, "Get run failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		return
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	// the read loop only exists to process control frames and notice closes
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(evt model.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	if err := write(snapshotEvent(run)); err != nil {
		return
	}
	if model.Terminal(run.Status) {
		closeNormal()
		return
	}

	ping := time.NewTicker(wsPing)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				return
			}
			if terminalEvent(evt.Type) {
				closeNormal()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
