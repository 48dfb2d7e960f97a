package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"searchchat/internal/domain"
)

// Metrics counts lifecycle events for the status and metrics endpoints.
type Metrics struct {
	SessionsTotal  atomic.Int64
	TurnsTotal     atomic.Int64
	TurnsFailed    atomic.Int64
	ToolCallsTotal atomic.Int64
	ThreadsPruned  atomic.Int64
}

// Observe is an event bus handler that updates the counters.
func (m *Metrics) Observe(_ context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventSessionStarted:
		m.SessionsTotal.Add(1)
	case domain.EventTurnStarted:
		m.TurnsTotal.Add(1)
	case domain.EventTurnFailed:
		m.TurnsFailed.Add(1)
	case domain.EventToolCallStarted:
		m.ToolCallsTotal.Add(1)
	case domain.EventCheckpointPruned:
		var p struct {
			Removed int64 `json:"removed"`
		}
		if json.Unmarshal(e.Payload, &p) == nil {
			m.ThreadsPruned.Add(p.Removed)
		}
	}
}

// MetricsHandler returns an HTTP handler for GET /metrics in the Prometheus
// text exposition format.
func MetricsHandler(deps StatusDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		m := deps.Metrics
		if m == nil {
			m = &Metrics{}
		}

		writeMetric(w, "searchchat_sessions_active", "gauge", "Number of live chat sessions.", int64(deps.ActiveSessions()))
		writeMetric(w, "searchchat_sessions_total", "counter", "Chat sessions started.", m.SessionsTotal.Load())
		writeMetric(w, "searchchat_turns_total", "counter", "Agent turns started.", m.TurnsTotal.Load())
		writeMetric(w, "searchchat_turns_failed_total", "counter", "Agent turns that ended in an error notice.", m.TurnsFailed.Load())
		writeMetric(w, "searchchat_tool_calls_total", "counter", "Tool invocations requested by the model.", m.ToolCallsTotal.Load())
		writeMetric(w, "searchchat_threads_pruned_total", "counter", "Idle checkpoint threads removed.", m.ThreadsPruned.Load())
		writeMetric(w, "searchchat_uptime_seconds", "gauge", "Seconds since start.", int64(time.Since(deps.StartTime).Seconds()))
		writeMetric(w, "searchchat_goroutines", "gauge", "Number of goroutines.", int64(runtime.NumGoroutine()))
	})
}

func writeMetric(w http.ResponseWriter, name, kind, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
