package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Agent    AgentStatus   `json:"agent"`
	Sessions SessionStatus `json:"sessions"`
	Tools    []string      `json:"tools"`
}

// AgentStatus holds agent overview info.
type AgentStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Model         string `json:"model"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SessionStatus holds session counts.
type SessionStatus struct {
	Active int   `json:"active"`
	Total  int64 `json:"total"`
}

// StatusDeps supplies the live values reported by the status and metrics
// endpoints.
type StatusDeps struct {
	Version        string
	Model          string
	ActiveSessions func() int
	ToolNames      func() []string
	Metrics        *Metrics
	StartTime      time.Time
}

// StatusHandler returns an HTTP handler for GET /api/v1/status.
func StatusHandler(deps StatusDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Agent: AgentStatus{
				Name:          "searchchat",
				Version:       deps.Version,
				Model:         deps.Model,
				UptimeSeconds: int64(time.Since(deps.StartTime).Seconds()),
			},
			Sessions: SessionStatus{Active: deps.ActiveSessions()},
			Tools:    deps.ToolNames(),
		}
		if deps.Metrics != nil {
			resp.Sessions.Total = deps.Metrics.SessionsTotal.Load()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

// HealthHandler answers GET /healthz with 200 OK.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
}
