package api

import (
	"net/http"
)

// Server assembles the HTTP surface: public webhook ingestion and health
// probes, JWT-guarded control plane, request ids and per-IP rate limiting.
type Server struct {
	Webhooks *WebhookService
	Control  *ControlService
	Auth     *ControlAuth
	Limiter  *GlobalRateLimiter
	Ready    func() bool
}

// Routes builds the handler chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhooks/", s.Webhooks.HandleWebhook)
	mux.HandleFunc("/webhook-control/initialize-stream", s.Control.HandleInitializeStream)
	mux.HandleFunc("/worker/status", s.Control.HandleWorkerStatus)
	mux.HandleFunc("/worker/statistics", s.Control.HandleWorkerStatistics)
	mux.HandleFunc("/worker/stream-info", s.Control.HandleStreamInfo)
	mux.HandleFunc("/worker/executions/", s.Control.HandleExecutions)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)

	var handler http.Handler = mux
	if s.Auth != nil {
		handler = s.Auth.Middleware(handler)
	}
	if s.Limiter != nil {
		handler = s.Limiter.Middleware(handler)
	}
	return RequestIDMiddleware(handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.Ready != nil && !s.Ready() {
		WriteError(w, http.StatusServiceUnavailable, "Not Ready", "Dependencies are not reachable yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
