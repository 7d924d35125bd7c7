package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Server exposes the monitor over HTTP on the configured health port.
type Server struct {
	monitor *Monitor
	metrics MetricsSummarizer
	srv     *http.Server
}

// NewServer creates the health HTTP server. The metrics summarizer feeds the
// detailed view and may be nil when monitoring is disabled.
func NewServer(monitor *Monitor, metrics MetricsSummarizer) *Server {
	return &Server{monitor: monitor, metrics: metrics}
}

// Routes returns the handler serving the health endpoints. Exposed separately
// so tests can drive it through httptest.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	return mux
}

// Start binds the listener and serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.monitor.Overall()

	body := map[string]any{
		"status":    overall,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    s.checkSummaries(false),
	}

	status := http.StatusOK
	if overall != StateHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.monitor.Ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	overall := s.monitor.Overall()

	body := map[string]any{
		"status":    overall,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    s.checkSummaries(true),
		"uptime":    s.monitor.Uptime().Seconds(),
	}
	if s.metrics != nil {
		body["metrics_summary"] = s.metrics.Summary()
	}

	status := http.StatusOK
	if overall != StateHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) checkSummaries(detailed bool) map[string]any {
	checks := make(map[string]any)
	for name, res := range s.monitor.Results() {
		entry := map[string]any{
			"status":           res.Status,
			"message":          res.Message,
			"response_time_ms": res.ResponseTimeMS,
		}
		if detailed {
			entry["timestamp"] = res.Timestamp.Format(time.RFC3339)
			entry["details"] = res.Details
		}
		checks[name] = entry
	}
	return checks
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
