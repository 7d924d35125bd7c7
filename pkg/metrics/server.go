package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Handler returns the pull-scrape HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Export renders the current snapshot in the text exposition format.
func (r *Registry) Export() (string, error) {
	families, err := r.prom.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var sb strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return "", fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return sb.String(), nil
}

// Summary folds the current snapshot into an in-process view for the
// orchestrator and health monitor, without the wire format.
func (r *Registry) Summary() map[string]any {
	summary := map[string]any{
		"uptime_seconds": r.Uptime().Seconds(),
	}

	families, err := r.prom.Gather()
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to gather metrics for summary")
		return summary
	}

	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += m.GetHistogram().GetSampleSum()
			}
		}
		summary[mf.GetName()] = total
	}
	return summary
}

// Server exposes the registry on the configured metrics port.
type Server struct {
	registry *Registry
	srv      *http.Server
}

// NewServer creates a metrics HTTP server for the registry.
func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

// Start binds the listener and serves /metrics until Stop is called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.registry.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
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
