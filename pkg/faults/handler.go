package faults

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/log"
)

// Router receives classified records for retry or dead-lettering. Implemented
// by the retry scheduler.
type Router interface {
	Handle(rec Record)
}

// Handler is the front door of the error pipeline: it classifies a raised
// fault, logs it by severity, alerts if configured, routes it to the retry
// scheduler, and records it in the bounded history.
type Handler struct {
	classifier *Classifier
	policy     config.ErrorPolicy
	history    *History
	log        zerolog.Logger

	mu     sync.Mutex
	counts map[string]int
	router Router

	alertClient *http.Client
}

// NewHandler creates a Handler. The router is attached later with SetRouter
// because the retry scheduler and the handler reference each other.
func NewHandler(policy config.ErrorPolicy) *Handler {
	return &Handler{
		classifier:  NewClassifier(policy),
		policy:      policy,
		history:     &History{},
		log:         log.WithComponent("faults"),
		counts:      make(map[string]int),
		alertClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// SetRouter attaches the retry scheduler.
func (h *Handler) SetRouter(r Router) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

// Handle classifies and dispatches a fault. It never fails: a fault in the
// error pipeline itself is logged and dropped rather than propagated.
func (h *Handler) Handle(err error, fctx Context) Record {
	rec := h.classifier.Classify(err, fctx)

	h.logRecord(rec)

	if h.policy.AlertOnError && h.policy.NotificationWebhook != "" {
		go h.alert(rec)
	}

	h.mu.Lock()
	h.counts[rec.Context.Table+"_"+rec.Kind]++
	router := h.router
	h.mu.Unlock()

	h.history.Append(rec)

	if router != nil {
		router.Handle(rec)
	}
	return rec
}

func (h *Handler) logRecord(rec Record) {
	evt := h.log.Error()
	switch rec.Severity {
	case SeverityCritical:
		evt = h.log.Error().Bool("critical", true)
	case SeverityHigh:
		evt = h.log.Error()
	case SeverityMedium:
		evt = h.log.Warn()
	case SeverityLow:
		evt = h.log.Info()
	}
	evt.
		Str("kind", rec.Kind).
		Str("severity", string(rec.Severity)).
		Str("category", string(rec.Category)).
		Str("table", rec.Context.Table).
		Str("operation", rec.Context.Operation).
		Int("retry_count", rec.Context.RetryCount).
		Bool("retryable", rec.Retryable).
		Msg(rec.Message)
}

func (h *Handler) alert(rec Record) {
	payload, err := json.Marshal(map[string]any{
		"kind":      rec.Kind,
		"message":   rec.Message,
		"severity":  rec.Severity,
		"category":  rec.Category,
		"table":     rec.Context.Table,
		"operation": rec.Context.Operation,
		"timestamp": rec.Context.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	resp, err := h.alertClient.Post(h.policy.NotificationWebhook, "application/json", bytes.NewReader(payload))
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to deliver error alert")
		return
	}
	resp.Body.Close()
}

// History exposes the bounded fault history.
func (h *Handler) History() *History { return h.history }

// Summary reports aggregate error state for the detailed health view.
func (h *Handler) Summary() map[string]any {
	h.mu.Lock()
	counts := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		counts[k] = v
	}
	h.mu.Unlock()

	recent := h.history.Recent(10)
	recentOut := make([]map[string]any, 0, len(recent))
	for _, rec := range recent {
		recentOut = append(recentOut, map[string]any{
			"kind":      rec.Kind,
			"table":     rec.Context.Table,
			"severity":  rec.Severity,
			"timestamp": rec.Context.Timestamp.Format(time.RFC3339),
		})
	}

	return map[string]any{
		"total_errors":  h.history.Len(),
		"error_counts":  counts,
		"recent_errors": recentOut,
	}
}
