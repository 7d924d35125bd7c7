package health

import (
	"context"
	"time"
)

// State represents the health of a probed dependency.
type State string

const (
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateDegraded  State = "degraded"
	StateUnknown   State = "unknown"
)

// Probe names. The readiness endpoint requires the three connectivity probes
// to be healthy.
const (
	ProbePostgres  = "postgres_connection"
	ProbeStarRocks = "starrocks_connection"
	ProbeEngine    = "flink_environment"
	ProbeSyncJobs  = "sync_jobs"
	ProbeSystem    = "system_resources"
)

// CheckResult is the outcome of a single probe run. Only the latest result
// per probe is kept.
type CheckResult struct {
	Name           string         `json:"name"`
	Status         State          `json:"status"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	ResponseTimeMS float64        `json:"response_time_ms"`
	Details        map[string]any `json:"details,omitempty"`
}

// Prober is a named health probe of a dependent system.
type Prober interface {
	// Name returns the stable probe identifier.
	Name() string

	// Check performs the probe and returns the result. Failures are
	// reported in the result, never as a panic or process exit.
	Check(ctx context.Context) CheckResult
}

func result(name string, status State, message string, started time.Time) CheckResult {
	return CheckResult{
		Name:           name,
		Status:         status,
		Message:        message,
		Timestamp:      started,
		ResponseTimeMS: float64(time.Since(started).Microseconds()) / 1000.0,
	}
}
