package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/datarift/datarift/pkg/config"
)

// PostgresProber checks source-database reachability via a pgx pool ping.
type PostgresProber struct {
	pool *pgxpool.Pool
	cfg  config.EndpointConfig
}

// NewPostgresProber builds a prober over an existing pool. The pool connects
// lazily, so constructing the prober never blocks.
func NewPostgresProber(pool *pgxpool.Pool, cfg config.EndpointConfig) *PostgresProber {
	return &PostgresProber{pool: pool, cfg: cfg}
}

func (p *PostgresProber) Name() string { return ProbePostgres }

func (p *PostgresProber) Check(ctx context.Context) CheckResult {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout.Std())
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		res := result(ProbePostgres, StateUnhealthy, fmt.Sprintf("PostgreSQL connection failed: %v", err), started)
		res.Details = map[string]any{"error": err.Error()}
		return res
	}

	res := result(ProbePostgres, StateHealthy, "PostgreSQL connection is healthy", started)
	res.Details = map[string]any{
		"host":     p.cfg.Host,
		"port":     p.cfg.Port,
		"database": p.cfg.Database,
	}
	return res
}

// StarRocksProber checks sink reachability. StarRocks frontends speak the
// MySQL protocol, so the probe pings through database/sql with the mysql
// driver.
type StarRocksProber struct {
	db  *sql.DB
	cfg config.SinkConfig
}

func NewStarRocksProber(db *sql.DB, cfg config.SinkConfig) *StarRocksProber {
	return &StarRocksProber{db: db, cfg: cfg}
}

func (p *StarRocksProber) Name() string { return ProbeStarRocks }

func (p *StarRocksProber) Check(ctx context.Context) CheckResult {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout.Std())
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		res := result(ProbeStarRocks, StateUnhealthy, fmt.Sprintf("StarRocks connection failed: %v", err), started)
		res.Details = map[string]any{"error": err.Error()}
		return res
	}

	res := result(ProbeStarRocks, StateHealthy, "StarRocks connection is healthy", started)
	res.Details = map[string]any{
		"host":     p.cfg.Host,
		"port":     p.cfg.Port,
		"database": p.cfg.Database,
	}
	return res
}

// EngineProber checks the stream engine's REST endpoint.
type EngineProber struct {
	infoURL string
	client  *http.Client
}

func NewEngineProber(endpoint string) *EngineProber {
	return &EngineProber{
		infoURL: endpoint + "/v1/info",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *EngineProber) Name() string { return ProbeEngine }

func (p *EngineProber) Check(ctx context.Context) CheckResult {
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.infoURL, nil)
	if err != nil {
		return result(ProbeEngine, StateUnhealthy, fmt.Sprintf("stream engine check failed: %v", err), started)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res := result(ProbeEngine, StateUnhealthy, fmt.Sprintf("stream engine unreachable: %v", err), started)
		res.Details = map[string]any{"error": err.Error()}
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result(ProbeEngine, StateUnhealthy,
			fmt.Sprintf("stream engine returned HTTP %d", resp.StatusCode), started)
	}

	res := result(ProbeEngine, StateHealthy, "stream engine is healthy", started)
	res.Details = map[string]any{"endpoint": p.infoURL}
	return res
}

// MetricsSummarizer is the slice of the metrics registry the job prober needs.
type MetricsSummarizer interface {
	Summary() map[string]any
}

// JobsProber derives aggregate sync-job health from the job-state gauges.
type JobsProber struct {
	metrics MetricsSummarizer
}

func NewJobsProber(metrics MetricsSummarizer) *JobsProber {
	return &JobsProber{metrics: metrics}
}

func (p *JobsProber) Name() string { return ProbeSyncJobs }

func (p *JobsProber) Check(ctx context.Context) CheckResult {
	started := time.Now()

	summary := p.metrics.Summary()
	errorJobs := summaryGauge(summary, "sync_error_jobs")
	activeJobs := summaryGauge(summary, "sync_active_jobs")

	var (
		status  State
		message string
	)
	switch {
	case errorJobs > 0:
		status = StateDegraded
		message = fmt.Sprintf("%d sync jobs in error state", int(errorJobs))
	case activeJobs > 0:
		status = StateHealthy
		message = fmt.Sprintf("%d sync jobs running", int(activeJobs))
	default:
		status = StateUnknown
		message = "no sync jobs detected"
	}

	res := result(ProbeSyncJobs, status, message, started)
	res.Details = map[string]any{
		"active_jobs": activeJobs,
		"error_jobs":  errorJobs,
	}
	return res
}

func summaryGauge(summary map[string]any, name string) float64 {
	if v, ok := summary[name].(float64); ok {
		return v
	}
	return 0
}

// SystemProber checks host resource usage. Above 90% on any of CPU, memory,
// or disk the host is unhealthy; above 70% it is degraded.
type SystemProber struct {
	diskPath string
}

func NewSystemProber() *SystemProber {
	return &SystemProber{diskPath: "/"}
}

func (p *SystemProber) Name() string { return ProbeSystem }

func (p *SystemProber) Check(ctx context.Context) CheckResult {
	started := time.Now()

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(cpuPercents) == 0 {
		return result(ProbeSystem, StateUnknown, fmt.Sprintf("system resource check failed: %v", err), started)
	}
	cpuPercent := cpuPercents[0]

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return result(ProbeSystem, StateUnknown, fmt.Sprintf("system resource check failed: %v", err), started)
	}

	usage, err := disk.UsageWithContext(ctx, p.diskPath)
	if err != nil {
		return result(ProbeSystem, StateUnknown, fmt.Sprintf("system resource check failed: %v", err), started)
	}

	var (
		status  State
		message string
	)
	switch {
	case cpuPercent > 90 || vmem.UsedPercent > 90 || usage.UsedPercent > 90:
		status = StateUnhealthy
		message = "high resource usage detected"
	case cpuPercent > 70 || vmem.UsedPercent > 70 || usage.UsedPercent > 70:
		status = StateDegraded
		message = "elevated resource usage"
	default:
		status = StateHealthy
		message = "system resources are healthy"
	}

	res := result(ProbeSystem, status, message, started)
	res.Details = map[string]any{
		"cpu_percent":         cpuPercent,
		"memory_percent":      vmem.UsedPercent,
		"disk_percent":        usage.UsedPercent,
		"memory_available_gb": float64(vmem.Available) / (1 << 30),
		"disk_free_gb":        float64(usage.Free) / (1 << 30),
	}
	return res
}
