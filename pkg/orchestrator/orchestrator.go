// Package orchestrator supervises the per-table synchronization jobs. It
// drives each job through its lifecycle, restarts failed jobs within the
// configured retry budget, and reports job states to the metrics registry.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/engine"
	"github.com/datarift/datarift/pkg/faults"
	"github.com/datarift/datarift/pkg/log"
	"github.com/datarift/datarift/pkg/metrics"
	"github.com/datarift/datarift/pkg/types"
)

const opJobStart = "job_start"

// Orchestrator owns one SyncJob per enabled table and the background loops
// that supervise them.
type Orchestrator struct {
	cfg     *config.Config
	engine  engine.Engine
	metrics *metrics.Registry
	faults  *faults.Handler
	log     zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*SyncJob
	running bool

	// ctx cancels in-flight restart submissions when Stop is called.
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires an orchestrator. Fault records produced by failed job operations
// flow through the handler, whose router schedules retries back into
// RetryHook.
func New(cfg *config.Config, eng engine.Engine, reg *metrics.Registry, handler *faults.Handler) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		engine:  eng,
		metrics: reg,
		faults:  handler,
		log:     log.WithComponent("orchestrator"),
		jobs:    make(map[string]*SyncJob),
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
}

// Start creates a job for every enabled table, attempts to start each, and
// launches the supervision and metrics loops. A job that fails to start is
// left in the error state for the supervisor and retry pipeline; Start itself
// only fails if called twice.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.running = true

	for _, spec := range o.cfg.EnabledTables() {
		o.jobs[spec.SourceTable] = newSyncJob(spec)
	}
	o.mu.Unlock()

	o.log.Info().Int("tables", len(o.jobs)).Msg("starting sync jobs")

	for _, job := range o.jobList() {
		o.startJob(ctx, job)
	}

	o.wg.Add(2)
	go o.superviseLoop()
	go o.metricsLoop()
	return nil
}

// startJob drives one job Stopped/Error -> Starting -> Running. On failure
// the job is marked errored and the fault is handed to the classification
// pipeline, which schedules the retry.
func (o *Orchestrator) startJob(ctx context.Context, job *SyncJob) {
	o.mu.Lock()
	job.State = types.JobStateStarting
	job.StartTime = time.Now()
	spec := job.Spec
	o.mu.Unlock()

	o.log.Info().Str("table", spec.SourceTable).Msg("starting sync job")

	err := o.submitPipeline(ctx, spec)

	o.mu.Lock()
	if err != nil {
		job.State = types.JobStateError
		job.ErrorCount++
		job.LastError = err.Error()
		o.mu.Unlock()

		fctx := faults.NewContext(spec.SourceTable, opJobStart)
		o.faults.Handle(err, fctx)
		return
	}
	job.State = types.JobStateRunning
	job.LastCheckpoint = time.Now()
	o.mu.Unlock()

	o.metrics.RecordCheckpointCompleted(spec.SourceTable)
	o.log.Info().Str("table", spec.SourceTable).Msg("sync job running")
}

// submitPipeline registers the source and sink tables with the engine and
// submits the continuous sync query.
func (o *Orchestrator) submitPipeline(ctx context.Context, spec config.TableSpec) error {
	if err := o.engine.ExecuteStatement(ctx, engine.BuildSourceDDL(o.cfg, spec)); err != nil {
		return fmt.Errorf("create source table for %s: %w", spec.SourceTable, err)
	}
	if err := o.engine.ExecuteStatement(ctx, engine.BuildSinkDDL(o.cfg, spec)); err != nil {
		return fmt.Errorf("create sink table for %s: %w", spec.SourceTable, err)
	}
	if err := o.engine.ExecuteStatement(ctx, engine.BuildSyncQuery(spec)); err != nil {
		return fmt.Errorf("submit sync query for %s: %w", spec.SourceTable, err)
	}
	return nil
}

// RetryHook re-runs the operation a fault record came from. Attached to the
// retry scheduler; the record's context names the table and operation.
func (o *Orchestrator) RetryHook(ctx context.Context, rec faults.Record) error {
	job := o.jobFor(rec.Context.Table)
	if job == nil {
		return fmt.Errorf("no sync job for table %s", rec.Context.Table)
	}

	switch rec.Context.Operation {
	case opJobStart:
		o.mu.Lock()
		job.State = types.JobStateStarting
		spec := job.Spec
		o.mu.Unlock()

		if err := o.submitPipeline(ctx, spec); err != nil {
			o.mu.Lock()
			job.State = types.JobStateError
			job.ErrorCount++
			job.LastError = err.Error()
			o.mu.Unlock()
			return err
		}

		o.mu.Lock()
		job.State = types.JobStateRunning
		job.StartTime = time.Now()
		job.LastCheckpoint = time.Now()
		o.mu.Unlock()
		o.metrics.RecordCheckpointCompleted(spec.SourceTable)
		return nil
	default:
		return fmt.Errorf("no retry handler for operation %s", rec.Context.Operation)
	}
}

// MarkDeadLettered flags the owning job as permanently errored. Attached to
// the scheduler's dead-letter callback.
func (o *Orchestrator) MarkDeadLettered(rec faults.Record) {
	job := o.jobFor(rec.Context.Table)
	if job == nil {
		return
	}

	o.mu.Lock()
	job.State = types.JobStateError
	job.LastError = rec.Message
	o.mu.Unlock()

	o.log.Error().
		Str("table", rec.Context.Table).
		Str("operation", rec.Context.Operation).
		Msg("sync job exhausted retries")
}

// superviseLoop periodically restarts errored jobs that still have retry
// budget and pushes job states to the metrics registry.
func (o *Orchestrator) superviseLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Monitoring.JobCheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.checkJobs()
		}
	}
}

func (o *Orchestrator) checkJobs() {
	maxRetries := o.cfg.ErrorHandling.MaxRetries

	for _, job := range o.jobList() {
		o.mu.Lock()
		state := job.State
		errorCount := job.ErrorCount
		table := job.Spec.SourceTable
		o.mu.Unlock()

		if state != types.JobStateError {
			continue
		}
		if errorCount >= maxRetries {
			o.log.Error().
				Str("table", table).
				Int("error_count", errorCount).
				Msg("sync job exceeded max retries, leaving in error state")
			continue
		}

		o.log.Info().Str("table", table).Msg("restarting errored sync job")
		o.startJob(o.ctx, job)
	}

	o.pushJobMetrics()
}

// metricsLoop reports job counts on the collection interval.
func (o *Orchestrator) metricsLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Monitoring.MetricsCollectionInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.pushJobMetrics()
		}
	}
}

func (o *Orchestrator) pushJobMetrics() {
	o.mu.Lock()
	active, errored := 0, 0
	for _, job := range o.jobs {
		switch job.State {
		case types.JobStateRunning:
			active++
		case types.JobStateError:
			errored++
		}
	}
	o.mu.Unlock()

	o.metrics.SetJobCounts(active, errored)
}

// Stop transitions every job to stopped, shuts the loops down, and closes
// the engine session. The wait for background loops is bounded by ctx, so a
// shutdown deadline holds even when a restart submission is in flight. Safe
// to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.cancel()
	close(o.stopCh)

	for _, job := range o.jobList() {
		o.mu.Lock()
		job.State = types.JobStateStopping
		table := job.Spec.SourceTable
		o.mu.Unlock()

		o.log.Info().Str("table", table).Msg("stopping sync job")

		o.mu.Lock()
		job.State = types.JobStateStopped
		o.mu.Unlock()
	}

	if err := o.engine.Close(ctx); err != nil {
		o.log.Error().Err(err).Msg("error closing engine session")
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn().Msg("shutdown deadline reached before loops drained")
	}

	o.pushJobMetrics()
	o.log.Info().Msg("orchestrator stopped")
}

// Status reports the orchestrator state and a snapshot of every job.
func (o *Orchestrator) Status() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobs := make(map[string]JobStatus, len(o.jobs))
	for name, job := range o.jobs {
		jobs[name] = job.snapshot()
	}
	return map[string]any{
		"running": o.running,
		"jobs":    jobs,
	}
}

func (o *Orchestrator) jobFor(table string) *SyncJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobs[table]
}

func (o *Orchestrator) jobList() []*SyncJob {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobs := make([]*SyncJob, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
