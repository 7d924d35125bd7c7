package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/engine"
	"github.com/datarift/datarift/pkg/faults"
	"github.com/datarift/datarift/pkg/metrics"
	"github.com/datarift/datarift/pkg/retry"
	"github.com/datarift/datarift/pkg/types"
)

// fakeEngine records submitted statements and fails on demand.
type fakeEngine struct {
	mu         sync.Mutex
	statements []string
	failures   int
	onExecute  func(statement string)
}

func (f *fakeEngine) ExecuteStatement(ctx context.Context, statement string) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	} else {
		f.statements = append(f.statements, statement)
	}
	onExecute := f.onExecute
	f.mu.Unlock()

	if onExecute != nil {
		onExecute(statement)
	}
	if fail {
		return errors.New("gateway unavailable")
	}
	return nil
}

func (f *fakeEngine) Close(ctx context.Context) error { return nil }

func (f *fakeEngine) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

func (f *fakeEngine) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Tables = []config.TableSpec{
		{
			SourceTable: "users",
			TargetTable: "users_rt",
			PrimaryKey:  "id",
			Columns:     []string{"id", "email", "created_at"},
		},
		{
			SourceTable: "orders",
			TargetTable: "orders_rt",
			PrimaryKey:  "id",
			Columns:     []string{"id", "user_id", "price", "created_at"},
		},
	}
	// Fast loops so tests observe the background behavior quickly.
	cfg.Monitoring.JobCheckInterval = config.Duration(20 * time.Millisecond)
	cfg.Monitoring.MetricsCollectionInterval = config.Duration(10 * time.Millisecond)
	cfg.ErrorHandling.RetryDelay = config.Duration(time.Millisecond)
	cfg.ErrorHandling.MaxRetryDelay = config.Duration(10 * time.Millisecond)
	return &cfg
}

func newTestOrchestrator(cfg *config.Config, eng engine.Engine) (*Orchestrator, *metrics.Registry, *faults.Handler) {
	reg := metrics.NewRegistry(cfg.Monitoring.MetricsCollectionInterval.Std())
	handler := faults.NewHandler(cfg.ErrorHandling)
	return New(cfg, eng, reg, handler), reg, handler
}

func jobState(o *Orchestrator, table string) types.JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobs[table].State
}

func TestStartRunsAllEnabledJobs(t *testing.T) {
	cfg := testConfig()
	eng := &fakeEngine{}
	orch, reg, _ := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))

	assert.Equal(t, types.JobStateRunning, jobState(orch, "users"))
	assert.Equal(t, types.JobStateRunning, jobState(orch, "orders"))

	// Three statements per table: source DDL, sink DDL, sync query.
	assert.Len(t, eng.submitted(), 6)

	// The metrics loop publishes the gauges shortly after start.
	require.Eventually(t, func() bool {
		summary := reg.Summary()
		return summary["sync_active_jobs"] == 2.0 && summary["sync_error_jobs"] == 0.0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartTwiceFails(t *testing.T) {
	orch, _, _ := newTestOrchestrator(testConfig(), &fakeEngine{})
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))
	assert.Error(t, orch.Start(context.Background()))
}

func TestDisabledTablesGetNoJob(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.Tables[1].Enabled = &disabled

	orch, _, _ := newTestOrchestrator(cfg, &fakeEngine{})
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))

	status := orch.Status()
	jobs := status["jobs"].(map[string]JobStatus)
	assert.Len(t, jobs, 1)
	assert.Contains(t, jobs, "users")
}

func TestJobsPassThroughStarting(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &fakeEngine{}
	orch, _, _ := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	var observed []types.JobState
	eng.onExecute = func(string) {
		observed = append(observed, jobState(orch, "users"))
	}

	require.NoError(t, orch.Start(context.Background()))

	require.Len(t, observed, 3)
	for _, state := range observed {
		assert.Equal(t, types.JobStateStarting, state)
	}
	assert.Equal(t, types.JobStateRunning, jobState(orch, "users"))
}

func TestStartFailureMarksJobErrored(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &fakeEngine{}
	eng.setFailures(1)
	orch, _, handler := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))

	assert.Equal(t, types.JobStateError, jobState(orch, "users"))

	status := orch.Status()
	jobs := status["jobs"].(map[string]JobStatus)
	assert.Equal(t, 1, jobs["users"].ErrorCount)
	assert.NotEmpty(t, jobs["users"].LastError)

	// The fault went through the classification pipeline.
	assert.Equal(t, 1, handler.History().Len())
}

func TestSupervisorRestartsErroredJob(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &fakeEngine{}
	eng.setFailures(1)
	orch, _, _ := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))
	require.Equal(t, types.JobStateError, jobState(orch, "users"))

	// The engine recovers; the supervision loop should restart the job.
	require.Eventually(t, func() bool {
		return jobState(orch, "users") == types.JobStateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorRespectsRetryBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]
	cfg.ErrorHandling.MaxRetries = 2

	eng := &fakeEngine{}
	eng.setFailures(1000) // never recovers
	orch, _, _ := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))

	// Wait until the error count reaches the budget, then confirm it stops
	// growing.
	require.Eventually(t, func() bool {
		status := orch.Status()
		jobs := status["jobs"].(map[string]JobStatus)
		return jobs["users"].ErrorCount >= 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	status := orch.Status()
	jobs := status["jobs"].(map[string]JobStatus)
	assert.Equal(t, 2, jobs["users"].ErrorCount)
	assert.Equal(t, types.JobStateError, jobs["users"].State)
}

func TestRetryHookRestartsJob(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &fakeEngine{}
	eng.setFailures(1) // the pipeline short-circuits on the first statement
	orch, _, _ := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	require.NoError(t, orch.Start(context.Background()))
	require.Equal(t, types.JobStateError, jobState(orch, "users"))

	rec := faults.Record{Context: faults.NewContext("users", "job_start")}
	require.NoError(t, orch.RetryHook(context.Background(), rec))
	assert.Equal(t, types.JobStateRunning, jobState(orch, "users"))
}

func TestRetryHookUnknownTable(t *testing.T) {
	orch, _, _ := newTestOrchestrator(testConfig(), &fakeEngine{})

	rec := faults.Record{Context: faults.NewContext("missing", "job_start")}
	assert.Error(t, orch.RetryHook(context.Background(), rec))
}

func TestRetryHookUnknownOperation(t *testing.T) {
	cfg := testConfig()
	orch, _, _ := newTestOrchestrator(cfg, &fakeEngine{})
	defer orch.Stop(context.Background())
	require.NoError(t, orch.Start(context.Background()))

	rec := faults.Record{Context: faults.NewContext("users", "compaction")}
	assert.Error(t, orch.RetryHook(context.Background(), rec))
}

func TestMarkDeadLetteredFlagsJob(t *testing.T) {
	cfg := testConfig()
	orch, _, _ := newTestOrchestrator(cfg, &fakeEngine{})
	defer orch.Stop(context.Background())
	require.NoError(t, orch.Start(context.Background()))

	rec := faults.Record{
		Message: "exhausted retries",
		Context: faults.NewContext("users", "job_start"),
	}
	orch.MarkDeadLettered(rec)

	assert.Equal(t, types.JobStateError, jobState(orch, "users"))
	status := orch.Status()
	jobs := status["jobs"].(map[string]JobStatus)
	assert.Equal(t, "exhausted retries", jobs["users"].LastError)
}

// wedgingEngine fails the first statement so the job lands in the error
// state, then blocks every later statement until its context is cancelled.
type wedgingEngine struct {
	mu      sync.Mutex
	calls   int
	blocked chan struct{}
}

func (w *wedgingEngine) ExecuteStatement(ctx context.Context, statement string) error {
	w.mu.Lock()
	w.calls++
	first := w.calls == 1
	w.mu.Unlock()

	if first {
		return errors.New("gateway unavailable")
	}

	select {
	case w.blocked <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(3 * time.Second):
		return errors.New("statement stuck")
	}
}

func (w *wedgingEngine) Close(ctx context.Context) error { return nil }

func TestStopHonorsShutdownDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &wedgingEngine{blocked: make(chan struct{}, 1)}
	orch, _, _ := newTestOrchestrator(cfg, eng)

	require.NoError(t, orch.Start(context.Background()))
	require.Equal(t, types.JobStateError, jobState(orch, "users"))

	// Wait for the supervisor restart to wedge inside the engine.
	select {
	case <-eng.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never attempted a restart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	orch.Stop(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	orch, _, _ := newTestOrchestrator(testConfig(), &fakeEngine{})
	require.NoError(t, orch.Start(context.Background()))

	orch.Stop(context.Background())
	orch.Stop(context.Background())

	assert.Equal(t, types.JobStateStopped, jobState(orch, "users"))
	assert.Equal(t, types.JobStateStopped, jobState(orch, "orders"))

	status := orch.Status()
	assert.False(t, status["running"].(bool))
}

func TestFullRetryPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.Tables = cfg.Tables[:1]

	eng := &fakeEngine{}
	eng.setFailures(1) // initial start fails once, the retry succeeds
	orch, _, handler := newTestOrchestrator(cfg, eng)
	defer orch.Stop(context.Background())

	scheduler := retry.NewScheduler(cfg.ErrorHandling)
	defer scheduler.Shutdown(time.Second)
	handler.SetRouter(scheduler)
	scheduler.SetFailureHandler(handler)
	scheduler.SetHook(orch.RetryHook)
	scheduler.OnDeadLetter(orch.MarkDeadLettered)

	require.NoError(t, orch.Start(context.Background()))

	require.Eventually(t, func() bool {
		return jobState(orch, "users") == types.JobStateRunning
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, scheduler.DeadLetter().Size())
}
