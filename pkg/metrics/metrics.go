package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/datarift/datarift/pkg/log"
)

// Registry owns every sync metric. It is explicitly constructed and passed
// down; nothing registers on the global prometheus registry.
type Registry struct {
	prom *prometheus.Registry

	recordsProcessed     *prometheus.CounterVec
	recordsFailed        *prometheus.CounterVec
	checkpointsCompleted *prometheus.CounterVec
	checkpointsFailed    *prometheus.CounterVec
	processingLatency    *prometheus.HistogramVec
	batchSize            *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	errorJobs            prometheus.Gauge
	lastCheckpoint       *prometheus.GaugeVec
	throughput           *prometheus.GaugeVec
	lagSeconds           *prometheus.GaugeVec

	interval  time.Duration
	startTime time.Time
	log       zerolog.Logger

	mu              sync.Mutex
	buffer          []Sample
	windows         map[string]*tableWindow
	checkpointTimes map[string]time.Time

	stopCh chan struct{}
}

// tableWindow accumulates processed-record counts between derived-metric
// recomputations.
type tableWindow struct {
	count float64
	since time.Time
}

// NewRegistry creates a Registry recomputing derived metrics (throughput,
// lag) every interval.
func NewRegistry(interval time.Duration) *Registry {
	r := &Registry{
		prom:            prometheus.NewRegistry(),
		interval:        interval,
		startTime:       time.Now(),
		log:             log.WithComponent("metrics"),
		windows:         make(map[string]*tableWindow),
		checkpointTimes: make(map[string]time.Time),
		stopCh:          make(chan struct{}),
	}

	r.recordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"table", "operation"},
	)
	r.recordsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_failed_total",
			Help: "Total number of records that failed to process",
		},
		[]string{"table", "error_type"},
	)
	r.checkpointsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_checkpoints_completed_total",
			Help: "Total number of checkpoints completed",
		},
		[]string{"table"},
	)
	r.checkpointsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_checkpoints_failed_total",
			Help: "Total number of checkpoints that failed",
		},
		[]string{"table"},
	)
	r.processingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_processing_latency_seconds",
			Help:    "Processing latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"table", "operation"},
	)
	r.batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_batch_size",
			Help:    "Batch size distribution",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"table"},
	)
	r.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_active_jobs",
			Help: "Number of active sync jobs",
		},
	)
	r.errorJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_error_jobs",
			Help: "Number of jobs in error state",
		},
	)
	r.lastCheckpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_checkpoint_timestamp_seconds",
			Help: "Timestamp of the last checkpoint",
		},
		[]string{"table"},
	)
	r.throughput = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"table"},
	)
	r.lagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_lag_seconds",
			Help: "Current lag in seconds",
		},
		[]string{"table"},
	)

	r.prom.MustRegister(
		r.recordsProcessed,
		r.recordsFailed,
		r.checkpointsCompleted,
		r.checkpointsFailed,
		r.processingLatency,
		r.batchSize,
		r.activeJobs,
		r.errorJobs,
		r.lastCheckpoint,
		r.throughput,
		r.lagSeconds,
	)

	return r
}

// Start launches the buffer-drain and derived-metrics background loops.
func (r *Registry) Start() {
	go r.drainLoop()
	go r.derivedLoop()
}

// Stop terminates the background loops.
func (r *Registry) Stop() {
	close(r.stopCh)
}

// RecordProcessed increments the processed-records counter.
func (r *Registry) RecordProcessed(table, operation string, count int) {
	r.recordsProcessed.WithLabelValues(table, operation).Add(float64(count))

	r.mu.Lock()
	w, ok := r.windows[table]
	if !ok {
		w = &tableWindow{since: time.Now()}
		r.windows[table] = w
	}
	w.count += float64(count)
	r.mu.Unlock()

	r.buffered(Sample{
		Name:   "record_processed",
		Value:  float64(count),
		Labels: map[string]string{"table": table, "operation": operation},
	})
}

// RecordFailed increments the failed-records counter.
func (r *Registry) RecordFailed(table, errorType string, count int) {
	r.recordsFailed.WithLabelValues(table, errorType).Add(float64(count))
	r.buffered(Sample{
		Name:   "record_failed",
		Value:  float64(count),
		Labels: map[string]string{"table": table, "error_type": errorType},
	})
}

// RecordLatency records an operation latency observation.
func (r *Registry) RecordLatency(table, operation string, d time.Duration) {
	r.processingLatency.WithLabelValues(table, operation).Observe(d.Seconds())
}

// RecordBatchSize records a batch size observation.
func (r *Registry) RecordBatchSize(table string, size int) {
	r.batchSize.WithLabelValues(table).Observe(float64(size))
}

// RecordCheckpointCompleted counts a completed checkpoint and stamps it.
func (r *Registry) RecordCheckpointCompleted(table string) {
	now := time.Now()
	r.checkpointsCompleted.WithLabelValues(table).Inc()
	r.lastCheckpoint.WithLabelValues(table).Set(float64(now.Unix()))

	r.mu.Lock()
	r.checkpointTimes[table] = now
	r.mu.Unlock()
}

// RecordCheckpointFailed counts a failed checkpoint.
func (r *Registry) RecordCheckpointFailed(table string) {
	r.checkpointsFailed.WithLabelValues(table).Inc()
}

// SetJobCounts publishes the current job-state gauges.
func (r *Registry) SetJobCounts(active, errored int) {
	r.activeJobs.Set(float64(active))
	r.errorJobs.Set(float64(errored))
}

func (r *Registry) drainLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.drain()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) drain() {
	r.mu.Lock()
	n := len(r.buffer)
	r.buffer = r.buffer[:0]
	r.mu.Unlock()

	if n > 0 {
		r.log.Debug().Int("samples", n).Msg("drained metric sample buffer")
	}
}

func (r *Registry) derivedLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.computeDerived()
		case <-r.stopCh:
			return
		}
	}
}

// computeDerived recomputes per-table throughput from the windowed processed
// counts and lag from the last checkpoint timestamp.
func (r *Registry) computeDerived() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for table, w := range r.windows {
		elapsed := now.Sub(w.since).Seconds()
		if elapsed <= 0 {
			continue
		}
		r.throughput.WithLabelValues(table).Set(w.count / elapsed)
		w.count = 0
		w.since = now

		lag := 0.0
		if ckpt, ok := r.checkpointTimes[table]; ok {
			lag = now.Sub(ckpt).Seconds()
		}
		r.lagSeconds.WithLabelValues(table).Set(lag)
	}
}

// Uptime reports how long this registry has been alive, which matches process
// uptime in practice.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}
