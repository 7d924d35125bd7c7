package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(10 * time.Second)
}

func TestCountersAccumulate(t *testing.T) {
	r := newTestRegistry()

	r.RecordProcessed("users", "insert", 100)
	r.RecordProcessed("users", "insert", 50)
	r.RecordFailed("users", "network", 3)

	summary := r.Summary()
	assert.Equal(t, 150.0, summary["sync_records_processed_total"])
	assert.Equal(t, 3.0, summary["sync_records_failed_total"])
}

func TestJobCountGauges(t *testing.T) {
	r := newTestRegistry()

	r.SetJobCounts(2, 1)
	summary := r.Summary()
	assert.Equal(t, 2.0, summary["sync_active_jobs"])
	assert.Equal(t, 1.0, summary["sync_error_jobs"])

	// Gauges follow the latest value, not the sum.
	r.SetJobCounts(3, 0)
	summary = r.Summary()
	assert.Equal(t, 3.0, summary["sync_active_jobs"])
	assert.Equal(t, 0.0, summary["sync_error_jobs"])
}

func TestCheckpointRecording(t *testing.T) {
	r := newTestRegistry()

	before := float64(time.Now().Unix())
	r.RecordCheckpointCompleted("orders")
	r.RecordCheckpointFailed("orders")

	summary := r.Summary()
	assert.Equal(t, 1.0, summary["sync_checkpoints_completed_total"])
	assert.Equal(t, 1.0, summary["sync_checkpoints_failed_total"])
	assert.GreaterOrEqual(t, summary["sync_last_checkpoint_timestamp_seconds"], before)
}

func TestExportContainsMetricNames(t *testing.T) {
	r := newTestRegistry()

	r.RecordProcessed("users", "insert", 10)
	r.RecordLatency("users", "insert", 25*time.Millisecond)
	r.RecordBatchSize("users", 500)
	r.SetJobCounts(1, 0)

	out, err := r.Export()
	require.NoError(t, err)

	assert.Contains(t, out, "sync_records_processed_total")
	assert.Contains(t, out, "sync_processing_latency_seconds")
	assert.Contains(t, out, "sync_batch_size")
	assert.Contains(t, out, "sync_active_jobs")
}

func TestScrapeEndpoint(t *testing.T) {
	r := newTestRegistry()
	r.RecordProcessed("users", "insert", 42)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
}

func TestDerivedThroughputAndLag(t *testing.T) {
	r := newTestRegistry()

	r.RecordCheckpointCompleted("users")
	r.RecordProcessed("users", "insert", 1000)

	// Let the window accumulate some wall time before recomputing.
	time.Sleep(20 * time.Millisecond)
	r.computeDerived()

	summary := r.Summary()
	assert.Greater(t, summary["sync_throughput_records_per_second"], 0.0)
	assert.GreaterOrEqual(t, summary["sync_lag_seconds"], 0.0)
}

func TestBufferTruncation(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < bufferCap+1; i++ {
		r.RecordProcessed("users", "insert", 1)
	}

	// Crossing the cap keeps only the newest half.
	assert.Equal(t, bufferRetain, r.BufferLen())
}

func TestRegistriesAreIsolated(t *testing.T) {
	a := newTestRegistry()
	b := newTestRegistry()

	a.RecordProcessed("users", "insert", 5)

	assert.Equal(t, 5.0, a.Summary()["sync_records_processed_total"])

	// The other registry has never seen the series.
	_, ok := b.Summary()["sync_records_processed_total"]
	assert.False(t, ok)
}
