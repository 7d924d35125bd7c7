package orchestrator

import (
	"time"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/types"
)

// SyncJob tracks the lifecycle of one table's synchronization pipeline. All
// fields are guarded by the orchestrator mutex.
type SyncJob struct {
	Spec config.TableSpec

	State          types.JobState
	StartTime      time.Time
	LastCheckpoint time.Time
	ErrorCount     int
	LastError      string
}

func newSyncJob(spec config.TableSpec) *SyncJob {
	return &SyncJob{
		Spec:  spec,
		State: types.JobStateStopped,
	}
}

// JobStatus is the externally visible snapshot of a job.
type JobStatus struct {
	Table         string         `json:"table"`
	TargetTable   string         `json:"target_table"`
	State         types.JobState `json:"status"`
	ErrorCount    int            `json:"error_count"`
	LastError     string         `json:"last_error,omitempty"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

func (j *SyncJob) snapshot() JobStatus {
	status := JobStatus{
		Table:       j.Spec.SourceTable,
		TargetTable: j.Spec.TargetTable,
		State:       j.State,
		ErrorCount:  j.ErrorCount,
		LastError:   j.LastError,
	}
	if j.State == types.JobStateRunning && !j.StartTime.IsZero() {
		status.UptimeSeconds = time.Since(j.StartTime).Seconds()
	}
	return status
}
