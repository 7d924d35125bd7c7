package types

// JobState represents the lifecycle state of a table sync job.
type JobState string

const (
	JobStateStopped  JobState = "stopped"
	JobStateStarting JobState = "starting"
	JobStateRunning  JobState = "running"
	JobStateError    JobState = "error"
	JobStateStopping JobState = "stopping"
)

// SyncMode defines how a table is synchronized from source to sink.
type SyncMode string

const (
	// SyncModeCDC streams row-level changes continuously.
	SyncModeCDC SyncMode = "cdc"
	// SyncModeBatch copies the table in periodic batches.
	SyncModeBatch SyncMode = "batch"
	// SyncModeHybrid takes an initial batch snapshot then switches to CDC.
	SyncModeHybrid SyncMode = "hybrid"
)

// Valid reports whether the sync mode is one of the recognized values.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeCDC, SyncModeBatch, SyncModeHybrid:
		return true
	}
	return false
}
