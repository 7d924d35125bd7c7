package faults

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks how urgent a fault is for operators.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups faults by origin for routing and alerting.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryDataValidation Category = "data_validation"
	CategoryProcessing     Category = "processing"
	CategoryCheckpoint     Category = "checkpoint"
	CategoryConfiguration  Category = "configuration"
	CategorySystem         Category = "system"
	CategoryUnknown        Category = "unknown"
)

// Context carries the situational data attached to a fault when it surfaced.
type Context struct {
	Table        string
	Operation    string
	BatchID      string
	CheckpointID string
	RetryCount   int
	Timestamp    time.Time
	Attrs        map[string]string
}

// NewContext builds a Context for a table operation with the timestamp set.
func NewContext(table, operation string) Context {
	return Context{
		Table:     table,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// Record is a classified fault. Each record is owned by exactly one in-flight
// retry chain; RetryCount increments are sequential, never concurrent.
type Record struct {
	ID         string
	Kind       string
	Message    string
	Severity   Severity
	Category   Category
	Context    Context
	Retryable  bool
	MaxRetries int
	RetryDelay time.Duration
	Err        error
}

func newRecordID() string { return uuid.NewString() }

// ValidationError marks input that failed validation. Validation faults are
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return "validation failed for " + e.Field + ": " + e.Reason
}

// CheckpointError marks a stream-engine checkpoint failure, retryable up to
// policy.
type CheckpointError struct {
	CheckpointID string
	Err          error
}

func (e *CheckpointError) Error() string {
	return "checkpoint " + e.CheckpointID + " failed: " + e.Err.Error()
}

func (e *CheckpointError) Unwrap() error { return e.Err }
