package retry

import (
	"sync"

	"github.com/datarift/datarift/pkg/faults"
)

const deadLetterCap = 1000

// DeadLetter is the terminal store for faults that exhausted their retries or
// were classified non-retryable.
type DeadLetter struct {
	mu      sync.Mutex
	records []faults.Record
}

// Add appends a record, dropping the oldest entries beyond capacity.
func (d *DeadLetter) Add(rec faults.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = append(d.records, rec)
	if len(d.records) > deadLetterCap {
		d.records = d.records[len(d.records)-deadLetterCap:]
	}
}

// Size returns the number of dead-lettered records.
func (d *DeadLetter) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Records returns a copy of the dead-lettered records, oldest first.
func (d *DeadLetter) Records() []faults.Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]faults.Record, len(d.records))
	copy(out, d.records)
	return out
}
