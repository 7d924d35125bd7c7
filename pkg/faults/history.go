package faults

import "sync"

const (
	historyCap    = 1000
	historyRetain = 500
)

// History is a bounded record of recent faults for introspection. On reaching
// capacity it is truncated to the most recent entries.
type History struct {
	mu      sync.Mutex
	records []Record
}

// Append stores a record, truncating the history when it exceeds capacity.
func (h *History) Append(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) > historyCap {
		retained := make([]Record, historyRetain)
		copy(retained, h.records[len(h.records)-historyRetain:])
		h.records = retained
	}
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Recent returns up to n of the most recent records, oldest first.
func (h *History) Recent(n int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > len(h.records) {
		n = len(h.records)
	}
	out := make([]Record, n)
	copy(out, h.records[len(h.records)-n:])
	return out
}
