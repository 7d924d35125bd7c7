package metrics

import "time"

const (
	bufferCap    = 10000
	bufferRetain = 5000
)

// Sample is an ephemeral buffered metric observation, folded into the
// long-lived collectors before exposition.
type Sample struct {
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// buffered appends a sample, truncating the buffer to the most recent entries
// when it overflows.
func (r *Registry) buffered(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, s)
	if len(r.buffer) > bufferCap {
		retained := make([]Sample, bufferRetain)
		copy(retained, r.buffer[len(r.buffer)-bufferRetain:])
		r.buffer = retained
	}
}

// BufferLen reports the number of samples waiting to be drained.
func (r *Registry) BufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
