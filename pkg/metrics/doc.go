/*
Package metrics owns the Prometheus instrumentation for table synchronization.

A Registry holds counters for processed/failed records and checkpoints,
latency and batch-size histograms, and gauges for job states, throughput, and
lag. Raw observations are additionally pushed into a bounded sample buffer; a
background task drains the buffer every second while a second task recomputes
per-table throughput and lag on the configured collection interval.

The registry is constructed explicitly and handed to each component rather
than registered globally, so tests can run isolated registries side by side.
*/
package metrics
