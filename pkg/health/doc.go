/*
Package health probes the systems a sync deployment depends on and serves the
results over HTTP.

A Monitor runs a set of Probers on a fixed interval: PostgreSQL and StarRocks
connectivity, the stream engine's REST endpoint, aggregate sync-job state, and
host resource usage. The Server exposes /health, /health/ready, /health/live,
and /health/detailed on the configured health port. Readiness requires the
three connectivity probes to be healthy; liveness only reports that the
process is serving.
*/
package health
