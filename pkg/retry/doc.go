/*
Package retry schedules retries for classified faults and wraps fallible
calls in reusable backoff policies.

Two layers coexist deliberately. Policy is an inline primitive for
network-facing calls (the engine client retries gateway requests with it).
Scheduler is the asynchronous layer for job-level faults: retryable records
are re-fired through the orchestrator's hook after a backoff delay, and a
failed retry re-enters the classifier with an incremented count, so
exhaustion stays bounded even when the fault type changes between attempts.
Records that are non-retryable or out of budget land in the bounded
dead-letter sink.
*/
package retry
