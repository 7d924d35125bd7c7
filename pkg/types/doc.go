/*
Package types defines the core enumerations shared across datarift packages.

JobState models the per-table sync job lifecycle owned by the orchestrator:

	stopped → starting → running
	running → error          (job failure)
	error   → starting       (supervised restart, bounded by policy)
	any     → stopping → stopped  (shutdown)

SyncMode selects how a configured table is replicated: continuous CDC,
periodic batch copies, or an initial snapshot followed by CDC (hybrid).
*/
package types
