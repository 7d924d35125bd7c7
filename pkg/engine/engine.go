// Package engine talks to the external stream-processing engine that runs
// the actual change-data-capture pipelines. It renders the connector DDL and
// submits statements through the engine's SQL gateway.
package engine

import "context"

// Engine submits SQL statements to a stream-processing engine.
type Engine interface {
	// ExecuteStatement submits a statement and waits for the gateway to
	// accept it. For continuous queries acceptance means the job is
	// scheduled, not finished.
	ExecuteStatement(ctx context.Context, statement string) error

	// Close releases the gateway session. Jobs already submitted keep
	// running on the engine.
	Close(ctx context.Context) error
}
