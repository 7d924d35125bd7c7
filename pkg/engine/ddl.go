package engine

import (
	"fmt"
	"strings"

	"github.com/datarift/datarift/pkg/config"
)

// SourceTableName is the engine-side name registered for a CDC source table.
func SourceTableName(spec config.TableSpec) string {
	return "postgres_" + spec.SourceTable
}

// SinkTableName is the engine-side name registered for a sink table.
func SinkTableName(spec config.TableSpec) string {
	return "starrocks_" + spec.TargetTable
}

// BuildSourceDDL renders the CREATE TABLE statement registering a
// postgres-cdc source for the given table. Each table gets its own
// replication slot and publication so jobs can be restarted independently.
func BuildSourceDDL(cfg *config.Config, spec config.TableSpec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE %s (\n", SourceTableName(spec))
	b.WriteString(columnDefinitions(spec))
	b.WriteString("\n) WITH (\n")

	opts := [][2]string{
		{"connector", "postgres-cdc"},
		{"hostname", cfg.Source.Host},
		{"port", fmt.Sprintf("%d", cfg.Source.Port)},
		{"username", cfg.Source.Username},
		{"password", cfg.Source.Password},
		{"database-name", cfg.Source.Database},
		{"schema-name", cfg.Source.Schema},
		{"table-name", spec.SourceTable},
		{"decoding.plugin.name", "pgoutput"},
		{"slot.name", "flink_slot_" + spec.SourceTable},
		{"publication.name", "flink_publication_" + spec.SourceTable},
		{"publication.autocreate.mode", "filtered"},
		{"scan.incremental.snapshot.enabled", "true"},
		{"scan.incremental.snapshot.chunk.size", fmt.Sprintf("%d", cfg.CDC.SnapshotChunkSize)},
		{"scan.snapshot.fetch.size", fmt.Sprintf("%d", cfg.CDC.SnapshotFetchSize)},
		{"scan.startup.mode", cfg.CDC.StartupMode},
		{"heartbeat.interval.ms", fmt.Sprintf("%d", cfg.CDC.HeartbeatInterval.Std().Milliseconds())},
		{"connect.timeout", fmt.Sprintf("%ds", int(cfg.CDC.ConnectTimeout.Std().Seconds()))},
		{"connection.pool.size", fmt.Sprintf("%d", cfg.CDC.PoolSize)},
	}
	writeOptions(&b, opts)

	b.WriteString("\n)")
	return b.String()
}

// BuildSinkDDL renders the CREATE TABLE statement registering a StarRocks
// sink for the given table.
func BuildSinkDDL(cfg *config.Config, spec config.TableSpec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE %s (\n", SinkTableName(spec))
	b.WriteString(columnDefinitions(spec))
	b.WriteString("\n) WITH (\n")

	opts := [][2]string{
		{"connector", "starrocks"},
		{"jdbc-url", fmt.Sprintf("jdbc:mysql://%s:%d/%s",
			cfg.Sink.Host, cfg.Sink.Port, cfg.Sink.Database)},
		{"load-url", fmt.Sprintf("%s:%d", cfg.Sink.Host, cfg.Sink.Port)},
		{"username", cfg.Sink.Username},
		{"password", cfg.Sink.Password},
		{"database-name", cfg.Sink.Database},
		{"table-name", spec.TargetTable},
		{"sink.properties.format", "json"},
		{"sink.properties.strip_outer_array", "true"},
		{"sink.buffer-flush.max-rows", fmt.Sprintf("%d", cfg.Sink.BufferFlushMaxRows)},
		{"sink.buffer-flush.interval", fmt.Sprintf("%d", cfg.Sink.BufferFlushInterval.Std().Milliseconds())},
		{"sink.max-retries", fmt.Sprintf("%d", cfg.Sink.MaxRetries)},
		{"sink.retry-delay", fmt.Sprintf("%d", cfg.Sink.RetryDelay.Std().Milliseconds())},
	}
	writeOptions(&b, opts)

	b.WriteString("\n)")
	return b.String()
}

// BuildSyncQuery renders the continuous INSERT moving rows from the
// registered source into the registered sink.
func BuildSyncQuery(spec config.TableSpec) string {
	return fmt.Sprintf("INSERT INTO %s\nSELECT * FROM %s", SinkTableName(spec), SourceTableName(spec))
}

// columnDefinitions maps column names to engine SQL types by naming
// convention. TODO: replace with types read from the source
// information_schema once schema introspection lands.
func columnDefinitions(spec config.TableSpec) string {
	defs := make([]string, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		defs = append(defs, "    "+col+" "+columnType(col, spec.PrimaryKey))
	}
	return strings.Join(defs, ",\n")
}

func columnType(column, primaryKey string) string {
	switch {
	case column == primaryKey:
		return "BIGINT PRIMARY KEY NOT ENFORCED"
	case column == "id" || column == "user_id":
		return "BIGINT"
	case column == "quantity" || column == "price":
		return "DECIMAL(10,2)"
	case column == "created_at" || column == "updated_at":
		return "TIMESTAMP(3)"
	default:
		return "STRING"
	}
}

func writeOptions(b *strings.Builder, opts [][2]string) {
	for i, opt := range opts {
		fmt.Fprintf(b, "    '%s' = '%s'", opt[0], opt[1])
		if i < len(opts)-1 {
			b.WriteString(",\n")
		}
	}
}
