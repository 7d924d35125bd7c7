package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datarift/datarift/pkg/types"
)

// fromEnv overlays the flat environment-variable mapping onto the config.
// Variable names mirror the structured file fields one to one.
func (c *Config) fromEnv() error {
	var err error

	setString(&c.Source.Host, "POSTGRES_HOST")
	setInt(&c.Source.Port, "POSTGRES_PORT", &err)
	setString(&c.Source.Database, "POSTGRES_DB")
	setString(&c.Source.Username, "POSTGRES_USER")
	setString(&c.Source.Password, "POSTGRES_PASSWORD")
	setString(&c.Source.Schema, "POSTGRES_SCHEMA")
	setInt(&c.Source.PoolSize, "POSTGRES_POOL_SIZE", &err)
	setDuration(&c.Source.ConnectTimeout, "POSTGRES_TIMEOUT", &err)
	setDuration(&c.Source.QueryTimeout, "POSTGRES_QUERY_TIMEOUT", &err)

	setString(&c.Sink.Host, "STARROCKS_HOST")
	setInt(&c.Sink.Port, "STARROCKS_PORT", &err)
	setString(&c.Sink.Database, "STARROCKS_DB")
	setString(&c.Sink.Username, "STARROCKS_USER")
	setString(&c.Sink.Password, "STARROCKS_PASSWORD")
	setInt(&c.Sink.BufferFlushMaxRows, "STARROCKS_BUFFER_ROWS", &err)
	setDuration(&c.Sink.BufferFlushInterval, "STARROCKS_BUFFER_INTERVAL", &err)
	setInt(&c.Sink.MaxRetries, "STARROCKS_MAX_RETRIES", &err)
	setDuration(&c.Sink.RetryDelay, "STARROCKS_RETRY_DELAY", &err)
	setDuration(&c.Sink.LoadTimeout, "STARROCKS_LOAD_TIMEOUT", &err)

	setString(&c.Engine.Endpoint, "FLINK_ENDPOINT")
	setInt(&c.Engine.Parallelism, "FLINK_PARALLELISM", &err)
	setDuration(&c.Engine.CheckpointInterval, "FLINK_CHECKPOINT_INTERVAL", &err)
	setDuration(&c.Engine.CheckpointTimeout, "FLINK_CHECKPOINT_TIMEOUT", &err)
	setDuration(&c.Engine.CheckpointMinPause, "FLINK_MIN_PAUSE", &err)
	setInt(&c.Engine.MaxConcurrentCheckpoints, "FLINK_MAX_CONCURRENT", &err)
	setString(&c.Engine.CheckpointMode, "FLINK_CHECKPOINT_MODE")
	setString(&c.Engine.RestartStrategy, "FLINK_RESTART_STRATEGY")
	setInt(&c.Engine.RestartAttempts, "FLINK_RESTART_ATTEMPTS", &err)
	setDuration(&c.Engine.RestartDelay, "FLINK_RESTART_DELAY", &err)
	setDuration(&c.Engine.RestartMaxDelay, "FLINK_RESTART_MAX_DELAY", &err)
	setFloat(&c.Engine.RestartBackoffMultiplier, "FLINK_RESTART_BACKOFF", &err)

	setBool(&c.CDC.Enabled, "CDC_ENABLED", &err)
	setString(&c.CDC.StartupMode, "CDC_STARTUP_MODE")
	setString(&c.CDC.SnapshotMode, "CDC_SNAPSHOT_MODE")
	setDuration(&c.CDC.PollInterval, "CDC_POLL_INTERVAL", &err)
	setInt(&c.CDC.MaxBatchSize, "CDC_MAX_BATCH_SIZE", &err)
	setDuration(&c.CDC.MaxWaitTime, "CDC_MAX_WAIT_TIME", &err)
	setInt(&c.CDC.SnapshotChunkSize, "CDC_SNAPSHOT_CHUNK_SIZE", &err)
	setInt(&c.CDC.SnapshotFetchSize, "CDC_SNAPSHOT_FETCH_SIZE", &err)
	setDuration(&c.CDC.HeartbeatInterval, "CDC_HEARTBEAT_INTERVAL", &err)
	setDuration(&c.CDC.ConnectTimeout, "CDC_CONNECT_TIMEOUT", &err)
	setInt(&c.CDC.PoolSize, "CDC_CONNECTION_POOL_SIZE", &err)

	setBool(&c.Monitoring.Enabled, "MONITORING_ENABLED", &err)
	setInt(&c.Monitoring.MetricsPort, "METRICS_PORT", &err)
	setInt(&c.Monitoring.HealthCheckPort, "HEALTH_CHECK_PORT", &err)
	setDuration(&c.Monitoring.JobCheckInterval, "JOB_CHECK_INTERVAL", &err)
	setDuration(&c.Monitoring.MetricsCollectionInterval, "METRICS_COLLECTION_INTERVAL", &err)
	setFloat(&c.Monitoring.AlertThresholds.ErrorRate, "ALERT_ERROR_RATE", &err)
	setFloat(&c.Monitoring.AlertThresholds.LatencyP99, "ALERT_LATENCY_P99", &err)
	setFloat(&c.Monitoring.AlertThresholds.ThroughputMin, "ALERT_THROUGHPUT_MIN", &err)

	setInt(&c.ErrorHandling.MaxRetries, "ERROR_MAX_RETRIES", &err)
	setDuration(&c.ErrorHandling.RetryDelay, "ERROR_RETRY_DELAY", &err)
	setBool(&c.ErrorHandling.ExponentialBackoff, "ERROR_EXPONENTIAL_BACKOFF", &err)
	setDuration(&c.ErrorHandling.MaxRetryDelay, "ERROR_MAX_RETRY_DELAY", &err)
	setBool(&c.ErrorHandling.DeadLetterQueue, "ERROR_DEAD_LETTER_QUEUE", &err)
	setBool(&c.ErrorHandling.AlertOnError, "ERROR_ALERT_ON_ERROR", &err)
	setString(&c.ErrorHandling.NotificationWebhook, "ERROR_NOTIFICATION_WEBHOOK")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setBool(&c.Logging.JSONOutput, "LOG_JSON_FORMAT", &err)

	if err != nil {
		return err
	}

	tables, err := parseTablesEnv(os.Getenv("SYNC_TABLES"))
	if err != nil {
		return err
	}
	if tables != nil {
		c.Tables = tables
	}
	return nil
}

// parseTablesEnv parses SYNC_TABLES, a semicolon-separated list of table
// definitions of the form
//
//	source,target,primary_key,col1|col2|col3[,sync_mode[,batch_size[,sync_interval[,enabled]]]]
func parseTablesEnv(raw string) ([]TableSpec, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var tables []TableSpec
	for _, def := range strings.Split(raw, ";") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		parts := strings.Split(def, ",")
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed SYNC_TABLES entry %q: need at least source,target,primary_key", def)
		}

		spec := TableSpec{
			SourceTable:  strings.TrimSpace(parts[0]),
			TargetTable:  strings.TrimSpace(parts[1]),
			PrimaryKey:   strings.TrimSpace(parts[2]),
			SyncMode:     types.SyncModeCDC,
			BatchSize:    1000,
			SyncInterval: Duration(time.Minute),
		}
		if len(parts) > 3 {
			spec.Columns = strings.Split(parts[3], "|")
		}
		if len(parts) > 4 && parts[4] != "" {
			spec.SyncMode = types.SyncMode(strings.TrimSpace(parts[4]))
		}
		if len(parts) > 5 && parts[5] != "" {
			size, err := strconv.Atoi(strings.TrimSpace(parts[5]))
			if err != nil {
				return nil, fmt.Errorf("malformed batch size in SYNC_TABLES entry %q: %w", def, err)
			}
			spec.BatchSize = size
		}
		if len(parts) > 6 && parts[6] != "" {
			interval, err := parseDuration(strings.TrimSpace(parts[6]))
			if err != nil {
				return nil, fmt.Errorf("malformed sync interval in SYNC_TABLES entry %q: %w", def, err)
			}
			spec.SyncInterval = Duration(interval)
		}
		if len(parts) > 7 && parts[7] != "" {
			enabled := strings.EqualFold(strings.TrimSpace(parts[7]), "true")
			spec.Enabled = &enabled
		}
		tables = append(tables, spec)
	}
	return tables, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		join(errOut, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func setFloat(dst *float64, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		join(errOut, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func setBool(dst *bool, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		join(errOut, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func setDuration(dst *Duration, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := parseDuration(v)
	if err != nil {
		join(errOut, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = Duration(parsed)
}

func join(errOut *error, err error) {
	if *errOut == nil {
		*errOut = err
	}
}
