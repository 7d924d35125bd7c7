package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/datarift/datarift/pkg/types"
)

// ConfigError reports a fatal configuration problem detected at load time.
type ConfigError struct {
	Violations []string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Violations, "; "))
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("30s", "5m") or bare integers interpreted as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func parseDuration(raw string) (time.Duration, error) {
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// EndpointConfig describes a database endpoint.
type EndpointConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Database       string   `yaml:"database"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Schema         string   `yaml:"schema"`
	PoolSize       int      `yaml:"connection_pool_size"`
	ConnectTimeout Duration `yaml:"connection_timeout"`
	QueryTimeout   Duration `yaml:"query_timeout"`
}

// SinkConfig is the StarRocks endpoint plus its batch-flush thresholds.
type SinkConfig struct {
	EndpointConfig      `yaml:",inline"`
	BufferFlushMaxRows  int      `yaml:"buffer_flush_max_rows"`
	BufferFlushInterval Duration `yaml:"buffer_flush_interval"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelay          Duration `yaml:"retry_delay"`
	LoadTimeout         Duration `yaml:"load_timeout"`
}

// EngineConfig holds stream-engine tuning passed through to the external
// engine when jobs are submitted.
type EngineConfig struct {
	Endpoint                 string   `yaml:"endpoint"`
	Parallelism              int      `yaml:"parallelism"`
	CheckpointInterval       Duration `yaml:"checkpoint_interval"`
	CheckpointTimeout        Duration `yaml:"checkpoint_timeout"`
	CheckpointMinPause       Duration `yaml:"min_pause_between_checkpoints"`
	MaxConcurrentCheckpoints int      `yaml:"max_concurrent_checkpoints"`
	CheckpointMode           string   `yaml:"checkpointing_mode"`
	RestartStrategy          string   `yaml:"restart_strategy"`
	RestartAttempts          int      `yaml:"restart_attempts"`
	RestartDelay             Duration `yaml:"restart_delay"`
	RestartMaxDelay          Duration `yaml:"restart_max_delay"`
	RestartBackoffMultiplier float64  `yaml:"restart_backoff_multiplier"`
}

// TableSpec configures the synchronization of a single table.
type TableSpec struct {
	SourceTable  string         `yaml:"source_table"`
	TargetTable  string         `yaml:"target_table"`
	PrimaryKey   string         `yaml:"primary_key"`
	Columns      []string       `yaml:"columns"`
	SyncMode     types.SyncMode `yaml:"sync_mode"`
	BatchSize    int            `yaml:"batch_size"`
	SyncInterval Duration       `yaml:"sync_interval"`
	Enabled      *bool          `yaml:"enabled"`
}

// IsEnabled reports whether the table participates in synchronization.
// Tables are enabled unless explicitly disabled.
func (t TableSpec) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// CDCConfig tunes the change-data-capture source connector.
type CDCConfig struct {
	Enabled           bool     `yaml:"enabled"`
	StartupMode       string   `yaml:"startup_mode"`
	SnapshotMode      string   `yaml:"snapshot_mode"`
	PollInterval      Duration `yaml:"poll_interval"`
	MaxBatchSize      int      `yaml:"max_batch_size"`
	MaxWaitTime       Duration `yaml:"max_wait_time"`
	SnapshotChunkSize int      `yaml:"snapshot_chunk_size"`
	SnapshotFetchSize int      `yaml:"snapshot_fetch_size"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	PoolSize          int      `yaml:"connection_pool_size"`
}

// ErrorPolicy governs fault retries and dead-lettering.
type ErrorPolicy struct {
	MaxRetries          int      `yaml:"max_retries"`
	RetryDelay          Duration `yaml:"retry_delay"`
	ExponentialBackoff  bool     `yaml:"exponential_backoff"`
	MaxRetryDelay       Duration `yaml:"max_retry_delay"`
	DeadLetterQueue     bool     `yaml:"dead_letter_queue"`
	AlertOnError        bool     `yaml:"alert_on_error"`
	NotificationWebhook string   `yaml:"error_notification_webhook"`
}

// AlertThresholds are the monitoring alert trigger levels.
type AlertThresholds struct {
	ErrorRate     float64 `yaml:"error_rate"`
	LatencyP99    float64 `yaml:"latency_p99"`
	ThroughputMin float64 `yaml:"throughput_min"`
}

// MonitoringPolicy configures the metrics and health subsystems.
type MonitoringPolicy struct {
	Enabled                   bool            `yaml:"enabled"`
	MetricsPort               int             `yaml:"metrics_port"`
	HealthCheckPort           int             `yaml:"health_check_port"`
	JobCheckInterval          Duration        `yaml:"job_check_interval"`
	MetricsCollectionInterval Duration        `yaml:"metrics_collection_interval"`
	AlertThresholds           AlertThresholds `yaml:"alert_thresholds"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_format"`
}

// Config is the immutable top-level configuration, loaded once at startup
// and handed to every component.
type Config struct {
	Source        EndpointConfig   `yaml:"postgres"`
	Sink          SinkConfig       `yaml:"starrocks"`
	Engine        EngineConfig     `yaml:"flink"`
	Tables        []TableSpec      `yaml:"tables"`
	CDC           CDCConfig        `yaml:"cdc"`
	Monitoring    MonitoringPolicy `yaml:"monitoring"`
	ErrorHandling ErrorPolicy      `yaml:"error_handling"`
	Logging       LoggingConfig    `yaml:"logging"`
}

// Default returns a Config populated with the documented defaults. File and
// environment loading overlay onto this, so absent fields keep their default.
func Default() Config {
	return Config{
		Source: EndpointConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "production_db",
			Username:       "postgres",
			Schema:         "public",
			PoolSize:       10,
			ConnectTimeout: Duration(30 * time.Second),
			QueryTimeout:   Duration(300 * time.Second),
		},
		Sink: SinkConfig{
			EndpointConfig: EndpointConfig{
				Host:           "localhost",
				Port:           8030,
				Database:       "production_db",
				Username:       "root",
				PoolSize:       10,
				ConnectTimeout: Duration(30 * time.Second),
				QueryTimeout:   Duration(300 * time.Second),
			},
			BufferFlushMaxRows:  1000,
			BufferFlushInterval: Duration(10 * time.Second),
			MaxRetries:          3,
			RetryDelay:          Duration(time.Second),
			LoadTimeout:         Duration(10 * time.Minute),
		},
		Engine: EngineConfig{
			Endpoint:                 "http://localhost:8083",
			Parallelism:              4,
			CheckpointInterval:       Duration(time.Minute),
			CheckpointTimeout:        Duration(5 * time.Minute),
			CheckpointMinPause:       Duration(5 * time.Second),
			MaxConcurrentCheckpoints: 1,
			CheckpointMode:           "EXACTLY_ONCE",
			RestartStrategy:          "exponential-delay",
			RestartAttempts:          3,
			RestartDelay:             Duration(10 * time.Second),
			RestartMaxDelay:          Duration(time.Minute),
			RestartBackoffMultiplier: 2.0,
		},
		CDC: CDCConfig{
			Enabled:           true,
			StartupMode:       "initial",
			SnapshotMode:      "initial",
			PollInterval:      Duration(time.Second),
			MaxBatchSize:      1000,
			MaxWaitTime:       Duration(5 * time.Second),
			SnapshotChunkSize: 8192,
			SnapshotFetchSize: 1024,
			HeartbeatInterval: Duration(30 * time.Second),
			ConnectTimeout:    Duration(30 * time.Second),
			PoolSize:          10,
		},
		Monitoring: MonitoringPolicy{
			Enabled:                   true,
			MetricsPort:               9090,
			HealthCheckPort:           8080,
			JobCheckInterval:          Duration(30 * time.Second),
			MetricsCollectionInterval: Duration(10 * time.Second),
			AlertThresholds: AlertThresholds{
				ErrorRate:     0.05,
				LatencyP99:    1000.0,
				ThroughputMin: 100.0,
			},
		},
		ErrorHandling: ErrorPolicy{
			MaxRetries:         3,
			RetryDelay:         Duration(5 * time.Second),
			ExponentialBackoff: true,
			MaxRetryDelay:      Duration(5 * time.Minute),
			DeadLetterQueue:    true,
			AlertOnError:       true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Parse loads configuration without validating it. A path named explicitly,
// via the argument or CONFIG_PATH, must exist; otherwise the default file is
// tried and the flat environment mapping is the fallback when it is absent.
func Parse(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("CONFIG_PATH"); env != "" {
			path = env
			explicit = true
		} else {
			path = "config/datarift.yaml"
		}
	}

	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, &ConfigError{Err: fmt.Errorf("config file %s: %w", path, err)}
		}
		if err := cfg.fromEnv(); err != nil {
			return nil, &ConfigError{Err: err}
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read config file: %w", err)}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse config file %s: %w", path, err)}
	}
	return &cfg, nil
}

// Load parses and validates the configuration. Validation failures are fatal:
// the caller is expected to abort startup before binding any listener.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if violations := cfg.Validate(); len(violations) > 0 {
		return nil, &ConfigError{Violations: violations}
	}
	return cfg, nil
}

// Validate returns human-readable violations without failing, for pre-flight
// checks. An empty slice means the configuration is usable.
func (c *Config) Validate() []string {
	var violations []string

	if c.Source.Host == "" {
		violations = append(violations, "postgres host is required")
	}
	if c.Sink.Host == "" {
		violations = append(violations, "starrocks host is required")
	}
	if c.Engine.Endpoint == "" {
		violations = append(violations, "flink endpoint is required")
	}
	if len(c.EnabledTables()) == 0 {
		violations = append(violations, "at least one enabled table is required")
	}

	for _, table := range c.Tables {
		name := table.SourceTable
		if name == "" {
			name = "<unnamed>"
			violations = append(violations, "source table name is required")
		}
		if table.TargetTable == "" {
			violations = append(violations, fmt.Sprintf("target table name is required for table %s", name))
		}
		if table.PrimaryKey == "" {
			violations = append(violations, fmt.Sprintf("primary key is required for table %s", name))
		} else if !slices.Contains(table.Columns, table.PrimaryKey) {
			violations = append(violations, fmt.Sprintf("primary key %q is not among the columns of table %s", table.PrimaryKey, name))
		}
		if table.SyncMode != "" && !table.SyncMode.Valid() {
			violations = append(violations, fmt.Sprintf("unknown sync mode %q for table %s", table.SyncMode, name))
		}
	}

	if c.ErrorHandling.MaxRetries < 0 {
		violations = append(violations, "error_handling max_retries must not be negative")
	}
	if c.Monitoring.MetricsPort == c.Monitoring.HealthCheckPort {
		violations = append(violations, "metrics_port and health_check_port must differ")
	}

	return violations
}

// EnabledTables returns the table specs that participate in synchronization.
func (c *Config) EnabledTables() []TableSpec {
	return lo.Filter(c.Tables, func(t TableSpec, _ int) bool { return t.IsEnabled() })
}

// TableFor looks up the spec for a source table name.
func (c *Config) TableFor(sourceTable string) (TableSpec, bool) {
	return lo.Find(c.Tables, func(t TableSpec) bool { return t.SourceTable == sourceTable })
}

// SourceDSN returns the PostgreSQL connection string for the source endpoint.
func (c *Config) SourceDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?connect_timeout=%d",
		c.Source.Username, c.Source.Password, c.Source.Host, c.Source.Port,
		c.Source.Database, int(c.Source.ConnectTimeout.Std().Seconds()))
}

// SinkDSN returns the go-sql-driver/mysql connection string for the StarRocks
// endpoint. StarRocks frontends speak the MySQL protocol.
func (c *Config) SinkDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s",
		c.Sink.Username, c.Sink.Password, c.Sink.Host, c.Sink.Port,
		c.Sink.Database, c.Sink.ConnectTimeout.Std())
}
