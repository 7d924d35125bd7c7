/*
Package config loads and validates the synchronization configuration.

Configuration is resolved in three layers: documented defaults, the structured
YAML file (path from the --config flag or CONFIG_PATH), and, when no file
exists, a flat environment-variable mapping whose names mirror the file fields
(POSTGRES_HOST, STARROCKS_BUFFER_ROWS, SYNC_TABLES, ...). The file and the
environment overlay onto the defaults, so absent fields keep documented
values.

The loaded Config is immutable: it is parsed once at startup, validated, and
handed to every component. Validation collects every violation instead of
failing on the first, and the caller aborts before binding any listener when
violations exist.
*/
package config
