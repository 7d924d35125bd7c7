package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datarift/datarift/pkg/config"
)

func testSpec() config.TableSpec {
	return config.TableSpec{
		SourceTable: "orders",
		TargetTable: "orders_rt",
		PrimaryKey:  "id",
		Columns:     []string{"id", "user_id", "quantity", "price", "status", "created_at"},
	}
}

func TestColumnTypeHeuristic(t *testing.T) {
	tests := []struct {
		column string
		pk     string
		want   string
	}{
		{column: "id", pk: "id", want: "BIGINT PRIMARY KEY NOT ENFORCED"},
		{column: "user_id", pk: "id", want: "BIGINT"},
		{column: "quantity", pk: "id", want: "DECIMAL(10,2)"},
		{column: "price", pk: "id", want: "DECIMAL(10,2)"},
		{column: "created_at", pk: "id", want: "TIMESTAMP(3)"},
		{column: "updated_at", pk: "id", want: "TIMESTAMP(3)"},
		{column: "status", pk: "id", want: "STRING"},
		// The primary key rule wins over the name rules.
		{column: "created_at", pk: "created_at", want: "BIGINT PRIMARY KEY NOT ENFORCED"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, columnType(tt.column, tt.pk), "column %s", tt.column)
	}
}

func TestBuildSourceDDL(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Host = "pg.internal"
	cfg.Source.Schema = "public"

	ddl := BuildSourceDDL(&cfg, testSpec())

	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE postgres_orders ("))
	assert.Contains(t, ddl, "'connector' = 'postgres-cdc'")
	assert.Contains(t, ddl, "'hostname' = 'pg.internal'")
	assert.Contains(t, ddl, "'table-name' = 'orders'")
	assert.Contains(t, ddl, "'decoding.plugin.name' = 'pgoutput'")
	assert.Contains(t, ddl, "'slot.name' = 'flink_slot_orders'")
	assert.Contains(t, ddl, "'publication.name' = 'flink_publication_orders'")
	assert.Contains(t, ddl, "'scan.incremental.snapshot.enabled' = 'true'")
	assert.Contains(t, ddl, "'scan.incremental.snapshot.chunk.size' = '8192'")
	assert.Contains(t, ddl, "'scan.startup.mode' = 'initial'")
	assert.Contains(t, ddl, "id BIGINT PRIMARY KEY NOT ENFORCED")
	assert.Contains(t, ddl, "price DECIMAL(10,2)")
	assert.Contains(t, ddl, "status STRING")
}

func TestBuildSinkDDL(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Host = "sr.internal"
	cfg.Sink.Port = 8030

	ddl := BuildSinkDDL(&cfg, testSpec())

	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE starrocks_orders_rt ("))
	assert.Contains(t, ddl, "'connector' = 'starrocks'")
	assert.Contains(t, ddl, "'jdbc-url' = 'jdbc:mysql://sr.internal:8030/production_db'")
	assert.Contains(t, ddl, "'load-url' = 'sr.internal:8030'")
	assert.Contains(t, ddl, "'table-name' = 'orders_rt'")
	assert.Contains(t, ddl, "'sink.properties.format' = 'json'")
	assert.Contains(t, ddl, "'sink.buffer-flush.max-rows' = '1000'")
	assert.Contains(t, ddl, "'sink.buffer-flush.interval' = '10000'")
	assert.Contains(t, ddl, "'sink.max-retries' = '3'")
}

func TestBuildSyncQuery(t *testing.T) {
	q := BuildSyncQuery(testSpec())
	assert.Equal(t, "INSERT INTO starrocks_orders_rt\nSELECT * FROM postgres_orders", q)
}

// fakeGateway emulates the SQL gateway session/statement/operation flow.
type fakeGateway struct {
	mux        *http.ServeMux
	sessions   atomic.Int64
	statements atomic.Int64

	// failFirst makes the first statement submission return HTTP 500.
	failFirst bool
	failed    atomic.Bool
}

// requireMethod emulates the method-specific mux patterns of Go 1.22+
// ("POST /v1/sessions") on the Go 1.21 ServeMux.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func newFakeGateway(failFirst bool) *fakeGateway {
	g := &fakeGateway{mux: http.NewServeMux(), failFirst: failFirst}

	g.mux.HandleFunc("/v1/sessions", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		g.sessions.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"sessionHandle": "sess-1"})
	}))
	g.mux.HandleFunc("/v1/sessions/sess-1/statements", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		if g.failFirst && g.failed.CompareAndSwap(false, true) {
			http.Error(w, "gateway hiccup", http.StatusInternalServerError)
			return
		}
		g.statements.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"operationHandle": "op-1"})
	}))
	g.mux.HandleFunc("/v1/sessions/sess-1/operations/op-1/status", requireMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "FINISHED"})
	}))
	g.mux.HandleFunc("/v1/sessions/sess-1", requireMethod(http.MethodDelete, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return g
}

func testEngineConfig(endpoint string) config.EngineConfig {
	cfg := config.Default().Engine
	cfg.Endpoint = endpoint
	cfg.RestartDelay = config.Duration(time.Millisecond)
	cfg.RestartMaxDelay = config.Duration(10 * time.Millisecond)
	return cfg
}

func TestFlinkClientExecuteStatement(t *testing.T) {
	gw := newFakeGateway(false)
	srv := httptest.NewServer(gw.mux)
	defer srv.Close()

	client := NewFlinkClient(testEngineConfig(srv.URL))
	require.NoError(t, client.ExecuteStatement(context.Background(), "SELECT 1"))
	require.NoError(t, client.ExecuteStatement(context.Background(), "SELECT 2"))

	// The session is opened once and reused.
	assert.Equal(t, int64(1), gw.sessions.Load())
	assert.Equal(t, int64(2), gw.statements.Load())

	require.NoError(t, client.Close(context.Background()))
}

func TestFlinkClientRetriesTransientFailure(t *testing.T) {
	gw := newFakeGateway(true)
	srv := httptest.NewServer(gw.mux)
	defer srv.Close()

	client := NewFlinkClient(testEngineConfig(srv.URL))
	require.NoError(t, client.ExecuteStatement(context.Background(), "SELECT 1"))
	assert.Equal(t, int64(1), gw.statements.Load())
}

func TestFlinkClientReportsOperationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionHandle": "sess-1"})
	}))
	mux.HandleFunc("/v1/sessions/sess-1/statements", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"operationHandle": "op-1"})
	}))
	mux.HandleFunc("/v1/sessions/sess-1/operations/op-1/status", requireMethod(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ERROR"})
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testEngineConfig(srv.URL)
	cfg.RestartAttempts = 1

	client := NewFlinkClient(cfg)
	err := client.ExecuteStatement(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR")
}

func TestSessionProperties(t *testing.T) {
	props := sessionProperties(config.Default().Engine)

	assert.Equal(t, "4", props["parallelism.default"])
	assert.Equal(t, "60000ms", props["execution.checkpointing.interval"])
	assert.Equal(t, "EXACTLY_ONCE", props["execution.checkpointing.mode"])
	assert.Equal(t, "exponential-delay", props["restart-strategy.type"])
	assert.Equal(t, "2", props["restart-strategy.exponential-delay.backoff-multiplier"])
}
