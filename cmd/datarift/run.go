package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/datarift/datarift/pkg/config"
	"github.com/datarift/datarift/pkg/engine"
	"github.com/datarift/datarift/pkg/faults"
	"github.com/datarift/datarift/pkg/health"
	"github.com/datarift/datarift/pkg/log"
	"github.com/datarift/datarift/pkg/metrics"
	"github.com/datarift/datarift/pkg/orchestrator"
	"github.com/datarift/datarift/pkg/retry"
)

const shutdownGrace = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization service",
	Long: `Run loads the configuration, starts a sync job for every enabled
table, and serves metrics and health endpoints until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runService(configPath)
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to the configuration file")
}

func runService(configPath string) error {
	// Configuration errors abort before any listener binds.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSONOutput,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Int("tables", len(cfg.EnabledTables())).
		Msg("starting datarift")

	// Database handles for the health probes. Both connect lazily.
	pool, err := pgxpool.New(context.Background(), cfg.SourceDSN())
	if err != nil {
		return fmt.Errorf("source pool: %w", err)
	}
	defer pool.Close()

	sinkDB, err := sql.Open("mysql", cfg.SinkDSN())
	if err != nil {
		return fmt.Errorf("sink handle: %w", err)
	}
	defer sinkDB.Close()

	// Metrics.
	registry := metrics.NewRegistry(cfg.Monitoring.MetricsCollectionInterval.Std())
	registry.Start()
	defer registry.Stop()

	// Fault pipeline: handler classifies, scheduler retries or dead-letters.
	handler := faults.NewHandler(cfg.ErrorHandling)
	scheduler := retry.NewScheduler(cfg.ErrorHandling)
	handler.SetRouter(scheduler)
	scheduler.SetFailureHandler(handler)

	// Orchestrator over the stream engine.
	eng := engine.NewFlinkClient(cfg.Engine)
	orch := orchestrator.New(cfg, eng, registry, handler)
	scheduler.SetHook(orch.RetryHook)
	scheduler.OnDeadLetter(orch.MarkDeadLettered)

	// Health monitoring.
	monitor := health.NewMonitor(
		cfg.Monitoring.JobCheckInterval.Std(),
		health.NewPostgresProber(pool, cfg.Source),
		health.NewStarRocksProber(sinkDB, cfg.Sink),
		health.NewEngineProber(cfg.Engine.Endpoint),
		health.NewJobsProber(registry),
		health.NewSystemProber(),
	)
	monitor.Start()
	defer monitor.Stop()

	errCh := make(chan error, 2)

	var metricsServer *metrics.Server
	var healthServer *health.Server
	if cfg.Monitoring.Enabled {
		metricsServer = metrics.NewServer(registry)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort)
			if err := metricsServer.Start(addr); err != nil {
				errCh <- err
			}
		}()

		healthServer = health.NewServer(monitor, registry)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthCheckPort)
			if err := healthServer.Start(addr); err != nil {
				errCh <- err
			}
		}()
	}

	if err := orch.Start(context.Background()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	orch.Stop(shutdownCtx)
	scheduler.Shutdown(shutdownGrace)
	if healthServer != nil {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("health server shutdown")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown")
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
