package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/database/migrations"
	"github.com/jmylchreest/vodarr/internal/engine"
	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/janitor"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/stream"
	"github.com/jmylchreest/vodarr/internal/telemetry"
	"github.com/jmylchreest/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr HTTP server and API.

The server provides:
- REST API for starting, inspecting and stopping conversion sessions
- Progressive media streaming of running and finished conversions
- Conversion record queries and statistics
- Health check and Prometheus metrics endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database-dsn", "vodarr.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for session workspaces and outputs")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	// Initialize database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// Run migrations
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(cmd.Context()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	recordRepo := repository.NewConversionRecordRepository(db.DB)

	// Transcode engine and prober. Detection is advisory at startup; the
	// server still comes up without ffmpeg, conversions just fail until
	// the binaries appear.
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	if info, derr := eng.Detect(cmd.Context()); derr != nil {
		logger.Warn("ffmpeg not detected; conversions will fail until it is available",
			slog.Any("error", derr))
	} else {
		logger.Info("detected ffmpeg",
			slog.String("version", info.Version),
			slog.String("path", info.FFmpegPath))
	}
	prober := engine.NewProber(eng.Detector(), cfg.Engine, logger)

	// Telemetry
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	streamMetrics, err := telemetry.NewStreamMetrics(metrics.Registry())
	if err != nil {
		return fmt.Errorf("initializing stream metrics: %w", err)
	}

	// Conversion session manager
	manager := stream.NewManager(stream.ManagerConfig{
		Stream:    cfg.Stream,
		OutputDir: cfg.Storage.OutputPath(),
		Engine:    eng,
		Prober:    prober,
		Recorder:  recordRepo,
		Metrics:   streamMetrics,
		Logger:    logger,
	})

	// Janitor sweeps stale workspaces, outputs and records
	jan := janitor.New(cfg.Janitor, cfg.Storage.WorkPath(), cfg.Storage.OutputPath()).
		WithLogger(logger).
		WithSessions(manager).
		WithRecords(recordRepo)
	if cfg.Janitor.Enabled {
		if err := jan.Start(); err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		defer jan.Stop()
	}

	// Initialize HTTP server
	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB).WithManager(manager)
	healthHandler.Register(server.API())

	conversionHandler := handlers.NewConversionHandler(manager, recordRepo).WithLogger(logger)
	conversionHandler.Register(server.API())

	recordHandler := handlers.NewRecordHandler(recordRepo)
	recordHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(manager).WithLogger(logger)
	streamHandler.Register(server.API())
	streamHandler.RegisterChiRoutes(server.Router())

	// Prometheus metrics endpoint
	server.Router().Handle("/metrics", metrics.Handler())

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start server
	logger.Info("starting vodarr server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Drain conversion sessions before releasing the database; the
	// manager cancels running sessions and waits for their records.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer closeCancel()
	if err := manager.Close(closeCtx); err != nil {
		logger.Warn("closing session manager", slog.Any("error", err))
	}

	return serveErr
}
