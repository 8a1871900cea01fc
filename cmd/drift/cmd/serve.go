package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftserve/drift/internal/admission"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/database"
	"github.com/driftserve/drift/internal/database/migrations"
	"github.com/driftserve/drift/internal/health"
	internalhttp "github.com/driftserve/drift/internal/http"
	"github.com/driftserve/drift/internal/http/handlers"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
	"github.com/driftserve/drift/internal/repository"
	"github.com/driftserve/drift/internal/service"
	"github.com/driftserve/drift/internal/session"
	"github.com/driftserve/drift/internal/version"
)

// decaySweepInterval is how often the health tracker applies failure
// decay to records nobody has touched.
const decaySweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the drift server",
	Long: `Start the drift HTTP server and API.

The server provides:
- REST API for playback sessions, media health, and client detection rules
- HLS and byte-range stream delivery under /stream
- Health check endpoint at /healthz
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("transcode-dir", "", "Transcode scratch directory (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Kill transcoders left over from a previous run before anything here
	// spawns its own, then clear their scratch directories.
	supervisor := session.NewSupervisor(cfg.Disk.TranscodeDir, logger)
	if err := supervisor.CleanupOrphans(context.Background()); err != nil {
		observability.WithError(logger, err).Warn("orphan cleanup incomplete")
	}

	profileRepo := repository.NewMediaProfileRepository(db.DB)
	healthRepo := repository.NewMediaHealthRepository(db.DB)
	ruleRepo := repository.NewClientRuleRepository(db.DB)

	prober := probe.NewProber(cfg.Probe, logger)
	profiles := service.NewProfileService(cfg.Probe, prober, profileRepo, logger)
	clients := service.NewClientService(ruleRepo, logger)
	engine := planner.NewEngine(cfg.Encoder, logger)
	tracker := health.NewTracker(cfg.Health, healthRepo, logger)
	admitter := admission.NewController(cfg.Admission, cfg.Disk, logger)
	spawner := session.NewFFmpegSpawner(cfg.Encoder.FFmpegPath, logger)

	manager := session.NewManager(cfg.Session, cfg.Disk, session.ManagerDeps{
		Profiles: profiles,
		Clients:  clients,
		Engine:   engine,
		Health:   tracker,
		Admitter: admitter,
		Spawner:  spawner,
	}, logger)

	if err := admitter.Start(); err != nil {
		return fmt.Errorf("starting admission controller: %w", err)
	}
	defer admitter.Stop()

	if err := tracker.StartDecaySweep(decaySweepInterval); err != nil {
		return fmt.Errorf("starting health decay sweep: %w", err)
	}
	defer tracker.StopDecaySweep()

	if err := profiles.StartJanitor(); err != nil {
		return fmt.Errorf("starting profile janitor: %w", err)
	}
	defer profiles.StopJanitor()

	if err := manager.StartReaper(); err != nil {
		return fmt.Errorf("starting session reaper: %w", err)
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewSessionsHandler(manager).Register(server.API())
	handlers.NewMediaHealthHandler(tracker).Register(server.API())
	handlers.NewClientRulesHandler(clients).Register(server.API())
	handlers.NewStreamHandler(manager, logger).Register(server.Router())
	handlers.NewSystemHandler().Register(server.Router())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting drift",
		slog.String("version", version.Short()),
		slog.String("address", cfg.Server.Address()),
	)

	serveErr := server.ListenAndServe(ctx)

	// Stop every live session before the process exits so no transcoder
	// outlives its supervisor.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	return nil
}

// applyServeFlags overrides loaded config with explicitly-set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("transcode-dir") {
		cfg.Disk.TranscodeDir, _ = cmd.Flags().GetString("transcode-dir")
	}
}

// buildLogger derives the runtime logger from config, honoring explicit
// --log-level / --log-format overrides.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Level == "warning" {
		cfg.Level = "warn"
	}
	return observability.NewLoggerWithWriter(cfg, os.Stderr)
}
