package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/patrol/internal/admin"
	"github.com/goodtune/patrol/internal/config"
	"github.com/goodtune/patrol/internal/gateway"
	"github.com/goodtune/patrol/internal/metrics"
	"github.com/goodtune/patrol/internal/presence"
	"github.com/goodtune/patrol/internal/storage"
	"github.com/goodtune/patrol/internal/storage/redis"
	"github.com/goodtune/patrol/internal/storage/sqlite"
	"github.com/goodtune/patrol/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the presence tracker",
	Long:  `Connect to the Discord gateway, recover open sessions and start timing voice presence.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Int("guilds", len(cfg.Tracking.Categories)).
		Msg("Starting Patrol")

	if len(cfg.Tracking.Categories) == 0 {
		logger.Warn().Msg("No tracked categories configured, every voice event will be ignored")
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	guilds := make([]string, 0, len(cfg.Tracking.Categories))
	for guildID := range cfg.Tracking.Categories {
		guilds = append(guilds, guildID)
	}

	gw, err := gateway.New(cfg.Discord, guilds, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	tracker := presence.NewTracker(store, gw, presence.Config{
		Categories:         cfg.Tracking.Categories,
		MinSessionDuration: config.ParseDuration(cfg.Tracking.MinSessionDuration, presence.DefaultMinSessionDuration),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics first so /health reports STARTING while the gateway connects
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, tracker.Ready(), logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	_ = systemd.NotifyStatus("Connecting to Discord")

	if err := gw.Start(ctx, tracker); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing gateway")
		}
	}()

	readyTimeout := config.ParseDuration(cfg.Discord.ReadyTimeout, 30*time.Second)
	if err := gw.WaitForGuilds(ctx, readyTimeout); err != nil {
		return fmt.Errorf("failed waiting for guilds: %w", err)
	}

	_ = systemd.NotifyStatus("Recovering sessions")

	if err := tracker.Bootstrap(ctx, gw); err != nil {
		// The tracker is released even when recovery fails.
		logger.Error().Err(err).Msg("Session recovery completed with errors")
	}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(admin.Config{
			ListenAddr: fmt.Sprintf("%s:%d", cfg.Admin.BindAddress, cfg.Admin.Port),
			Token:      cfg.Admin.Token,
			RateLimit:  cfg.Admin.RateLimit,
		}, tracker, logger)
		if sdListeners.Admin != nil {
			adminServer.SetListener(sdListeners.Admin)
		}
		if cfg.Admin.Token == "" {
			logger.Warn().Msg("Admin API has no token configured, requests are not authenticated")
		}
		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("failed to start Admin Server: %w", err)
		}
	}

	logger.Info().Msg("Patrol startup complete")
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	_ = systemd.NotifyStatus(fmt.Sprintf("Tracking %d guild(s)", len(guilds)))

	watchdog := systemd.WatchdogInterval(config.ParseDuration(cfg.Server.Watchdog, 0))
	if watchdog > 0 {
		go systemd.RunWatchdog(ctx, watchdog, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Open sessions stay in storage and are recovered on the next start.
	cancel()

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Admin Server")
		}
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Patrol stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "redis":
		return redis.Open(cfg.Redis)
	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
