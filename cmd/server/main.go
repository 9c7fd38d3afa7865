package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mescon/hydrarr/internal/api"
	"github.com/mescon/hydrarr/internal/arr"
	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/media"
	"github.com/mescon/hydrarr/internal/metrics"
	"github.com/mescon/hydrarr/internal/notifier"
	"github.com/mescon/hydrarr/internal/qbit"
	"github.com/mescon/hydrarr/internal/services"
)

func main() {
	// Define command line flags (these override environment variables)
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")

	// Configuration flags - all can also be set via environment variables (HYDRARR_*)
	flagPort := flag.String("port", "", "HTTP server port (env: HYDRARR_PORT, default: 3000)")
	flagLogLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (env: HYDRARR_LOG_LEVEL, default: info)")
	flagLogDir := flag.String("log-dir", "", "Log file directory (env: HYDRARR_LOG_DIR)")
	flagUpstreamTimeout := flag.Duration("upstream-timeout", 0, "Per-request timeout for upstream calls (env: HYDRARR_UPSTREAM_TIMEOUT, default: 10s)")
	flagHealthSchedule := flag.String("health-check-schedule", "", "Cron schedule for the health monitor (env: HYDRARR_HEALTH_CHECK_SCHEDULE, default: @every 1m)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Hydrarr %s\n", config.Version)
		os.Exit(0)
	}

	// Load configuration from environment variables
	cfg := config.Load()

	// Apply command-line flag overrides
	cfg.ApplyFlags(config.FlagOverrides{
		Port:                flagPort,
		LogLevel:            flagLogLevel,
		LogDir:              flagLogDir,
		UpstreamTimeout:     flagUpstreamTimeout,
		HealthCheckSchedule: flagHealthSchedule,
	})

	// Initialize logger with configured log directory and level
	log := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Dir:        cfg.LogDir,
		BufferSize: cfg.LogBufferSize,
	})

	log.Infof("========================================")
	log.Infof("Starting Hydrarr %s...", config.Version)
	log.Infof("Unified dashboard for *arr managers and qBittorrent")
	log.Infof("========================================")

	log.Infof("Configuration:")
	log.Infof("  Port: %s", cfg.Port)
	log.Infof("  Log Level: %s", cfg.LogLevel)
	log.Infof("  Log Directory: %s", cfg.LogDir)
	log.Infof("  Upstream Timeout: %s", cfg.UpstreamTimeout)
	configured := cfg.ConfiguredServices()
	if len(configured) == 0 {
		log.Warnf("  Services: none configured (set <SERVICE>_URL and <SERVICE>_API_KEY)")
	} else {
		log.Infof("  Services: %v", configured)
	}
	if cfg.QBittorrent.Configured() {
		log.Infof("  qBittorrent: %s", cfg.QBittorrent.URL)
	} else {
		log.Infof("  qBittorrent: not configured")
	}
	if cfg.HealthCheckSchedule != "" {
		log.Infof("  Health Check Schedule: %s", cfg.HealthCheckSchedule)
	} else {
		log.Infof("  Health Check Schedule: disabled")
	}
	if len(cfg.NotifyURLs) > 0 {
		log.Infof("  Notifications: %d shoutrrr target(s)", len(cfg.NotifyURLs))
	}

	// Initialize Metrics Service (Prometheus metrics)
	m := metrics.New()
	log.Infof("✓ Metrics Service (Prometheus endpoint at /metrics)")

	// Upstream clients
	arrClient := arr.NewClient(cfg, log, m)
	log.Infof("✓ *arr Client initialized (%d configured service(s))", len(configured))

	qbitClient := qbit.NewClient(cfg, log, m)
	log.Infof("✓ qBittorrent Client initialized")

	// Reconciliation engine joins manager libraries with live torrents
	engine := media.NewEngine(cfg, log, arrClient, qbitClient)
	log.Infof("✓ Media Engine initialized")

	// Notifier for service up/down transitions
	notify := notifier.New(cfg, log)
	if notify.Enabled() {
		log.Infof("✓ Notification Service (up/down alerts)")
	}

	// Background health monitor
	monitor := services.NewHealthMonitor(cfg, log, m, arrClient, qbitClient, notify)
	if err := monitor.Start(); err != nil {
		log.Errorf("Failed to start health monitor: %v", err)
		os.Exit(1)
	}

	// Start API Server
	log.Infof("Initializing REST API and WebSocket server...")
	apiServer := api.NewRESTServer(api.ServerDeps{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		Engine:  engine,
		Prober:  monitor,
	})
	go func() {
		addr := ":" + cfg.Port
		if err := apiServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Failed to start API server: %v", err)
			os.Exit(1)
		}
	}()

	log.Infof("========================================")
	log.Infof("✓ Hydrarr %s started successfully", config.Version)
	log.Infof("✓ Server listening on port %s", cfg.Port)
	log.Infof("========================================")

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Infof("========================================")
	log.Infof("Received signal %v, initiating graceful shutdown...", sig)
	log.Infof("========================================")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown in reverse order of startup
	log.Infof("Stopping Health Monitor...")
	monitor.Stop()
	log.Infof("✓ Health Monitor stopped")

	log.Infof("Stopping API Server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API Server shutdown error: %v", err)
	} else {
		log.Infof("✓ API Server stopped")
	}

	log.Infof("========================================")
	log.Infof("✓ Hydrarr shutdown complete")
	log.Infof("========================================")
}
