package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huaweiacademyifce/translation-vr/internal/config"
	"github.com/huaweiacademyifce/translation-vr/internal/metrics"
	"github.com/huaweiacademyifce/translation-vr/internal/prefs"
	"github.com/huaweiacademyifce/translation-vr/internal/server"
	"github.com/huaweiacademyifce/translation-vr/internal/session"
	"github.com/huaweiacademyifce/translation-vr/internal/speech"
	"github.com/huaweiacademyifce/translation-vr/internal/subtitle"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "translation-vr"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("control_port", cfg.Control.Port),
		slog.Int("chunk_ms", cfg.Audio.ChunkMs),
		slog.Int("capture_rate", cfg.Audio.CaptureRate),
		slog.Int("target_rate", cfg.Audio.TargetRate),
		slog.String("speech_endpoint", cfg.Speech.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Preference registry shared by the control channel and the orchestrator
	registry := prefs.NewRegistry(logger)

	// Control server first: the caption router delivers through it
	controlServer := server.NewControlServer(&cfg.Control, registry, appMetrics, logger)

	// Caption router fans recognized text out to listeners
	captionRouter := subtitle.NewRouter(registry, controlServer, appMetrics, logger)

	// Speech recognition capability
	speechFactory, err := speech.NewWSFactory(speech.Config{
		Endpoint:    cfg.Speech.Endpoint,
		APIKey:      cfg.Speech.APIKey,
		SampleRate:  cfg.Audio.TargetRate,
		DialTimeout: cfg.Speech.GetDialTimeoutDuration(),
		StopTimeout: cfg.Speech.GetStopTimeoutDuration(),
		EventBuffer: cfg.Speech.EventBuffer,
	}, logger)
	if err != nil {
		logger.Error("Failed to create speech factory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session orchestrator ties it all together
	orchestrator := session.NewOrchestrator(session.Config{
		Registry:    registry,
		Factory:     speechFactory,
		Sink:        captionRouter,
		Metrics:     appMetrics,
		StopTimeout: cfg.Speech.GetStopTimeoutDuration(),
	}, logger)
	registry.OnChange(orchestrator.PreferencesChanged)
	controlServer.BindOrchestrator(orchestrator)
	logger.Info("Session orchestrator initialized",
		slog.Duration("stop_timeout", cfg.Speech.GetStopTimeoutDuration()),
	)

	// Initialize UDP server
	udpServer := server.NewUDPServer(&cfg.Server, logger, orchestrator, appMetrics)
	logger.Info("UDP server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg,
			registry, orchestrator, udpServer, controlServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start control server
	if err := controlServer.Start(); err != nil {
		logger.Error("Failed to start control server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start UDP server
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
		slog.String("control_address", fmt.Sprintf("%s:%d", cfg.Control.Address, cfg.Control.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop control server (close client connections)
	controlCtx, controlCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer controlCancel()
	if err := controlServer.Stop(controlCtx); err != nil {
		logger.Error("Error stopping control server", slog.String("error", err.Error()))
	}

	// Stop UDP server (stop accepting new packets)
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Stop orchestrator (tear down live translation sessions)
	orchestrator.Stop()

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
