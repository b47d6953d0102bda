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

	"github.com/skypro1111/emotion-relay-service/internal/analysis"
	"github.com/skypro1111/emotion-relay-service/internal/config"
	"github.com/skypro1111/emotion-relay-service/internal/metrics"
	"github.com/skypro1111/emotion-relay-service/internal/server"
	"github.com/skypro1111/emotion-relay-service/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "emotion-relay-service"
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
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.String("ws_path", cfg.Server.WSPath),
		slog.String("analysis_endpoint", cfg.Analysis.Endpoint),
		slog.Int("result_timeout", cfg.Analysis.ResultTimeout),
		slog.Int("buffer_max_chunks", cfg.Relay.BufferMaxChunks),
		slog.Int("retention_seconds", cfg.Relay.RetentionSeconds),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Create session manager configuration
	managerConfig := session.ManagerConfig{
		Analysis: analysis.Config{
			Endpoint:       cfg.Analysis.Endpoint,
			ConnectTimeout: cfg.Analysis.GetConnectTimeoutDuration(),
			ResultTimeout:  cfg.Analysis.GetResultTimeoutDuration(),
		},
		BufferMaxChunks:    cfg.Relay.BufferMaxChunks,
		BufferRetainChunks: cfg.Relay.BufferRetainChunks,
		Retention:          cfg.Relay.GetRetentionDuration(),
	}

	// Initialize session manager
	manager := session.NewManager(logger, appMetrics, managerConfig)
	logger.Info("Session manager initialized",
		slog.String("analysis_endpoint", cfg.Analysis.Endpoint),
		slog.Duration("result_timeout", cfg.Analysis.GetResultTimeoutDuration()),
		slog.Duration("retention", cfg.Relay.GetRetentionDuration()),
	)

	// Initialize websocket server
	wsServer := server.NewWSServer(&cfg.Server, logger, manager)
	logger.Info("Websocket server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, manager, wsServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start websocket server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start websocket server", slog.String("error", err.Error()))
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
		slog.String("ws_address", fmt.Sprintf("%s:%d%s", cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.WSPath)),
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

	// Stop websocket server (stop accepting new connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping websocket server", slog.String("error", err.Error()))
	}

	// Stop session manager (drop remaining sessions and stop background routines)
	manager.Shutdown()

	// Get final statistics
	stats := wsServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("control_frames", stats.ControlFrames),
		slog.Uint64("media_frames", stats.MediaFrames),
		slog.Uint64("media_dropped", stats.MediaDropped),
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

	// Configure handler options
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
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
