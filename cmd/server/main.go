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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/lipsync-audio-service/internal/config"
	"github.com/skypro1111/lipsync-audio-service/internal/lipsync"
	"github.com/skypro1111/lipsync-audio-service/internal/logging"
	"github.com/skypro1111/lipsync-audio-service/internal/metrics"
	"github.com/skypro1111/lipsync-audio-service/internal/profile"
	"github.com/skypro1111/lipsync-audio-service/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "lipsync-audio-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logFile, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v, falling back to stdout\n", err)
		logger = logging.NewWriter(os.Stdout, cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	} else {
		defer logFile.Close()
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_streams", cfg.Server.MaxConcurrentStreams),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_duration_ms", cfg.Analysis.FrameDurationMs),
		slog.Int("tick_rate", cfg.Analysis.TickRate),
		slog.Float64("min_volume", float64(cfg.Analysis.MinVolume)),
		slog.Float64("max_distance", float64(cfg.Analysis.MaxDistance)),
		slog.String("profile_path", cfg.Profile.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	vowelProfile, loaded, err := profile.LoadOrNew(cfg.Profile.Path, cfg.Profile.Name)
	if err != nil {
		logger.Error("Failed to load profile", slog.String("error", err.Error()))
		os.Exit(1)
	}
	calibrated := 0
	for _, v := range profile.Vowels() {
		if vowelProfile.Calibrated(v) {
			calibrated++
		}
	}
	logger.Info("Profile ready",
		slog.String("name", vowelProfile.Name),
		slog.Bool("loaded_from_disk", loaded),
		slog.Int("calibrated_vowels", calibrated),
	)

	mgr, err := lipsync.NewManager(logger, vowelProfile, cfg.ManagerConfig(), appMetrics)
	if err != nil {
		logger.Error("Failed to create analyzer manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Analyzer manager initialized",
		slog.Duration("stream_timeout", cfg.Audio.GetStreamTimeoutDuration()),
		slog.Duration("frame_duration", cfg.Analysis.GetFrameDuration()),
	)

	udpServer := server.NewUDPServer(&cfg.Server, cfg.Audio.SampleRate, logger, mgr, appMetrics)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		hub := server.NewResultHub(logger, appMetrics)
		httpServer = server.NewHTTPServer(logger, cfg, mgr, udpServer, hub, appMetrics, prometheus.DefaultGatherer)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		mgr.Stop()
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			udpServer.Stop()
			mgr.Stop()
			os.Exit(1)
		}
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Stop accepting requests first, then packets, then analysis
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()

	// Saves the profile when save_on_exit is set
	mgr.Stop()

	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("packets_lost", stats.PacketsLost),
		slog.Uint64("packets_late", stats.PacketsLate),
	)

	logger.Info("Service stopped")
}
