// Package main implements rtsp-source, Stage A of the re-transport
// pipeline: a passive RTSP server that publishes one video source (a
// file acting as a simulated camera, or a live RTSP feed) to a single
// shared on-demand mount point.
//
// Usage:
//
//	rtsp-source [options]
//
// Options:
//
//	--video-path=PATH    Source video file (required unless set via config/env)
//	--rtsp-port=PORT     RTSP port to bind (default: 8554)
//	--mount-point=PATH   RTSP mount point (default: /cam1)
//	--metrics-port=PORT  Metrics HTTP port (default: 9001)
//	--config=PATH        Optional YAML config file
//	--log-file=PATH      Optional rotating log file (in addition to stderr)
//	--verbose            Enable debug logging
//
// Stage A never reconnects on its own: client connect/disconnect is
// handled entirely by the shared on-demand RTSP factory. It exits 0 on a
// clean shutdown, 2 on a configuration error, 1 on any other failure.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/videobridge/retransport/internal/config"
	"github.com/videobridge/retransport/internal/domain"
	"github.com/videobridge/retransport/internal/lock"
	"github.com/videobridge/retransport/internal/logging"
	"github.com/videobridge/retransport/internal/mediamtx"
	"github.com/videobridge/retransport/internal/mediaruntime"
	"github.com/videobridge/retransport/internal/metrics"
	"github.com/videobridge/retransport/internal/streaming"
	"github.com/videobridge/retransport/internal/supervisor"
)

const exitConfigError = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadSource(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		rotating, err := logging.NewRotatingWriter(cfg.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open log file:", err)
			return 1
		}
		defer func() { _ = rotating.Close() }()
		logOut = io.MultiWriter(os.Stderr, rotating)
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: logLevel}))

	if err := os.MkdirAll(cfg.LockDir, 0o750); err != nil {
		logger.Error("failed to create lock directory", "dir", cfg.LockDir, "error", err)
		return 1
	}
	fileLock, err := lock.NewFileLock(lock.SourceLockPath(cfg.LockDir, cfg.Server))
	if err != nil {
		logger.Error("failed to initialize lock", "error", err)
		return 1
	}
	if err := fileLock.Acquire(5 * time.Second); err != nil {
		logger.Error("another rtsp-source instance holds this port's lock", "port", cfg.Server.Port(), "error", err)
		return exitConfigError
	}
	defer func() { _ = fileLock.Release() }()

	mtxClient := mediamtx.NewClient(cfg.MediaMTXURL)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := mtxClient.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Error("MediaMTX distributor unreachable at startup", "url", cfg.MediaMTXURL, "error", err)
		return exitConfigError
	}
	pingCancel()

	registry := metrics.NewRegistry()
	registry.SetMediaMTXClient(mtxClient)
	runtime := mediaruntime.NewGStreamerRuntime()
	service := streaming.New(runtime, logger)

	sup := supervisor.New("rtsp-source")
	sup.Add(&streamingService{service: service, stream: cfg.Stream, server: cfg.Server, logger: logger})
	sup.Add(&metricsService{registry: registry, addr: cfg.MetricsAddr, logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rtsp-source",
		"source", cfg.Stream.Source(), "rtsp-port", cfg.Server.Port(),
		"mount-point", cfg.Server.MountPoint(), "metrics-addr", cfg.MetricsAddr)

	if err := sup.Serve(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// streamingService adapts streaming.Service to supervisor.Service: Run
// starts the shared RTSP factory and blocks until ctx is cancelled, then
// stops it.
type streamingService struct {
	service *streaming.Service
	stream  domain.StreamConfig
	server  domain.ServerConfig
	logger  *slog.Logger
}

func (s *streamingService) Name() string { return "source" }

func (s *streamingService) Run(ctx context.Context) error {
	if _, err := s.service.Start(ctx, s.stream, s.server); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), streaming.DefaultStopTimeout+time.Second)
	defer cancel()
	if err := s.service.Stop(stopCtx); err != nil {
		s.logger.Error("error stopping stream", "error", err)
		return err
	}
	return nil
}

// metricsService adapts the metrics HTTP endpoint to supervisor.Service.
type metricsService struct {
	registry *metrics.Registry
	addr     string
	logger   *slog.Logger
}

func (m *metricsService) Name() string { return "metrics" }

func (m *metricsService) Run(ctx context.Context) error {
	ready := make(chan struct{})
	go func() {
		<-ready
		m.logger.Info("metrics endpoint listening", "addr", m.addr)
	}()
	return metrics.ListenAndServeReady(ctx, m.addr, m.registry.Mux(), ready)
}
