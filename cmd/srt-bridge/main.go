// Package main implements srt-bridge, Stage B of the re-transport
// pipeline: it pulls a single RTSP stream and republishes it over SRT,
// driven by a ResilienceController that reconnects with exponential
// backoff whenever the upstream RTSP source drops or the pipeline
// reports an error.
//
// Usage:
//
//	srt-bridge [options]
//
// Options:
//
//	--rtsp-url=URL            Source RTSP URL (required unless set via config/env)
//	--srt-url=URL             Destination SRT URL, including streamid and mode (required)
//	--latency-ms=MS           Jitter-buffer latency (default: 200)
//	--transport=tcp|udp       RTP transport preference (default: tcp)
//	--metrics-port=PORT       Metrics HTTP port (default: 9002)
//	--backoff-initial-ms=MS   Initial reconnect delay (default: 1000)
//	--backoff-max-ms=MS       Maximum reconnect delay (default: 30000)
//	--backoff-multiplier=F    Reconnect delay multiplier (default: 2.0)
//	--config=PATH             Optional YAML config file
//	--log-file=PATH           Optional rotating log file (in addition to stderr)
//	--verbose                 Enable debug logging
//
// It exits 0 on a clean shutdown, 2 on a configuration error, 1 on any
// other failure.
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
	"github.com/videobridge/retransport/internal/lock"
	"github.com/videobridge/retransport/internal/logging"
	"github.com/videobridge/retransport/internal/mediamtx"
	"github.com/videobridge/retransport/internal/mediaruntime"
	"github.com/videobridge/retransport/internal/metrics"
	"github.com/videobridge/retransport/internal/pipeline"
	"github.com/videobridge/retransport/internal/resilience"
	"github.com/videobridge/retransport/internal/supervisor"
)

const exitConfigError = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.LoadBridge(args)
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

	description, err := pipeline.BuildBridgeDescription(cfg.Bridge)
	if err != nil {
		logger.Error("failed to build bridge pipeline description", "error", err)
		return exitConfigError
	}

	if err := os.MkdirAll(cfg.LockDir, 0o750); err != nil {
		logger.Error("failed to create lock directory", "dir", cfg.LockDir, "error", err)
		return 1
	}
	fileLock, err := lock.NewFileLock(lock.BridgeLockPath(cfg.LockDir, cfg.Bridge))
	if err != nil {
		logger.Error("failed to initialize lock", "error", err)
		return 1
	}
	if err := fileLock.Acquire(5 * time.Second); err != nil {
		logger.Error("another srt-bridge instance holds this destination's lock", "srt-url", cfg.Bridge.SRTURL(), "error", err)
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
	if pathName, err := mediamtx.StreamPathNameFromSRTURL(cfg.Bridge.SRTURL()); err != nil {
		logger.Warn("could not derive MediaMTX path name from destination SRT URL, /health will only check distributor reachability", "error", err)
		registry.SetMediaMTXClient(mtxClient)
	} else {
		registry.SetStreamCheck(mtxClient, pathName)
	}
	runtime := mediaruntime.NewGStreamerRuntime()
	controller := resilience.New(resilience.Config{
		Runtime:     runtime,
		Description: description,
		Policy:      cfg.Backoff,
		Metrics:     registry,
		Logger:      logger,
	})

	sup := supervisor.New("srt-bridge")
	sup.Add(&bridgeService{controller: controller})
	sup.Add(&metricsService{registry: registry, addr: cfg.MetricsAddr, logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting srt-bridge",
		"rtsp-url", cfg.Bridge.RTSPURL(), "srt-url", cfg.Bridge.SRTURL(), "metrics-addr", cfg.MetricsAddr)

	if err := sup.Serve(ctx); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// bridgeService adapts resilience.Controller to supervisor.Service.
type bridgeService struct {
	controller *resilience.Controller
}

func (b *bridgeService) Name() string { return "bridge" }

func (b *bridgeService) Run(ctx context.Context) error {
	return b.controller.Run(ctx)
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
