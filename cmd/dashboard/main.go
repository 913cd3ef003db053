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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"strzcam.com/dashboard/broadcast"
	"strzcam.com/dashboard/capture"
	"strzcam.com/dashboard/config"
	"strzcam.com/dashboard/frame"
	"strzcam.com/dashboard/metrics"
	"strzcam.com/dashboard/server"
	"strzcam.com/dashboard/stats"
	"strzcam.com/dashboard/stream"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opener := capture.NewDeviceOpener(capture.DeviceOptions{
		ShmDir:     cfg.Camera.ShmDir,
		ShmPrefix:  cfg.Camera.ShmPrefix,
		StaleAfter: cfg.Camera.StaleAfter,
	}, logger)
	manager := capture.NewManager(cfg.Camera.IDs, opener, logger)
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Errorw("camera shutdown failed", "error", err)
		}
	}()
	if err := manager.Initialize(ctx); err != nil {
		logger.Errorw("camera initialization failed", "error", err)
	}
	m.SetCameraLive(manager.IsLive())

	cell := stats.NewCell(stats.NewState(time.Now()))
	if _, err := cell.Update(func(s *stats.State) { s.CameraActive = manager.IsLive() }); err != nil {
		logger.Warnw("failed to set initial camera state", "error", err)
	}

	synth := frame.NewSynthesizer(cfg.Stream.Width, cfg.Stream.Height, cfg.Stream.MaxRects, nil)
	pipeline := stream.NewPipeline(manager, synth, stream.JPEGEncoder(cfg.Stream.JPEGQuality), stream.Options{
		Interval:       cfg.Stream.FrameInterval,
		ErrorBackoff:   cfg.Stream.ErrorBackoff,
		CaptureTimeout: cfg.Camera.CaptureTimeout,
		Flags:          frame.DefaultFlags(),
	}, logger, m)

	hub := broadcast.NewHub(cell, broadcast.Options{
		Interval:     cfg.Stats.Interval,
		WriteTimeout: cfg.Stats.WriteTimeout,
		QueueSize:    cfg.Stats.QueueSize,
	}, logger, m)
	go hub.Run(ctx)

	srv := server.New(server.Options{
		StaticDir:       cfg.Media.StaticDir,
		CapturesDir:     cfg.Media.CapturesDir,
		RecordingsDir:   cfg.Media.RecordingsDir,
		TemplatePath:    cfg.Media.TemplatePath,
		MaxCaptureBytes: cfg.Media.MaxCaptureBytes,
		MetricsEnabled:  cfg.Server.MetricsEnabled,
	}, manager, pipeline, hub, cell, m, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// no WriteTimeout: /video_feed is an endless response
	}
	httpServer.RegisterOnShutdown(hub.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("server listening", "addr", httpServer.Addr, "camera_live", manager.IsLive())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Errorw("server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
		if closeErr := httpServer.Close(); closeErr != nil {
			logger.Errorw("forced close failed", "error", closeErr)
		}
	}
	return nil
}
