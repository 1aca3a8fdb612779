package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"textgen/app/config"
	"textgen/app/usecase"
	"textgen/internal/domain/repository"
	"textgen/internal/infrastructure/llm"
	"textgen/internal/infrastructure/logging"
	"textgen/internal/infrastructure/metrics"
	"textgen/internal/infrastructure/telemetry"
	"textgen/internal/infrastructure/transport"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to an HCL config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("textgen", Version)
		return
	}

	// load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// logger
	logger, logCloser := logging.New(cfg.Log)
	defer func() {
		_ = logCloser.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Error("telemetry init failed", "err", err)
		os.Exit(1)
	}

	// Generator. The server does not listen until it is loaded.
	generator, err := llm.New(cfg.Generator, logger)
	if err != nil {
		logger.Error("generator init failed", "err", err)
		os.Exit(1)
	}

	logger.Info("loading generator", "backend", generator.Name(), "model", cfg.Generator.Model)
	if loader, ok := generator.(repository.Loader); ok {
		loadCtx, loadCancel := context.WithTimeout(ctx, cfg.Generator.LoadTimeout)
		err := loader.Load(loadCtx)
		loadCancel()
		if err != nil {
			logger.Error("generator load failed", "backend", generator.Name(), "err", err)
			os.Exit(1)
		}
	}
	logger.Info("generator loaded", "backend", generator.Name())

	// Usecases / services
	generationSvc := usecase.NewGenerationService(
		generator,
		usecase.GenerationOptions{
			MaxAllowedLength: cfg.Inference.MaxAllowedLength,
			MaxConcurrent:    cfg.Inference.MaxConcurrent,
			Timeout:          cfg.Inference.Timeout,
		},
		logger.With("component", "generation"),
	)

	// Transport (HTTP handlers)
	handler := transport.NewGenerationHandler(
		generationSvc,
		transport.HandlerOptions{
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			RateLimit:      cfg.RateLimit,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		},
		logger.With("component", "http"),
	)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      transport.NewRouter(handler, cfg.CORS.AllowedOrigins, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			logger.Info("starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.StartMetricsServer(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			cancel()
		}
	}()

	// OS signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	// Shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	cancel()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "err", err)
	}

	logger.Info("service stopped")
}
