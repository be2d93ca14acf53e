package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cloudpeek/browsergrid/internal/api"
	"github.com/cloudpeek/browsergrid/internal/artifact"
	"github.com/cloudpeek/browsergrid/internal/browser"
	"github.com/cloudpeek/browsergrid/internal/command"
	"github.com/cloudpeek/browsergrid/internal/config"
	"github.com/cloudpeek/browsergrid/internal/events"
	"github.com/cloudpeek/browsergrid/internal/executor"
	"github.com/cloudpeek/browsergrid/internal/ratelimit"
	"github.com/cloudpeek/browsergrid/internal/session"
)

func main() {
	// Load .env file; absent means the system environment applies
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Global proxy misconfiguration is fatal: the process must not begin
	// accepting sessions with an invalid default.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}

	log.Info("starting browsergrid",
		zap.String("addr", cfg.Addr),
		zap.Int64("max_sessions", cfg.MaxSessions),
		zap.String("runner", cfg.Runner))

	// Browser driver: local chromium, or a containerized chrome attached
	// over CDP.
	var driver browser.Driver
	var runner *browser.DockerRunner
	var chrome *browser.ChromeInstance

	switch cfg.Runner {
	case config.RunnerDocker:
		runner, err = browser.NewDockerRunner(log)
		if err != nil {
			log.Fatal("failed to create docker runner", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := runner.EnsureImage(ctx); err != nil {
			cancel()
			log.Fatal("failed to ensure chrome image", zap.Error(err))
		}
		chrome, err = runner.Launch(ctx)
		cancel()
		if err != nil {
			log.Fatal("failed to launch chrome container", zap.Error(err))
		}
		driver, err = browser.NewCDPDriver(chrome.CDPURL, log)
	default:
		driver, err = browser.NewPlaywrightDriver(cfg.Headless, log)
	}
	if err != nil {
		log.Fatal("failed to start browser driver", zap.Error(err))
	}

	// Artifact tracker with background sweep
	tracker := artifact.NewTracker(cfg.ArtifactRetention, log)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go tracker.Run(sweepCtx, cfg.SweepInterval)

	hub := events.NewHub(log)

	registry := session.NewRegistry(session.Options{
		Driver:      driver,
		Artifacts:   tracker,
		Events:      hub,
		MaxSessions: cfg.MaxSessions,
		GlobalProxy: cfg.GlobalProxy,
		DataDir:     cfg.DataDir,
		ArtifactDir: cfg.ArtifactDir,
		Logger:      log,
	})

	dispatcher := command.NewDispatcher()
	exec := executor.New(registry, dispatcher, hub, log)

	rateLimiter := ratelimit.NewLimiter(cfg.RatePerHour, cfg.RateBurst)

	handler := api.NewHandler(registry, exec, tracker, hub, cfg.MinTTL, cfg.MaxTTL, log)
	router := handler.SetupRoutes(rateLimiter, cfg.RatePerHour)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Addr), zap.Strings("commands", dispatcher.Names()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}

	stopSweep()
	registry.TerminateAll()

	if err := driver.Close(); err != nil {
		log.Warn("driver close error", zap.Error(err))
	}
	if runner != nil && chrome != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := runner.Stop(stopCtx, chrome.ContainerID); err != nil {
			log.Warn("failed to stop chrome container", zap.Error(err))
		}
		stopCancel()
		_ = runner.Close()
	}

	log.Info("server stopped")
}
