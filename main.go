package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calsync_server/adapter/in/http"
	"calsync_server/config"
	"calsync_server/internal/bootstrap"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "calsync-" + *mode,
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: %v", err)
	}

	initCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	deps, cleanup, err := bootstrap.NewDependencies(initCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(bootstrap.NewAPI(cfg, deps, nil), cfg, nil)
	case "worker":
		runWorker(bootstrap.NewWorker(cfg, deps))
	case "all":
		w := bootstrap.NewWorker(cfg, deps)
		go func() {
			if err := w.Start(); err != nil {
				logger.Fatal("Failed to start worker: %v", err)
			}
		}()
		app := bootstrap.NewAPI(cfg, deps, map[string]http.MetricsSource{
			"worker_pool": func(context.Context) any { return w.GetMetrics() },
		})
		runAPI(app, cfg, w)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(app *fiber.App, cfg *config.Config, w *bootstrap.Worker) {
	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		}
		if w != nil {
			w.Stop()
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

func runWorker(w *bootstrap.Worker) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("Starting worker...")
	if err := w.Start(); err != nil {
		logger.Error("Worker stopped: %v", err)
	}
}
