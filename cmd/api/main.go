// Package main is the entry point for the push notification API.
//
// It serves POST /enqueue, POST /process, GET /jobs/{id} and GET /health on
// the core chassis (middleware, service-key auth, idempotency, health).
//
// In local mode (APP_ENV=local) or outside Lambda it runs as a standard HTTP
// server on the configured port with graceful shutdown on SIGINT/SIGTERM.
// Inside Lambda it serves API Gateway HTTP API (payload v2) events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/api/handlers"
	"github.com/Smalik1203/ktscb-sub006/internal/app"
	"github.com/Smalik1203/ktscb-sub006/internal/cache"
	"github.com/Smalik1203/ktscb-sub006/internal/config"
	"github.com/Smalik1203/ktscb-sub006/internal/core"
	"github.com/Smalik1203/ktscb-sub006/internal/db"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/enqueue"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// serverDeps are the domain services mounted on the chassis.
type serverDeps struct {
	Jobs interface {
		enqueue.JobCreator
		handlers.JobReader
	}
	Deliveries  handlers.DeliveryCounter
	Processor   handlers.Processor
	Scheduler   types.ProcessScheduler
	Metrics     app.Metrics
	Idempotency core.IdempotencyStore
	Probes      []core.HealthProbe
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("push API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)
	if !cfg.Security.ServiceKeyHash.IsSet() && cfg.Environment != "local" {
		logger.Warn("SERVICE_KEY_HASH is not set; protected routes accept any caller")
	}

	ctx := context.Background()
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}

	deps := serverDeps{
		Jobs:       rt.Jobs(),
		Deliveries: db.NewDeliveryLogRepository(rt.Pool),
		Processor:  rt.NewWorker(),
		Scheduler:  rt.Publisher,
		Metrics:    rt.Metrics,
		Probes:     []core.HealthProbe{core.NewPingProbe("database", rt.Pool.Ping)},
	}

	var closers []func(context.Context) error
	closers = append(closers, func(context.Context) error { rt.Close(); return nil })

	if cfg.Redis.URL.IsSet() {
		client, err := cache.NewRedisClient(cfg.Redis.URL.Unmask())
		if err != nil {
			rt.Close()
			return fmt.Errorf("connecting to redis: %w", err)
		}
		store := cache.NewIdempotencyStore(client, cfg.Redis.IdempotencyTTL, cfg.Redis.LockTTL)
		deps.Idempotency = store
		deps.Probes = append(deps.Probes, core.NewPingProbe("redis", store.Ping))
		closers = append(closers, func(context.Context) error { return client.Close() })
	} else {
		logger.Info("REDIS_URL is not set; Idempotency-Key handling disabled")
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		for _, c := range closers {
			_ = c(ctx)
		}
		return fmt.Errorf("creating server: %w", err)
	}
	for _, c := range closers {
		srv.OnShutdown(c)
	}

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer assembles the chassis and mounts the domain handlers.
func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = deps.Metrics
	srv.HealthProbes = deps.Probes
	if deps.Idempotency != nil {
		srv.Idempotency = deps.Idempotency
	}

	enqueueSvc := &enqueue.Service{
		Jobs:      deps.Jobs,
		Scheduler: deps.Scheduler,
		Validator: srv.Validator,
		Metrics:   deps.Metrics,
		Log:       logger.With("component", "enqueue"),
	}

	enqueueHandler := handlers.NewEnqueueHandler(enqueueSvc, logger)
	processHandler := handlers.NewProcessHandler(deps.Processor, logger)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs, deps.Deliveries, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		enqueueHandler.RegisterRoutes,
		processHandler.RegisterRoutes,
		jobsHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The worker budget plus headroom; POST /process runs a full invocation.
		WriteTimeout: cfg.Worker.TimeBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
