// Package main is the entry point for the Reclaimer Lambda.
//
// An EventBridge rule invokes it every few minutes. Each run re-publishes
// process messages for jobs that stalled (a lost SQS message, a crashed
// invocation, an expired lease) and fails jobs whose lease expired more times
// than their retry budget allows.
//
// Handler flow:
//  1. Determine the reference time from the payload (or now).
//  2. Acquire the Redis sweep lock when Redis is configured.
//  3. Run one reclaim sweep.
//  4. Release the lock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"github.com/Smalik1203/ktscb-sub006/internal/app"
	"github.com/Smalik1203/ktscb-sub006/internal/cache"
	"github.com/Smalik1203/ktscb-sub006/internal/scheduler"
)

const (
	lockName = "reclaimer"

	// lockTTL covers one sweep with margin; the lock self-expires if the
	// invocation dies.
	lockTTL = 5 * time.Minute
)

// Sweeper runs one reclaim sweep.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (scheduler.ReclaimResult, error)
}

// JobLocker is the distributed lock guarding concurrent sweeps.
type JobLocker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// Handler holds the dependencies for the reclaimer Lambda handler.
type Handler struct {
	Reclaimer Sweeper
	Lock      JobLocker // nil runs without a lock
	WorkerID  string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handle runs one sweep for the EventBridge payload.
func (h *Handler) Handle(ctx context.Context, payload scheduler.ReclaimPayload) (scheduler.ReclaimResult, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Now
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	now := payload.Now(clock())

	logger.InfoContext(ctx, "reclaimer invoked",
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if h.Lock != nil {
		acquired, err := h.Lock.Acquire(ctx, lockName, h.WorkerID, lockTTL)
		if err != nil {
			return scheduler.ReclaimResult{}, fmt.Errorf("acquiring sweep lock: %w", err)
		}
		if !acquired {
			logger.InfoContext(ctx, "sweep lock held by another worker, skipping")
			return scheduler.ReclaimResult{}, nil
		}
		defer func() {
			if err := h.Lock.Release(context.WithoutCancel(ctx), lockName, h.WorkerID); err != nil {
				logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
			}
		}()
	}

	res, err := h.Reclaimer.Run(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "reclaim sweep failed", "error", err)
		return res, fmt.Errorf("reclaim sweep: %w", err)
	}
	return res, nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Reclaimer Lambda initializing (cold start)")

	rt, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to open runtime", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		Reclaimer: scheduler.NewReclaimer(rt.Jobs(), rt.Publisher, rt.Metrics, scheduler.ReclaimConfig{
			StaleAfter: cfg.Reclaimer.StaleAfter,
			BatchLimit: cfg.Reclaimer.BatchLimit,
		}, logger.With("component", "reclaimer")),
		WorkerID: uuid.NewString(),
		Logger:   logger,
	}

	if cfg.Redis.URL.IsSet() {
		client, err := cache.NewRedisClient(cfg.Redis.URL.Unmask())
		if err != nil {
			logger.Error("Failed to create redis client", "error", err)
			rt.Close()
			os.Exit(1)
		}
		handler.Lock = cache.NewJobLock(client)
	}

	logger.Info("Reclaimer Lambda initialized",
		"worker_id", handler.WorkerID,
		"stale_after", cfg.Reclaimer.StaleAfter.String(),
		"batch_limit", cfg.Reclaimer.BatchLimit,
		"locking", handler.Lock != nil,
	)

	if cfg.Environment == "local" {
		res, err := handler.Handle(context.Background(), scheduler.ReclaimPayload{})
		rt.Close()
		if err != nil {
			logger.Error("Local sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Local sweep completed", "result", res)
		return
	}

	lambda.Start(handler.Handle)
}
