package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// ProcessScheduler publishes a request for one worker invocation. Both the
// enqueue service and the worker's self-chaining go through it.
type ProcessScheduler interface {
	ScheduleProcess(ctx context.Context, jobID string, reason ProcessReason) error
}
