package core

import (
	"context"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest receives the chi route pattern as endpoint.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// IdempotencyStore manages Idempotency-Key state. The Redis implementation
// lives in internal/cache.
type IdempotencyStore interface {
	// Begin locks key within scope. When the key is already known the
	// existing record is returned and acquired is false.
	Begin(ctx context.Context, key, scope string) (existing *types.IdempotencyRecord, acquired bool, err error)
	// Complete stores the final response for replay.
	Complete(ctx context.Context, key, scope string, statusCode int, body []byte) error
	// Release forgets the key so the request can be retried.
	Release(ctx context.Context, key, scope string) error
}
