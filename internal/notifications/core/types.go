// Package core holds the contracts shared by the push pipeline's enqueue
// service, worker, and reclaimer, together with the delivery bookkeeping and
// metrics they have in common.
package core

import (
	"context"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// JobStore is the Progress Store: the durable record of each job's status,
// counters, cursor and lease. Every mutating call after Claim is guarded by
// the caller's lease and fails with conflict_job_lease_lost once it is gone.
type JobStore interface {
	Create(ctx context.Context, p types.NewJobParams) (*types.NotificationJob, error)
	Get(ctx context.Context, id string) (*types.NotificationJob, error)

	// Claim returns (nil, nil) when there is nothing to claim.
	Claim(ctx context.Context, jobID, holder string, leaseUntil time.Time) (*types.NotificationJob, error)

	// ApplyProgress adds delta to the counters, advances the cursor, renews
	// the lease, and returns the resulting progress in one statement.
	ApplyProgress(ctx context.Context, jobID, holder string, delta types.ProgressDelta, leaseUntil time.Time) (types.JobProgress, error)

	Complete(ctx context.Context, jobID, holder string) (types.JobProgress, error)
	Fail(ctx context.Context, jobID, holder, reason string) (types.JobProgress, error)
	ReleaseLease(ctx context.Context, jobID, holder string) error
}

// RecipientResolver returns successive, non-overlapping slices of a job's
// recipients and an empty slice once the job is exhausted.
type RecipientResolver interface {
	Resolve(ctx context.Context, jobID string, batchSize int) ([]types.Recipient, error)
}

// PushGateway sends one sub-batch and returns receipts aligned by index.
type PushGateway interface {
	Send(ctx context.Context, messages []types.PushMessage) ([]types.PushReceipt, error)
}

// DeliveryLog is the append-only per-recipient outcome record.
type DeliveryLog interface {
	AppendBatch(ctx context.Context, entries []types.DeliveryLogEntry) error
}

// TokenStore lets the worker prune device tokens the gateway reports as dead.
type TokenStore interface {
	DeleteToken(ctx context.Context, userID, token string) (bool, error)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// PipelineMetrics abstracts CloudWatch/telemetry operations for the pipeline.
// Implementations never return errors; a failed emit is logged and dropped.
type PipelineMetrics interface {
	RecordEnqueued(ctx context.Context, event string)
	RecordEnqueuePublishFailure(ctx context.Context)
	RecordDeliveries(ctx context.Context, result MetricResult, count int)
	RecordGatewayFailure(ctx context.Context)
	RecordTokensPruned(ctx context.Context, count int)
	RecordJobFinished(ctx context.Context, status types.JobStatus)
	RecordInvocation(ctx context.Context, duration time.Duration)
	RecordReclaimed(ctx context.Context, action string, count int)
}
