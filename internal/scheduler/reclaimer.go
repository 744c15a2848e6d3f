package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/notifications/core"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// Reclaim actions, also used as the Action metric dimension.
const (
	ActionRepublishPending = "republish_pending"
	ActionRecoverLease     = "recover_lease"
	ActionFailExhausted    = "fail_exhausted"
	ActionRepublishOrphan  = "republish_orphan"
)

// ReclaimDB is the job store surface the reclaimer needs.
type ReclaimDB interface {
	// ListReclaimable returns pending jobs untouched since staleBefore,
	// processing jobs whose lease expired before now, and processing jobs
	// without a lease untouched since staleBefore.
	ListReclaimable(ctx context.Context, staleBefore, now time.Time, limit int) ([]types.ReclaimCandidate, error)

	// RecoverExpiredLease clears the lease and bumps retry_count, failing the
	// job once retries are exhausted. ok is false when the job moved on.
	RecoverExpiredLease(ctx context.Context, id string, version int64, now time.Time) (types.JobStatus, bool, error)

	// TouchJobs bumps updated_at so the next sweep skips them.
	TouchJobs(ctx context.Context, ids []string) error
}

// ReclaimConfig tunes one sweep.
type ReclaimConfig struct {
	StaleAfter time.Duration
	BatchLimit int
}

// ReclaimResult counts what one sweep did.
type ReclaimResult struct {
	RepublishedPending int `json:"republished_pending"`
	RecoveredLeases    int `json:"recovered_leases"`
	FailedExhausted    int `json:"failed_exhausted"`
	RepublishedOrphans int `json:"republished_orphans"`
	Skipped            int `json:"skipped"`
	Errors             int `json:"errors"`
}

// Reclaimer is the safety net behind SQS chaining. It re-publishes process
// messages for jobs nobody is working on and recovers expired leases.
type Reclaimer struct {
	db        ReclaimDB
	scheduler types.ProcessScheduler
	metrics   core.PipelineMetrics
	cfg       ReclaimConfig
	logger    *slog.Logger
}

// NewReclaimer builds a Reclaimer. A nil metrics sink discards metrics.
func NewReclaimer(db ReclaimDB, scheduler types.ProcessScheduler, metrics core.PipelineMetrics, cfg ReclaimConfig, logger *slog.Logger) *Reclaimer {
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Reclaimer{db: db, scheduler: scheduler, metrics: metrics, cfg: cfg, logger: logger}
}

// Run performs one sweep as of now. Per-job failures are logged and counted;
// only a failure to list candidates is returned.
func (r *Reclaimer) Run(ctx context.Context, now time.Time) (ReclaimResult, error) {
	var res ReclaimResult

	candidates, err := r.db.ListReclaimable(ctx, now.Add(-r.cfg.StaleAfter), now, r.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("list reclaimable jobs: %w", err)
	}
	if len(candidates) == 0 {
		r.logger.InfoContext(ctx, "reclaim sweep found nothing")
		return res, nil
	}

	type publish struct {
		id     string
		action string
	}
	var toPublish []publish

	for _, c := range candidates {
		switch {
		case c.Status == types.JobStatusPending:
			toPublish = append(toPublish, publish{c.ID, ActionRepublishPending})

		case c.Status == types.JobStatusProcessing && c.Leased:
			status, ok, err := r.db.RecoverExpiredLease(ctx, c.ID, c.Version, now)
			if err != nil {
				r.logger.ErrorContext(ctx, "failed to recover expired lease", "job_id", c.ID, "error", err)
				res.Errors++
				continue
			}
			if !ok {
				res.Skipped++
				continue
			}
			if status == types.JobStatusFailed {
				r.logger.WarnContext(ctx, "job failed after exhausting lease retries",
					"job_id", c.ID,
					"retry_count", c.RetryCount+1,
					"max_retries", c.MaxRetries,
				)
				res.FailedExhausted++
				r.metrics.RecordJobFinished(ctx, types.JobStatusFailed)
				continue
			}
			toPublish = append(toPublish, publish{c.ID, ActionRecoverLease})

		case c.Status == types.JobStatusProcessing:
			toPublish = append(toPublish, publish{c.ID, ActionRepublishOrphan})

		default:
			res.Skipped++
		}
	}

	published := make([]string, 0, len(toPublish))
	for _, p := range toPublish {
		if err := r.scheduler.ScheduleProcess(ctx, p.id, types.ProcessReasonReclaim); err != nil {
			r.logger.ErrorContext(ctx, "failed to re-publish job", "job_id", p.id, "action", p.action, "error", err)
			res.Errors++
			continue
		}
		published = append(published, p.id)
		switch p.action {
		case ActionRepublishPending:
			res.RepublishedPending++
		case ActionRecoverLease:
			res.RecoveredLeases++
		case ActionRepublishOrphan:
			res.RepublishedOrphans++
		}
	}

	if err := r.db.TouchJobs(ctx, published); err != nil {
		r.logger.WarnContext(ctx, "failed to touch re-published jobs", "count", len(published), "error", err)
	}

	r.metrics.RecordReclaimed(ctx, ActionRepublishPending, res.RepublishedPending)
	r.metrics.RecordReclaimed(ctx, ActionRecoverLease, res.RecoveredLeases)
	r.metrics.RecordReclaimed(ctx, ActionFailExhausted, res.FailedExhausted)
	r.metrics.RecordReclaimed(ctx, ActionRepublishOrphan, res.RepublishedOrphans)

	r.logger.InfoContext(ctx, "reclaim sweep finished",
		"candidates", len(candidates),
		"republished_pending", res.RepublishedPending,
		"recovered_leases", res.RecoveredLeases,
		"failed_exhausted", res.FailedExhausted,
		"republished_orphans", res.RepublishedOrphans,
		"errors", res.Errors,
	)
	return res, nil
}
