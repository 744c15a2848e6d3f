package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

const jobColumns = `id::text, event, title, body, data, targets, status, priority,
	total_recipients, processed_count, success_count, failed_count, batch_offset,
	retry_count, max_retries, last_error, version, lease_holder, lease_expires_at,
	created_at, started_at, completed_at, updated_at`

const progressColumns = `id::text, status, total_recipients, processed_count,
	success_count, failed_count, batch_offset`

// JobRepository is the progress store for notification_jobs. Every mutation
// the worker performs is a single conditional UPDATE so concurrent
// invocations can never lose counts.
type JobRepository struct {
	db DBTX
	tx TxRunner
}

// NewJobRepository creates a JobRepository. tx is required for Claim.
func NewJobRepository(db DBTX, tx TxRunner) *JobRepository {
	return &JobRepository{db: db, tx: tx}
}

// Create inserts a pending job with zeroed counters and returns it.
func (r *JobRepository) Create(ctx context.Context, p types.NewJobParams) (*types.NotificationJob, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO notification_jobs (event, title, body, data, targets, status, priority, max_retries)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		 RETURNING `+jobColumns,
		p.Event,
		p.Title,
		p.Body,
		p.Data,
		p.Targets,
		p.Priority,
		p.MaxRetries,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalEnqueue, "failed to create notification job", err)
	}
	return job, nil
}

// Get loads a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*types.NotificationJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, mapDBError(err, types.ErrCodeNotFoundJob, "failed to get notification job")
	}
	return job, nil
}

// Claim acquires a lease on a job for holder until leaseUntil.
//
// With a jobID, only that job is considered and only while it is pending or
// processing with no live lease. Without one, the oldest pending job by
// (priority, created_at) is taken. The candidate row is locked with
// FOR UPDATE SKIP LOCKED and the claim itself is guarded by the version read
// alongside it, so a concurrent claimer sees either no row or a lost race.
//
// The first claim of a job materialises its recipient snapshot in the same
// transaction. Returns (nil, nil) when there is nothing to claim.
func (r *JobRepository) Claim(ctx context.Context, jobID, holder string, leaseUntil time.Time) (*types.NotificationJob, error) {
	if r.tx == nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "job repository has no transaction runner", nil)
	}

	if jobID != "" {
		if _, err := uuid.Parse(jobID); err != nil {
			return nil, nil
		}
	}

	var claimed *types.NotificationJob
	err := r.tx.RunInTx(ctx, func(tx DBTX) error {
		var row pgx.Row
		if jobID != "" {
			row = tx.QueryRow(ctx,
				`SELECT id::text, version, recipients_materialized
				 FROM notification_jobs
				 WHERE id = $1
				   AND status IN ('pending', 'processing')
				   AND (lease_holder IS NULL OR lease_expires_at < NOW())
				 FOR UPDATE SKIP LOCKED`,
				jobID,
			)
		} else {
			row = tx.QueryRow(ctx,
				`SELECT id::text, version, recipients_materialized
				 FROM notification_jobs
				 WHERE status = 'pending'
				 ORDER BY priority ASC, created_at ASC
				 LIMIT 1
				 FOR UPDATE SKIP LOCKED`,
			)
		}

		var (
			id           string
			version      int64
			materialized bool
		)
		if err := row.Scan(&id, &version, &materialized); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}

		job, err := scanJob(tx.QueryRow(ctx,
			`UPDATE notification_jobs SET
				status = 'processing',
				started_at = COALESCE(started_at, NOW()),
				lease_holder = $3,
				lease_expires_at = $4,
				version = version + 1,
				updated_at = NOW()
			 WHERE id = $1 AND version = $2 AND status IN ('pending', 'processing')
			 RETURNING `+jobColumns,
			id, version, holder, leaseUntil,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}

		if !materialized {
			total, err := materializeRecipients(ctx, tx, job)
			if err != nil {
				return err
			}
			job.TotalRecipients = total
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, mapDBError(err, types.ErrCodeNotFoundJob, "failed to claim notification job")
	}
	return claimed, nil
}

// materializeRecipients snapshots the job's audience into
// notification_job_recipients with seq 1..N. Duplicate device tokens are
// collapsed to the most recent registration. Explicit user ids take
// precedence over a school code, whose members are read from users.
func materializeRecipients(ctx context.Context, tx DBTX, job *types.NotificationJob) (int, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if len(job.Targets.UserIDs) > 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO notification_job_recipients (job_id, seq, user_id, token)
			 SELECT $1, ROW_NUMBER() OVER (ORDER BY d.user_id, d.token), d.user_id, d.token
			 FROM (
				SELECT DISTINCT ON (t.token) t.user_id, t.token
				FROM push_tokens t
				WHERE t.user_id = ANY($2::text[])
				ORDER BY t.token, t.created_at DESC
			 ) d`,
			job.ID, job.Targets.UserIDs,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`INSERT INTO notification_job_recipients (job_id, seq, user_id, token)
			 SELECT $1, ROW_NUMBER() OVER (ORDER BY d.user_id, d.token), d.user_id, d.token
			 FROM (
				SELECT DISTINCT ON (t.token) t.user_id, t.token
				FROM push_tokens t
				JOIN users u ON u.id = t.user_id
				WHERE u.school_code = $2
				ORDER BY t.token, t.created_at DESC
			 ) d`,
			job.ID, job.Targets.SchoolCode,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("materialize recipients: %w", err)
	}

	total := int(tag.RowsAffected())
	if _, err := tx.Exec(ctx,
		`UPDATE notification_jobs SET total_recipients = $2, recipients_materialized = TRUE WHERE id = $1`,
		job.ID, total,
	); err != nil {
		return 0, fmt.Errorf("record recipient total: %w", err)
	}
	return total, nil
}

// ApplyProgress atomically adds delta to the job's counters, advances the
// cursor by delta.Processed, renews the lease, and returns the resulting
// progress. The update only applies while holder owns the lease and the
// counters stay within total_recipients. A rejected update is reported as a
// lost lease, or as internal_unexpected_error when holder still owns the job
// and the counters would overflow. It never changes the job status.
func (r *JobRepository) ApplyProgress(ctx context.Context, jobID, holder string, delta types.ProgressDelta, leaseUntil time.Time) (types.JobProgress, error) {
	if !delta.Valid() {
		return types.JobProgress{}, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected, "unbalanced progress delta", nil,
			map[string]any{"processed": delta.Processed, "success": delta.Success, "failed": delta.Failed})
	}

	row := r.db.QueryRow(ctx,
		`UPDATE notification_jobs SET
			processed_count = processed_count + $3,
			success_count = success_count + $4,
			failed_count = failed_count + $5,
			batch_offset = batch_offset + $3,
			lease_expires_at = $6,
			version = version + 1,
			updated_at = NOW()
		 WHERE id = $1
		   AND lease_holder = $2
		   AND status = 'processing'
		   AND processed_count + $3 <= total_recipients
		 RETURNING `+progressColumns,
		jobID, holder, delta.Processed, delta.Success, delta.Failed, leaseUntil,
	)
	p, err := r.scanLeasedProgress(row, jobID, "failed to apply job progress")
	if err != nil && types.HasCode(err, types.ErrCodeConflictLeaseLost) {
		return types.JobProgress{}, r.explainRejectedProgress(ctx, jobID, holder, delta, err)
	}
	return p, err
}

// explainRejectedProgress re-reads the job after the guarded UPDATE matched no
// row. leaseErr is returned unless holder still owns a processing job, in
// which case the counter bound was what rejected the delta.
func (r *JobRepository) explainRejectedProgress(ctx context.Context, jobID, holder string, delta types.ProgressDelta, leaseErr error) error {
	var (
		leaseHolder string
		status      string
		processed   int
		total       int
	)
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(lease_holder, ''), status, processed_count, total_recipients
		 FROM notification_jobs WHERE id = $1`,
		jobID,
	).Scan(&leaseHolder, &status, &processed, &total)
	if err != nil || leaseHolder != holder || status != string(types.JobStatusProcessing) {
		return leaseErr
	}
	return types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected, "progress delta exceeds total_recipients", nil,
		map[string]any{
			"job_id":           jobID,
			"processed_count":  processed,
			"delta_processed":  delta.Processed,
			"total_recipients": total,
		})
}

// Complete marks the job completed, stamps completed_at, and drops the lease.
func (r *JobRepository) Complete(ctx context.Context, jobID, holder string) (types.JobProgress, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE notification_jobs SET
			status = 'completed',
			completed_at = NOW(),
			lease_holder = NULL,
			lease_expires_at = NULL,
			version = version + 1,
			updated_at = NOW()
		 WHERE id = $1 AND lease_holder = $2 AND status = 'processing'
		 RETURNING `+progressColumns,
		jobID, holder,
	)
	return r.scanLeasedProgress(row, jobID, "failed to complete notification job")
}

// Fail marks the job failed with reason as last_error and drops the lease.
func (r *JobRepository) Fail(ctx context.Context, jobID, holder, reason string) (types.JobProgress, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE notification_jobs SET
			status = 'failed',
			last_error = $3,
			completed_at = NOW(),
			lease_holder = NULL,
			lease_expires_at = NULL,
			version = version + 1,
			updated_at = NOW()
		 WHERE id = $1 AND lease_holder = $2 AND status = 'processing'
		 RETURNING `+progressColumns,
		jobID, holder, reason,
	)
	return r.scanLeasedProgress(row, jobID, "failed to mark notification job failed")
}

// ReleaseLease gives up holder's lease so the next process message can claim
// the job immediately. Releasing a lease that is already gone is a no-op.
func (r *JobRepository) ReleaseLease(ctx context.Context, jobID, holder string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET
			lease_holder = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		 WHERE id = $1 AND lease_holder = $2`,
		jobID, holder,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lease", err)
	}
	return nil
}

func (r *JobRepository) scanLeasedProgress(row pgx.Row, jobID, msg string) (types.JobProgress, error) {
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.JobProgress{}, types.NewAppErrorWithDetails(types.ErrCodeConflictLeaseLost,
				"job lease is no longer held by this worker", err, map[string]any{"job_id": jobID})
		}
		return types.JobProgress{}, mapDBError(err, types.ErrCodeNotFoundJob, msg)
	}
	return p, nil
}

// ListReclaimable returns jobs that look abandoned: pending jobs untouched
// since staleBefore, processing jobs whose lease expired before now, and
// processing jobs with no lease untouched since staleBefore.
func (r *JobRepository) ListReclaimable(ctx context.Context, staleBefore, now time.Time, limit int) ([]types.ReclaimCandidate, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id::text, status, version, lease_holder IS NOT NULL, retry_count, max_retries
		 FROM notification_jobs
		 WHERE (status = 'pending' AND updated_at < $1)
		    OR (status = 'processing' AND lease_holder IS NOT NULL AND lease_expires_at < $2)
		    OR (status = 'processing' AND lease_holder IS NULL AND updated_at < $1)
		 ORDER BY priority ASC, created_at ASC
		 LIMIT $3`,
		staleBefore, now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reclaimable jobs", err)
	}
	defer rows.Close()

	var out []types.ReclaimCandidate
	for rows.Next() {
		var (
			c      types.ReclaimCandidate
			status string
		)
		if err := rows.Scan(&c.ID, &status, &c.Version, &c.Leased, &c.RetryCount, &c.MaxRetries); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reclaimable job", err)
		}
		c.Status = types.JobStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reclaimable jobs", err)
	}
	return out, nil
}

// RecoverExpiredLease clears an expired lease and bumps retry_count. A job
// whose retry_count exceeds max_retries is failed instead. The update is
// guarded by version, so a job re-claimed in the meantime is left alone and
// ok is false.
func (r *JobRepository) RecoverExpiredLease(ctx context.Context, id string, version int64, now time.Time) (status types.JobStatus, ok bool, err error) {
	var s string
	err = r.db.QueryRow(ctx,
		`UPDATE notification_jobs SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE status END,
			last_error = CASE WHEN retry_count + 1 > max_retries
				THEN 'lease expired after max retries' ELSE last_error END,
			completed_at = CASE WHEN retry_count + 1 > max_retries THEN NOW() ELSE completed_at END,
			lease_holder = NULL,
			lease_expires_at = NULL,
			version = version + 1,
			updated_at = NOW()
		 WHERE id = $1 AND version = $2 AND status = 'processing' AND lease_expires_at < $3
		 RETURNING status`,
		id, version, now,
	).Scan(&s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, mapDBError(err, types.ErrCodeNotFoundJob, "failed to recover expired lease")
	}
	return types.JobStatus(s), true, nil
}

// TouchJobs bumps updated_at so re-published jobs are not re-published again
// on the next sweep.
func (r *JobRepository) TouchJobs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE notification_jobs SET updated_at = NOW() WHERE id = ANY($1::uuid[]) AND status IN ('pending', 'processing')`,
		ids,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch jobs", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*types.NotificationJob, error) {
	var (
		j           types.NotificationJob
		status      string
		lastError   *string
		leaseHolder *string
	)
	err := row.Scan(
		&j.ID,
		&j.Event,
		&j.Title,
		&j.Body,
		&j.Data,
		&j.Targets,
		&status,
		&j.Priority,
		&j.TotalRecipients,
		&j.ProcessedCount,
		&j.SuccessCount,
		&j.FailedCount,
		&j.BatchOffset,
		&j.RetryCount,
		&j.MaxRetries,
		&lastError,
		&j.Version,
		&leaseHolder,
		&j.LeaseExpiresAt,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	j.LastError = derefString(lastError)
	j.LeaseHolder = derefString(leaseHolder)
	return &j, nil
}

func scanProgress(row pgx.Row) (types.JobProgress, error) {
	var (
		p      types.JobProgress
		status string
	)
	err := row.Scan(&p.JobID, &status, &p.TotalRecipients, &p.ProcessedCount, &p.SuccessCount, &p.FailedCount, &p.BatchOffset)
	if err != nil {
		return types.JobProgress{}, err
	}
	p.Status = types.JobStatus(status)
	return p, nil
}
