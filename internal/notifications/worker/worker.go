// Package worker implements one invocation of the push delivery state
// machine: claim a job, drain recipient batches through the gateway, record
// outcomes and progress, then complete the job or chain another invocation.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Smalik1203/ktscb-sub006/internal/external"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/core"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// maxErrorLen bounds last_error so a verbose driver message cannot bloat the row.
const maxErrorLen = 1000

// Config tunes one invocation.
type Config struct {
	// BatchSize is how many recipients are resolved per pull.
	BatchSize int
	// GatewayLimit is the per-request message cap of the gateway.
	GatewayLimit int
	// SendConcurrency > 1 sends sub-batches through a bounded pool.
	SendConcurrency int
	// TimeBudget is how long the invocation keeps pulling batches before it
	// chains. It is checked between batches; a nearer context deadline cuts
	// it short.
	TimeBudget time.Duration
	// LeaseTTL is how far each claim or progress update pushes the lease.
	LeaseTTL time.Duration
	// DeadlineReserve is kept back from a context deadline for the store
	// writes and the chain publish that follow the last send.
	DeadlineReserve time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		GatewayLimit:    100,
		SendConcurrency: 1,
		TimeBudget:      45 * time.Second,
		LeaseTTL:        2 * time.Minute,
		DeadlineReserve: 5 * time.Second,
	}
}

// Worker holds the collaborators of the delivery state machine.
type Worker struct {
	Config    Config
	Log       *slog.Logger
	Jobs      core.JobStore
	Resolver  core.RecipientResolver
	Gateway   core.PushGateway
	Logs      core.DeliveryLog
	Tokens    core.TokenStore
	Scheduler types.ProcessScheduler
	Metrics   core.PipelineMetrics
	Clock     types.Clock

	// NewHolderID names the lease holder of one invocation.
	NewHolderID func() string
}

// OutcomeKind distinguishes the three successful invocation results.
type OutcomeKind string

const (
	OutcomeIdle       OutcomeKind = "idle"
	OutcomeCompleted  OutcomeKind = "completed"
	OutcomeProgressed OutcomeKind = "progressed"
)

// Outcome summarises one invocation.
type Outcome struct {
	Kind  OutcomeKind
	JobID string

	// Batch counters cover only the recipients handled by this invocation.
	BatchProcessed int
	BatchSuccess   int
	BatchFailed    int

	// Progress is the job state after the last store update.
	Progress types.JobProgress

	Elapsed time.Duration
	Chained bool
}

// Process runs one invocation. queueID may be empty to take the next pending
// job. Resolver failures fail the job and return internal_resolver_failed;
// a lost lease returns conflict_job_lease_lost. Gateway and per-recipient
// failures never surface here.
func (w *Worker) Process(ctx context.Context, queueID string) (*Outcome, error) {
	start := w.now()
	defer func() { w.metrics().RecordInvocation(ctx, w.now().Sub(start)) }()

	holder := w.holderID()
	job, err := w.Jobs.Claim(ctx, queueID, holder, start.Add(w.Config.LeaseTTL))
	if err != nil {
		return nil, err
	}
	if job == nil {
		w.Log.InfoContext(ctx, "no job to process", "queue_id", queueID)
		return &Outcome{Kind: OutcomeIdle, JobID: queueID, Elapsed: w.now().Sub(start)}, nil
	}

	log := w.Log.With("job_id", job.ID, "lease_holder", holder, "trace_id", types.GetTraceID(ctx))
	log.InfoContext(ctx, "job claimed",
		"status", string(job.Status),
		"batch_offset", job.BatchOffset,
		"total_recipients", job.TotalRecipients,
	)

	out := &Outcome{Kind: OutcomeProgressed, JobID: job.ID, Progress: job.Progress()}
	b := w.newBudget(ctx, start)
	for {
		recipients, err := w.Resolver.Resolve(ctx, job.ID, w.Config.BatchSize)
		if err != nil {
			return nil, w.failJob(ctx, log, job.ID, holder, err)
		}

		if len(recipients) == 0 {
			final, err := w.Jobs.Complete(ctx, job.ID, holder)
			if err != nil {
				return nil, err
			}
			w.metrics().RecordJobFinished(ctx, types.JobStatusCompleted)
			log.InfoContext(ctx, "job completed",
				"total_success", final.SuccessCount,
				"total_failed", final.FailedCount,
			)
			out.Kind = OutcomeCompleted
			out.Progress = final
			out.Elapsed = w.now().Sub(start)
			return out, nil
		}

		tally := w.deliver(ctx, log, job, recipients, b)
		if tally.Processed() == 0 {
			log.WarnContext(ctx, "deadline near, deferring remaining recipients")
			break
		}
		w.pruneStale(ctx, log, tally.Stale)

		if err := w.Logs.AppendBatch(ctx, tally.Entries); err != nil {
			log.ErrorContext(ctx, "failed to append delivery log", "entries", len(tally.Entries), "error", err)
		}

		progress, err := w.Jobs.ApplyProgress(ctx, job.ID, holder, tally.Delta(), w.now().Add(w.Config.LeaseTTL))
		if err != nil {
			return nil, err
		}
		w.metrics().RecordDeliveries(ctx, core.MetricSuccess, tally.Success)
		w.metrics().RecordDeliveries(ctx, core.MetricFailed, tally.Failed)

		out.BatchProcessed += tally.Processed()
		out.BatchSuccess += tally.Success
		out.BatchFailed += tally.Failed
		out.Progress = progress

		log.InfoContext(ctx, "batch processed",
			"batch_size", tally.Processed(),
			"batch_success", tally.Success,
			"batch_failed", tally.Failed,
			"batch_offset", progress.BatchOffset,
		)

		if progress.Status.IsTerminal() {
			out.Elapsed = w.now().Sub(start)
			return out, nil
		}
		if b.spent() {
			break
		}
	}

	w.chain(ctx, log, job.ID, holder, out)
	out.Elapsed = w.now().Sub(start)
	return out, nil
}

// chain hands the job to a fresh invocation. The lease is released first so
// the next claim does not wait for it to expire. A failed publish leaves the
// job processing without a lease, which the reclaimer picks up.
func (w *Worker) chain(ctx context.Context, log *slog.Logger, jobID, holder string, out *Outcome) {
	if err := w.Jobs.ReleaseLease(ctx, jobID, holder); err != nil {
		log.WarnContext(ctx, "failed to release lease before chaining", "error", err)
	}
	if err := w.Scheduler.ScheduleProcess(ctx, jobID, types.ProcessReasonChain); err != nil {
		log.ErrorContext(ctx, "failed to chain next invocation", "error", err)
		return
	}
	out.Chained = true
	log.InfoContext(ctx, "next invocation chained", "batch_offset", out.Progress.BatchOffset)
}

func (w *Worker) failJob(ctx context.Context, log *slog.Logger, jobID, holder string, cause error) error {
	reason := cause.Error()
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	log.ErrorContext(ctx, "recipient resolution failed, failing job", "error", cause)

	if _, err := w.Jobs.Fail(ctx, jobID, holder, reason); err != nil {
		log.ErrorContext(ctx, "failed to mark job failed", "error", err)
	} else {
		w.metrics().RecordJobFinished(ctx, types.JobStatusFailed)
	}

	if types.HasCode(cause, types.ErrCodeInternalResolver) {
		return cause
	}
	return types.NewAppError(types.ErrCodeInternalResolver, "failed to resolve recipients", cause)
}

// budget tracks when an invocation must stop. TimeBudget is checked between
// batches. A context deadline, less DeadlineReserve, also stops new sends
// inside a batch.
type budget struct {
	w           *Worker
	start       time.Time
	deadline    time.Time
	hasDeadline bool
}

func (w *Worker) newBudget(ctx context.Context, start time.Time) budget {
	deadline, ok := ctx.Deadline()
	return budget{w: w, start: start, deadline: deadline, hasDeadline: ok}
}

func (b budget) spent() bool {
	return b.w.now().Sub(b.start) >= b.w.Config.TimeBudget || b.deadlineNear()
}

func (b budget) deadlineNear() bool {
	return b.hasDeadline && time.Until(b.deadline) <= b.w.Config.DeadlineReserve
}

// deliver sends recipients to the gateway in sub-batches. Results are merged
// in sub-batch order whatever the concurrency. No sub-batch is started once
// the deadline is near; the unsent tail stays unprocessed so the offset only
// covers recipients the gateway actually saw.
func (w *Worker) deliver(ctx context.Context, log *slog.Logger, job *types.NotificationJob, recipients []types.Recipient, b budget) *core.Tally {
	chunks := core.SplitBatches(recipients, w.Config.GatewayLimit)
	results := make([]*core.Tally, 0, len(chunks))

	mayStart := func() bool {
		return ctx.Err() == nil && !b.deadlineNear()
	}

	if w.Config.SendConcurrency <= 1 || len(chunks) == 1 {
		for _, chunk := range chunks {
			if !mayStart() {
				break
			}
			results = append(results, w.sendChunk(ctx, log, job, chunk))
		}
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(w.Config.SendConcurrency)
		slots := make([]*core.Tally, len(chunks))
		started := 0
		for i, chunk := range chunks {
			if !mayStart() {
				break
			}
			started++
			g.Go(func() error {
				slots[i] = w.sendChunk(gCtx, log, job, chunk)
				return nil
			})
		}
		_ = g.Wait()
		results = slots[:started]
	}

	if len(results) < len(chunks) {
		log.InfoContext(ctx, "send budget spent mid-batch",
			"sub_batches_sent", len(results),
			"sub_batches_deferred", len(chunks)-len(results),
		)
	}

	total := core.NewTally(job, w.now())
	for _, r := range results {
		total.Merge(r)
	}
	return total
}

func (w *Worker) sendChunk(ctx context.Context, log *slog.Logger, job *types.NotificationJob, chunk []types.Recipient) *core.Tally {
	tally := core.NewTally(job, w.now())
	receipts, err := w.Gateway.Send(ctx, core.BuildMessages(job, chunk))
	if err != nil {
		reason := external.GatewayFailureReason(err)
		log.WarnContext(ctx, "gateway sub-batch failed", "size", len(chunk), "reason", reason)
		w.metrics().RecordGatewayFailure(ctx)
		tally.FailAll(chunk, reason)
		return tally
	}
	tally.RecordReceipts(chunk, receipts)
	return tally
}

// pruneStale deletes dead tokens. Failures are logged and never block progress.
func (w *Worker) pruneStale(ctx context.Context, log *slog.Logger, stale []types.Recipient) {
	if w.Tokens == nil || len(stale) == 0 {
		return
	}
	pruned := 0
	for _, r := range stale {
		deleted, err := w.Tokens.DeleteToken(ctx, r.UserID, r.Token)
		if err != nil {
			log.WarnContext(ctx, "failed to prune stale token", "user_id", r.UserID, "error", err)
			continue
		}
		if deleted {
			pruned++
		}
	}
	if pruned > 0 {
		log.InfoContext(ctx, "pruned stale tokens", "count", pruned)
		w.metrics().RecordTokensPruned(ctx, pruned)
	}
}

func (w *Worker) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now()
}

func (w *Worker) metrics() core.PipelineMetrics {
	if w.Metrics == nil {
		return core.NoopMetrics{}
	}
	return w.Metrics
}

func (w *Worker) holderID() string {
	if w.NewHolderID != nil {
		return w.NewHolderID()
	}
	return uuid.NewString()
}
