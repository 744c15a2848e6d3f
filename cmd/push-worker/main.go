// Package main is the entry point for the Push Worker Lambda.
//
// The worker consumes ProcessMessages from the process SQS queue. Each message
// asks for one invocation of the delivery state machine: claim a job, resolve
// recipient batches, send them through the push gateway, record outcomes and
// progress, then either complete the job or chain a follow-up message.
//
// Cold Start (main):
//  1. Load configuration (SSM pointers resolved outside APP_ENV=local).
//  2. Open the database pool and AWS clients.
//  3. Build the worker with the gateway client and repositories.
//  4. Register the handler and call lambda.Start.
//
// Failure handling per record:
//
//	malformed body        -> logged and acknowledged (retrying cannot help)
//	lease lost            -> acknowledged; another invocation owns the job
//	resolver failure      -> acknowledged; the job is already marked failed
//	job not found         -> acknowledged
//	anything else         -> reported in batchItemFailures so SQS redelivers
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Smalik1203/ktscb-sub006/internal/app"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/worker"
	"github.com/Smalik1203/ktscb-sub006/internal/queue"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// Processor runs one worker invocation.
type Processor interface {
	Process(ctx context.Context, queueID string) (*worker.Outcome, error)
}

// Handler holds the dependencies for the push worker Lambda handler.
type Handler struct {
	worker Processor
	logger *slog.Logger
}

// terminalCodes are invocation errors that a redelivery cannot fix.
var terminalCodes = []types.ErrorCode{
	types.ErrCodeConflictLeaseLost,
	types.ErrCodeInternalResolver,
	types.ErrCodeNotFoundJob,
}

// Handle processes an SQS event. Records are handled sequentially; only
// records that failed with a retryable error are returned for redelivery.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeProcessMessage(record.Body)
	if err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed process message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	traceID := msg.TraceID
	if traceID == "" {
		traceID = record.MessageId
	}
	ctx = types.WithTraceID(ctx, traceID)

	logger := h.logger.With(
		"message_id", record.MessageId,
		"job_id", msg.JobID,
		"reason", string(msg.Reason),
		"trace_id", traceID,
	)
	if sent, ok := record.Attributes["SentTimestamp"]; ok {
		if ts, err := parseMillisTimestamp(sent); err == nil {
			logger = logger.With("queue_lag_ms", time.Since(ts).Milliseconds())
		}
	}

	out, err := h.worker.Process(ctx, msg.JobID)
	if err != nil {
		for _, code := range terminalCodes {
			if types.HasCode(err, code) {
				logger.WarnContext(ctx, "invocation ended without retry", "code", string(code), "error", err)
				return nil
			}
		}
		return fmt.Errorf("process job %q: %w", msg.JobID, err)
	}

	logger.InfoContext(ctx, "invocation finished",
		"outcome", string(out.Kind),
		"batch_processed", out.BatchProcessed,
		"batch_success", out.BatchSuccess,
		"batch_failed", out.BatchFailed,
		"chained", out.Chained,
		"elapsed_ms", out.Elapsed.Milliseconds(),
	)
	return nil
}

// parseMillisTimestamp parses a millisecond-epoch string into a time.Time.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Push Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	rt, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to open runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	handler := &Handler{worker: rt.NewWorker(), logger: logger}

	logger.Info("Push Worker Lambda initialized",
		"process_queue", cfg.AWS.ProcessQueueURL,
		"batch_size", cfg.Worker.BatchSize,
		"gateway_batch_limit", cfg.Gateway.BatchLimit,
		"time_budget", cfg.Worker.TimeBudget.String(),
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{}"}]}' | go run ./cmd/push-worker
	if cfg.Environment == "local" {
		if err := runLocal(context.Background(), handler, os.Stdin, logger); err != nil {
			logger.Error("Local invocation failed", "error", err)
			rt.Close()
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(ctx context.Context, handler *Handler, in io.Reader, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	response, err := handler.Handle(ctx, sqsEvent)
	if err != nil {
		return err
	}
	if len(response.BatchItemFailures) > 0 {
		logger.Warn("Handler reported partial failures", "failed_count", len(response.BatchItemFailures))
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}
	logger.Info("Handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}
