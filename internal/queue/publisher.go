// Package queue provides the SQS producer that requests worker invocations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ProcessPublisher implements types.ProcessScheduler. Each call puts one
// ProcessMessage on the process queue; the worker Lambda consumes it.
//
// An empty jobID asks the worker to claim whatever job is next in line.
type ProcessPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

var _ types.ProcessScheduler = (*ProcessPublisher)(nil)

// NewProcessPublisher creates a publisher bound to a single queue URL.
func NewProcessPublisher(client SQSSender, queueURL string, logger *slog.Logger) *ProcessPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessPublisher{client: client, queueURL: queueURL, logger: logger}
}

// ScheduleProcess publishes a process request. The trace ID in ctx is
// carried along so one job's invocations can be correlated.
func (p *ProcessPublisher) ScheduleProcess(ctx context.Context, jobID string, reason types.ProcessReason) error {
	traceID := types.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	msg := types.ProcessMessage{JobID: jobID, Reason: reason, TraceID: traceID}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ProcessMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(reason)),
			},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send ProcessMessage for job %q: %w", jobID, err)
	}

	attrs := []any{"job_id", jobID, "reason", string(reason), "trace_id", traceID}
	if out != nil && out.MessageId != nil {
		attrs = append(attrs, "message_id", *out.MessageId)
	}
	p.logger.InfoContext(ctx, "process message sent", attrs...)
	return nil
}

// DecodeProcessMessage parses an SQS body. An empty or "{}" body decodes
// to a message with no job ID.
func DecodeProcessMessage(body string) (types.ProcessMessage, error) {
	var msg types.ProcessMessage
	if body == "" {
		return msg, nil
	}
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("queue: malformed ProcessMessage: %w", err)
	}
	return msg, nil
}
