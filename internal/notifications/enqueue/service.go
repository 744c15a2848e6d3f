// Package enqueue accepts notification requests, persists them as pending
// jobs, and asks the process queue for a worker invocation without waiting
// for delivery.
package enqueue

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Smalik1203/ktscb-sub006/internal/notifications/core"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// QueuedMessage is returned with every accepted request.
const QueuedMessage = "Notification queued for delivery"

// Request is the POST /enqueue contract.
type Request struct {
	Event    string        `json:"event" validate:"notblank"`
	Title    string        `json:"title" validate:"notblank"`
	Body     string        `json:"body" validate:"notblank"`
	Data     types.Payload `json:"data,omitempty"`
	Targets  *Targets      `json:"targets" validate:"required"`
	Priority *int          `json:"priority,omitempty" validate:"omitempty,min=0,max=100"`
}

// Targets names the audience by explicit user ids or by school. Audiences
// beyond 10000 users should use a school_code.
type Targets struct {
	UserIDs    []string `json:"user_ids,omitempty" validate:"omitempty,max=10000,dive,notblank"`
	SchoolCode string   `json:"school_code,omitempty"`
}

// Response is the success body of POST /enqueue.
type Response struct {
	Success bool   `json:"success"`
	QueueID string `json:"queue_id"`
	Message string `json:"message"`
}

// StructValidator validates tagged request structs and returns validation
// AppErrors. core.Validator satisfies it.
type StructValidator interface {
	ValidateStruct(s interface{}) error
}

// JobCreator persists new jobs.
type JobCreator interface {
	Create(ctx context.Context, p types.NewJobParams) (*types.NotificationJob, error)
}

// Service implements the enqueue operation.
type Service struct {
	Jobs      JobCreator
	Scheduler types.ProcessScheduler
	Validator StructValidator
	Metrics   core.PipelineMetrics
	Log       *slog.Logger
}

// Enqueue validates req, creates a pending job, and publishes a process
// message for it. A publish failure is logged and metered but the request
// still succeeds; the reclaimer re-publishes stale pending jobs.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Response, error) {
	if s.Validator != nil {
		if err := s.Validator.ValidateStruct(req); err != nil {
			return nil, err
		}
	}

	var targets types.JobTargets
	if req.Targets != nil {
		targets = normalizeTargets(*req.Targets)
	}
	if targets.IsEmpty() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingTargets,
			"targets must contain user_ids or a school_code", nil)
	}

	priority := types.DefaultJobPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	job, err := s.Jobs.Create(ctx, types.NewJobParams{
		Event:      strings.TrimSpace(req.Event),
		Title:      req.Title,
		Body:       req.Body,
		Data:       req.Data,
		Targets:    targets,
		Priority:   priority,
		MaxRetries: types.DefaultJobMaxRetries,
	})
	if err != nil {
		if types.HasCode(err, types.ErrCodeInternalEnqueue) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeInternalEnqueue, "failed to enqueue notification", err)
	}

	log := s.logger().With("queue_id", job.ID, "event", job.Event, "trace_id", types.GetTraceID(ctx))
	log.InfoContext(ctx, "notification job enqueued",
		"priority", job.Priority,
		"user_ids", len(targets.UserIDs),
		"school_code", targets.SchoolCode,
	)
	s.metrics().RecordEnqueued(ctx, job.Event)

	if s.Scheduler != nil {
		if err := s.Scheduler.ScheduleProcess(ctx, job.ID, types.ProcessReasonEnqueue); err != nil {
			log.WarnContext(ctx, "failed to schedule worker, job left for reclaimer", "error", err)
			s.metrics().RecordEnqueuePublishFailure(ctx)
		}
	}

	return &Response{Success: true, QueueID: job.ID, Message: QueuedMessage}, nil
}

// normalizeTargets trims ids and drops duplicates while keeping order. When
// user ids are given the school code is ignored.
func normalizeTargets(t Targets) types.JobTargets {
	if len(t.UserIDs) == 0 {
		return types.JobTargets{SchoolCode: strings.TrimSpace(t.SchoolCode)}
	}

	seen := make(map[string]struct{}, len(t.UserIDs))
	ids := make([]string, 0, len(t.UserIDs))
	for _, id := range t.UserIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return types.JobTargets{UserIDs: ids}
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Service) metrics() core.PipelineMetrics {
	if s.Metrics == nil {
		return core.NoopMetrics{}
	}
	return s.Metrics
}
