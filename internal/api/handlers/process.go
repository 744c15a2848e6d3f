package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Smalik1203/ktscb-sub006/internal/core"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/worker"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// IdleMessage is returned when no job could be claimed.
const IdleMessage = "No pending notifications"

// Processor runs one worker invocation. worker.Worker satisfies it.
type Processor interface {
	Process(ctx context.Context, queueID string) (*worker.Outcome, error)
}

// ProcessRequest is the optional body of POST /process.
type ProcessRequest struct {
	QueueID string `json:"queue_id,omitempty"`
}

// IdleResponse is returned when there was nothing to do.
type IdleResponse struct {
	Idle    bool   `json:"idle"`
	Message string `json:"message"`
}

// CompletedResponse is returned by the invocation that finished a job.
type CompletedResponse struct {
	Completed    bool   `json:"completed"`
	JobID        string `json:"job_id"`
	TotalSuccess int    `json:"total_success"`
	TotalFailed  int    `json:"total_failed"`
}

// ProgressResponse summarises an invocation that left work for the next one.
// HasMore is informational; completion is decided by the worker alone.
type ProgressResponse struct {
	JobID           string `json:"job_id"`
	BatchProcessed  int    `json:"batch_processed"`
	BatchSuccess    int    `json:"batch_success"`
	BatchFailed     int    `json:"batch_failed"`
	BatchOffset     int    `json:"batch_offset"`
	TotalRecipients int    `json:"total_recipients"`
	HasMore         bool   `json:"has_more"`
	ElapsedMS       int64  `json:"elapsed_ms"`
}

// ProcessHandler serves POST /process.
type ProcessHandler struct {
	worker Processor
	logger *slog.Logger
}

func NewProcessHandler(p Processor, l *slog.Logger) *ProcessHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ProcessHandler{worker: p, logger: l}
}

func (h *ProcessHandler) RegisterRoutes(r chi.Router) {
	r.Post("/process", h.Process)
}

// Process runs one invocation for queue_id, or for the next pending job when
// it is absent.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := core.DecodeOptionalJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	queueID := strings.TrimSpace(req.QueueID)

	ctx := types.WithTraceID(r.Context(), types.GetRequestID(r.Context()))
	out, err := h.worker.Process(ctx, queueID)
	if err != nil {
		h.logger.ErrorContext(ctx, "process invocation failed", "queue_id", queueID, "error", err)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, ProcessResponseFor(out))
}

// ProcessResponseFor maps an outcome to one of the three response bodies.
func ProcessResponseFor(out *worker.Outcome) any {
	switch out.Kind {
	case worker.OutcomeIdle:
		return IdleResponse{Idle: true, Message: IdleMessage}
	case worker.OutcomeCompleted:
		return CompletedResponse{
			Completed:    true,
			JobID:        out.JobID,
			TotalSuccess: out.Progress.SuccessCount,
			TotalFailed:  out.Progress.FailedCount,
		}
	default:
		return ProgressResponse{
			JobID:           out.JobID,
			BatchProcessed:  out.BatchProcessed,
			BatchSuccess:    out.BatchSuccess,
			BatchFailed:     out.BatchFailed,
			BatchOffset:     out.Progress.BatchOffset,
			TotalRecipients: out.Progress.TotalRecipients,
			HasMore:         out.Progress.HasMore(),
			ElapsedMS:       out.Elapsed.Milliseconds(),
		}
	}
}
