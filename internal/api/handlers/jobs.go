package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Smalik1203/ktscb-sub006/internal/core"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// JobReader loads a job by id.
type JobReader interface {
	Get(ctx context.Context, id string) (*types.NotificationJob, error)
}

// DeliveryCounter summarises the delivery log of one job.
type DeliveryCounter interface {
	CountByStatus(ctx context.Context, jobID string) (map[types.DeliveryStatus]int, error)
}

// JobResponse is the progress snapshot returned by GET /jobs/{id}.
type JobResponse struct {
	ID              string          `json:"id"`
	Event           string          `json:"event"`
	Status          types.JobStatus `json:"status"`
	Priority        int             `json:"priority"`
	TotalRecipients int             `json:"total_recipients"`
	ProcessedCount  int             `json:"processed_count"`
	SuccessCount    int             `json:"success_count"`
	FailedCount     int             `json:"failed_count"`
	BatchOffset     int             `json:"batch_offset"`
	HasMore         bool            `json:"has_more"`
	RetryCount      int             `json:"retry_count"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	// Deliveries counts log entries by status. Omitted when the log could
	// not be read.
	Deliveries map[types.DeliveryStatus]int `json:"deliveries,omitempty"`
}

// JobsHandler serves GET /jobs/{id}.
type JobsHandler struct {
	jobs   JobReader
	logs   DeliveryCounter
	logger *slog.Logger
}

// NewJobsHandler builds the handler. logs may be nil.
func NewJobsHandler(jobs JobReader, logs DeliveryCounter, l *slog.Logger) *JobsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &JobsHandler{jobs: jobs, logs: logs, logger: l}
}

func (h *JobsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/jobs/{id}", h.Get)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := JobResponse{
		ID:              job.ID,
		Event:           job.Event,
		Status:          job.Status,
		Priority:        job.Priority,
		TotalRecipients: job.TotalRecipients,
		ProcessedCount:  job.ProcessedCount,
		SuccessCount:    job.SuccessCount,
		FailedCount:     job.FailedCount,
		BatchOffset:     job.BatchOffset,
		HasMore:         job.HasMore(),
		RetryCount:      job.RetryCount,
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}

	if h.logs != nil {
		counts, err := h.logs.CountByStatus(r.Context(), job.ID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "failed to count deliveries", "job_id", job.ID, "error", err)
		} else {
			resp.Deliveries = counts
		}
	}

	core.JSON(w, r, http.StatusOK, resp)
}
