package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Smalik1203/ktscb-sub006/internal/notifications/worker"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

func TestProcessHandler_Idle(t *testing.T) {
	p := &mockProcessor{}
	p.On("Process", mock.Anything, "").Return(&worker.Outcome{Kind: worker.OutcomeIdle}, nil)

	rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"idle":true,"message":"No pending notifications"}`, rec.Body.String())
}

func TestProcessHandler_Completed(t *testing.T) {
	p := &mockProcessor{}
	p.On("Process", mock.Anything, "job-1").Return(&worker.Outcome{
		Kind:     worker.OutcomeCompleted,
		JobID:    "job-1",
		Progress: types.JobProgress{JobID: "job-1", Status: types.JobStatusCompleted, SuccessCount: 2, FailedCount: 1, ProcessedCount: 3, TotalRecipients: 3, BatchOffset: 3},
	}, nil)

	rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", `{"queue_id":" job-1 "}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"completed":true,"job_id":"job-1","total_success":2,"total_failed":1}`, rec.Body.String())
	p.AssertExpectations(t)
}

func TestProcessHandler_Progressed(t *testing.T) {
	p := &mockProcessor{}
	p.On("Process", mock.Anything, "job-2").Return(&worker.Outcome{
		Kind:           worker.OutcomeProgressed,
		JobID:          "job-2",
		BatchProcessed: 500,
		BatchSuccess:   498,
		BatchFailed:    2,
		Progress:       types.JobProgress{JobID: "job-2", Status: types.JobStatusProcessing, TotalRecipients: 1200, BatchOffset: 500, ProcessedCount: 500},
		Elapsed:        1500 * time.Millisecond,
		Chained:        true,
	}, nil)

	rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", `{"queue_id":"job-2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"job_id":"job-2",
		"batch_processed":500,
		"batch_success":498,
		"batch_failed":2,
		"batch_offset":500,
		"total_recipients":1200,
		"has_more":true,
		"elapsed_ms":1500
	}`, rec.Body.String())
}

func TestProcessHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"lease lost", types.NewAppError(types.ErrCodeConflictLeaseLost, "job lease is no longer held by this worker", nil), http.StatusConflict, "conflict_job_lease_lost"},
		{"resolver failed", types.NewAppError(types.ErrCodeInternalResolver, "failed to resolve recipients", nil), http.StatusInternalServerError, "internal_resolver_failed"},
		{"unexpected", errors.New("pgx: conn busy"), http.StatusInternalServerError, "internal_unexpected_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProcessor{}
			p.On("Process", mock.Anything, "").Return(nil, tt.err)

			rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", `{}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
			assert.NotContains(t, rec.Body.String(), "conn busy")
		})
	}
}

func TestProcessHandler_PropagatesTraceID(t *testing.T) {
	p := &mockProcessor{}
	p.On("Process", mock.MatchedBy(func(ctx context.Context) bool {
		return types.GetTraceID(ctx) == "req-1"
	}), "").Return(&worker.Outcome{Kind: worker.OutcomeIdle}, nil)

	rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	p.AssertExpectations(t)
}

func TestProcessHandler_RejectsUnknownFields(t *testing.T) {
	p := &mockProcessor{}
	rec := serve(NewProcessHandler(p, discardLogger()).RegisterRoutes, http.MethodPost, "/process", `{"job":"x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}
