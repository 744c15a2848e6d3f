package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Smalik1203/ktscb-sub006/internal/notifications/enqueue"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

func TestEnqueueHandler_Success(t *testing.T) {
	svc := &mockEnqueuer{}
	svc.On("Enqueue", mock.Anything, mock.MatchedBy(func(req enqueue.Request) bool {
		return req.Event == "exam_reminder" &&
			req.Targets != nil &&
			assert.ObjectsAreEqual([]string{"u1", "u2", "u3"}, req.Targets.UserIDs) &&
			req.Priority == nil
	})).Return(&enqueue.Response{Success: true, QueueID: "q-1", Message: enqueue.QueuedMessage}, nil)

	h := NewEnqueueHandler(svc, discardLogger())
	rec := serve(h.RegisterRoutes, http.MethodPost, "/enqueue",
		`{"event":"exam_reminder","title":"Exam Tomorrow","body":"Don't forget!","targets":{"user_ids":["u1","u2","u3"]}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"queue_id":"q-1","message":"Notification queued for delivery"}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestEnqueueHandler_ValidationError(t *testing.T) {
	svc := &mockEnqueuer{}
	svc.On("Enqueue", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeValidationMissingTargets, "targets must contain user_ids or a school_code", nil))

	rec := serve(NewEnqueueHandler(svc, discardLogger()).RegisterRoutes, http.MethodPost, "/enqueue",
		`{"event":"e","title":"t","body":"b","targets":{}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"validation_missing_targets"`)
	assert.Contains(t, rec.Body.String(), `"request_id":"req-1"`)
}

func TestEnqueueHandler_EnqueueFailure(t *testing.T) {
	svc := &mockEnqueuer{}
	svc.On("Enqueue", mock.Anything, mock.Anything).
		Return(nil, types.NewAppError(types.ErrCodeInternalEnqueue, "failed to enqueue notification", nil))

	rec := serve(NewEnqueueHandler(svc, discardLogger()).RegisterRoutes, http.MethodPost, "/enqueue",
		`{"event":"e","title":"t","body":"b","targets":{"school_code":"S1"}}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_enqueue_failed")
}

func TestEnqueueHandler_BadJSONNeverReachesService(t *testing.T) {
	tests := map[string]string{
		"malformed":     `{"event":`,
		"unknown field": `{"event":"e","title":"t","body":"b","targets":{"school_code":"S"},"extra":1}`,
		"empty":         ``,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			svc := &mockEnqueuer{}
			rec := serve(NewEnqueueHandler(svc, discardLogger()).RegisterRoutes, http.MethodPost, "/enqueue", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "validation_invalid_json")
			svc.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		})
	}
}
