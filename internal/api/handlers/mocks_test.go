package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	"github.com/Smalik1203/ktscb-sub006/internal/notifications/enqueue"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/worker"
	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

type mockEnqueuer struct{ mock.Mock }

func (m *mockEnqueuer) Enqueue(ctx context.Context, req enqueue.Request) (*enqueue.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*enqueue.Response)
	return resp, args.Error(1)
}

type mockProcessor struct{ mock.Mock }

func (m *mockProcessor) Process(ctx context.Context, queueID string) (*worker.Outcome, error) {
	args := m.Called(ctx, queueID)
	out, _ := args.Get(0).(*worker.Outcome)
	return out, args.Error(1)
}

type mockJobReader struct{ mock.Mock }

func (m *mockJobReader) Get(ctx context.Context, id string) (*types.NotificationJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*types.NotificationJob)
	return job, args.Error(1)
}

type mockDeliveryCounter struct{ mock.Mock }

func (m *mockDeliveryCounter) CountByStatus(ctx context.Context, jobID string) (map[types.DeliveryStatus]int, error) {
	args := m.Called(ctx, jobID)
	counts, _ := args.Get(0).(map[types.DeliveryStatus]int)
	return counts, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve routes one request through a router with the handler mounted.
func serve(register func(chi.Router), method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	register(r)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
