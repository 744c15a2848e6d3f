// Package handlers contains the HTTP handlers of the push pipeline API.
// Handlers decode and encode HTTP; the domain services own validation and
// state changes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Smalik1203/ktscb-sub006/internal/core"
	"github.com/Smalik1203/ktscb-sub006/internal/notifications/enqueue"
)

// Enqueuer accepts notification requests. enqueue.Service satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req enqueue.Request) (*enqueue.Response, error)
}

// EnqueueHandler serves POST /enqueue.
type EnqueueHandler struct {
	svc    Enqueuer
	logger *slog.Logger
}

func NewEnqueueHandler(svc Enqueuer, l *slog.Logger) *EnqueueHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EnqueueHandler{svc: svc, logger: l}
}

func (h *EnqueueHandler) RegisterRoutes(r chi.Router) {
	r.Post("/enqueue", h.Enqueue)
}

// Enqueue decodes the request and returns {success, queue_id, message}. The
// response is sent as soon as the job row exists; delivery happens in the
// worker.
func (h *EnqueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueue.Request
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	resp, err := h.svc.Enqueue(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "enqueue rejected", "error", err, "event", req.Event)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, resp)
}
