package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"bundlesync/internal/reconcile/models"
	"bundlesync/pkg/platform/httputil"
	"bundlesync/pkg/platform/middleware/metadata"
	"bundlesync/pkg/requestcontext"
)

// Route paths polled by the external scheduler.
const (
	PathCheckPayments    = "/api/cron/check-payments"
	PathCheckExpirations = "/api/cron/check-expirations"
)

// Service defines the reconciliation jobs the handler triggers.
type Service interface {
	Sync(ctx context.Context) *models.SyncReport
	Sweep(ctx context.Context) *models.SweepReport
}

// Handler exposes the reconciliation jobs over HTTP. Concurrent triggers of the same
// job share one run and receive the same report.
type Handler struct {
	service Service
	logger  *slog.Logger
	runs    singleflight.Group
}

// New constructs a reconcile handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the job endpoints on the router. Callers apply the cron secret
// gate to the router first.
func (h *Handler) Register(r chi.Router) {
	r.Get(PathCheckPayments, h.HandleCheckPayments)
	r.Get(PathCheckExpirations, h.HandleCheckExpirations)
}

// HandleCheckPayments handles GET /api/cron/check-payments.
func (h *Handler) HandleCheckPayments(w http.ResponseWriter, r *http.Request) {
	report := h.run(r, "sync", func(ctx context.Context) any {
		return h.service.Sync(ctx)
	})
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleCheckExpirations handles GET /api/cron/check-expirations.
func (h *Handler) HandleCheckExpirations(w http.ResponseWriter, r *http.Request) {
	report := h.run(r, "sweep", func(ctx context.Context) any {
		return h.service.Sweep(ctx)
	})
	httputil.WriteJSON(w, http.StatusOK, report)
}

// run executes job once per concurrent burst. The run is detached from the request
// so a disconnecting caller does not abort work other callers are waiting on.
func (h *Handler) run(r *http.Request, job string, fn func(ctx context.Context) any) any {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	args := append([]any{"request_id", requestID, "job", job}, metadata.FromContext(ctx).Attrs()...)

	h.logger.DebugContext(ctx, "job triggered", args...)
	report, _, shared := h.runs.Do(job, func() (any, error) {
		return fn(context.WithoutCancel(ctx)), nil
	})
	if shared {
		h.logger.InfoContext(ctx, "joined in-flight run", args...)
	}
	return report
}
