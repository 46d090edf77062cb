package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bundlesync/pkg/platform/httputil"
	"bundlesync/pkg/requestcontext"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type check struct {
	name   string
	pinger Pinger
}

// Health serves liveness based on the ledger connection and any optional backends.
type Health struct {
	checks  []check
	logger  *slog.Logger
	timeout time.Duration
}

// HealthOption configures Health.
type HealthOption func(*Health)

// WithCheck adds a named dependency to the health probe.
func WithCheck(name string, p Pinger) HealthOption {
	return func(h *Health) {
		h.checks = append(h.checks, check{name: name, pinger: p})
	}
}

// NewHealth constructs a health handler.
func NewHealth(ledger Pinger, logger *slog.Logger, opts ...HealthOption) *Health {
	h := &Health{
		checks:  []check{{name: "ledger", pinger: ledger}},
		logger:  logger,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts GET /healthz.
func (h *Health) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
}

// HandleHealth returns 200 when every dependency answers a ping, 503 otherwise.
func (h *Health) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.pinger.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				"request_id", requestcontext.RequestID(ctx),
				"dependency", c.name,
				"error", err,
			)
			httputil.WriteError(w, http.StatusServiceUnavailable, "unavailable", "")
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
