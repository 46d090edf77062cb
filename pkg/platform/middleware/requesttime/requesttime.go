// Package requesttime provides middleware for request-scoped time.
// Every record written during one triggered job run shares the same "now",
// so enrolled_at, expires_at and unenrolled_at line up with the run report.
package requesttime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"bundlesync/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request together with
// chi's request ID and stores both in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		if requestID := middleware.GetReqID(ctx); requestID != "" {
			ctx = requestcontext.WithRequestID(ctx, requestID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
