// Package cronsecret gates scheduler-triggered endpoints behind a shared secret.
package cronsecret

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"bundlesync/pkg/platform/httputil"
	"bundlesync/pkg/platform/middleware/metadata"
	"bundlesync/pkg/requestcontext"
)

const (
	// QueryParam carries the secret in the URL, for schedulers that cannot set headers.
	QueryParam = "key"
	// Header carries the secret in a request header.
	Header = "X-Cron-Secret"
)

// Require rejects requests whose secret does not match expected with
// 401 {"error":"Unauthorized"}. An empty expected secret rejects everything.
func Require(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.URL.Query().Get(QueryParam)
			if provided == "" {
				provided = r.Header.Get(Header)
			}
			if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				ctx := r.Context()
				args := append([]any{
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				}, metadata.FromContext(ctx).Attrs()...)
				logger.WarnContext(ctx, "cron secret mismatch", args...)
				httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
