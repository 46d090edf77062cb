// Package metadata records who triggered a request so job runs and rejected
// triggers can be traced back to a scheduler.
package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKeyCaller struct{}

// Caller identifies the origin of a request.
type Caller struct {
	IP        string
	UserAgent string
}

// Attrs returns the caller as slog key/value pairs.
func (c Caller) Attrs() []any {
	return []any{"client_ip", c.IP, "user_agent", c.UserAgent}
}

// Middleware stores the request Caller in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := Caller{IP: ClientIP(r), UserAgent: r.Header.Get("User-Agent")}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// WithCaller injects a Caller into a context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, contextKeyCaller{}, caller)
}

// FromContext returns the stored Caller, or the zero value outside a request.
func FromContext(ctx context.Context) Caller {
	caller, _ := ctx.Value(contextKeyCaller{}).(Caller)
	return caller
}

// ClientIP resolves the originating address behind proxies: the first
// X-Forwarded-For hop, then X-Real-IP, then RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
