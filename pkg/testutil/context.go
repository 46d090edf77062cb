package testutil

import (
	"net/http"
	"time"

	"bundlesync/pkg/requestcontext"
)

// WithRunTime pins the instant a job run observes, as the request time middleware would.
func WithRunTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}

// WithRequestID tags the request with a correlation id.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
