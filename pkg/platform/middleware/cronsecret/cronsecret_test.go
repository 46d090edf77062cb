package cronsecret

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequire(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		expected string
		target   string
		header   string
		wantCode int
	}{
		{name: "query key matches", expected: "s3cret", target: "/run?key=s3cret", wantCode: http.StatusOK},
		{name: "header matches", expected: "s3cret", target: "/run", header: "s3cret", wantCode: http.StatusOK},
		{name: "query key takes precedence over header", expected: "s3cret", target: "/run?key=wrong", header: "s3cret", wantCode: http.StatusUnauthorized},
		{name: "missing secret", expected: "s3cret", target: "/run", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", expected: "s3cret", target: "/run?key=nope", wantCode: http.StatusUnauthorized},
		{name: "unset expected secret rejects empty input", expected: "", target: "/run", wantCode: http.StatusUnauthorized},
		{name: "unset expected secret rejects any input", expected: "", target: "/run?key=x", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(Header, tt.header)
			}
			rec := httptest.NewRecorder()

			Require(tt.expected, logger)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCode == http.StatusOK, called)
			if tt.wantCode == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}
