// Package testutil provides request helpers shared by handler and app tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewCronRequest builds a GET job trigger carrying the secret as the key query parameter.
// An empty key leaves the request unauthenticated.
func NewCronRequest(t *testing.T, path, key string) *http.Request {
	t.Helper()
	target := path
	if key != "" {
		target += "?key=" + url.QueryEscape(key)
	}
	return httptest.NewRequest(http.MethodGet, target, nil)
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON unmarshals a recorded response body, failing the test on error.
func DecodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "failed to decode response body")
	return v
}

// IndentJSON re-indents a compact JSON body so golden files stay readable.
func IndentJSON(t *testing.T, body []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, json.Indent(&out, body, "", "  "))
	return out.Bytes()
}
