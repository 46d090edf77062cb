package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stripeStub struct {
	mu      sync.Mutex
	queries []url.Values
	pages   []string
}

func (s *stripeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path != "/v1/checkout/sessions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.queries = append(s.queries, r.URL.Query())
	page := s.pages[0]
	if len(s.pages) > 1 {
		s.pages = s.pages[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(page))
}

func sessionJSON(id string, created int64, details string) string {
	return fmt.Sprintf(`{"id":%q,"object":"checkout.session","created":%d,"status":"complete",%s}`, id, created, details)
}

func listJSON(hasMore bool, items ...string) string {
	data := ""
	for i, item := range items {
		if i > 0 {
			data += ","
		}
		data += item
	}
	return fmt.Sprintf(`{"object":"list","url":"/v1/checkout/sessions","has_more":%t,"data":[%s]}`, hasMore, data)
}

func newStubbedSource(t *testing.T, stub *stripeStub) *Source {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	src, err := New("sk_test_123", "plink_test", WithBackendURL(srv.URL))
	require.NoError(t, err)
	return src
}

func TestNew(t *testing.T) {
	_, err := New("", "plink_test")
	assert.Error(t, err)
	_, err = New("sk_test", " ")
	assert.Error(t, err)
}

func TestListCompletedSessions(t *testing.T) {
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	t.Run("filters by payment link, status and creation time", func(t *testing.T) {
		stub := &stripeStub{pages: []string{listJSON(false,
			sessionJSON("cs_1", 1788307200, `"customer_details":{"email":"A@x.com","name":"Ana"}`),
		)}}
		src := newStubbedSource(t, stub)

		sessions, err := src.ListCompletedSessions(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "cs_1", sessions[0].Reference)
		assert.Equal(t, "A@x.com", sessions[0].Email)
		require.NotNil(t, sessions[0].Name)
		assert.Equal(t, "Ana", *sessions[0].Name)
		assert.Equal(t, time.Unix(1788307200, 0).UTC(), sessions[0].CreatedAt)

		require.Len(t, stub.queries, 1)
		q := stub.queries[0]
		assert.Equal(t, "plink_test", q.Get("payment_link"))
		assert.Equal(t, "complete", q.Get("status"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, fmt.Sprint(since.Unix()), q.Get("created[gte]"))
	})

	t.Run("falls back to customer_email and leaves a missing name nil", func(t *testing.T) {
		stub := &stripeStub{pages: []string{listJSON(false,
			sessionJSON("cs_2", 1788307200, `"customer_details":{"email":"","name":""},"customer_email":"b@x.com"`),
			sessionJSON("cs_3", 1788307300, `"customer_details":null`),
		)}}
		src := newStubbedSource(t, stub)

		sessions, err := src.ListCompletedSessions(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "b@x.com", sessions[0].Email)
		assert.Nil(t, sessions[0].Name)
		assert.False(t, sessions[1].HasEmail())
	})

	t.Run("follows pagination in arrival order", func(t *testing.T) {
		stub := &stripeStub{pages: []string{
			listJSON(true, sessionJSON("cs_b", 1788307300, `"customer_email":"b@x.com"`)),
			listJSON(false, sessionJSON("cs_a", 1788307200, `"customer_email":"a@x.com"`)),
		}}
		src := newStubbedSource(t, stub)

		sessions, err := src.ListCompletedSessions(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "cs_b", sessions[0].Reference)
		assert.Equal(t, "cs_a", sessions[1].Reference)
		require.Len(t, stub.queries, 2)
		assert.Equal(t, "cs_b", stub.queries[1].Get("starting_after"))
	})
}

func TestListCompletedSessionsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`))
	}))
	t.Cleanup(srv.Close)

	src, err := New("sk_test_bad", "plink_test", WithBackendURL(srv.URL))
	require.NoError(t, err)

	_, err = src.ListCompletedSessions(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list checkout sessions")
}
