package teachable

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlesync/internal/directory"
	"bundlesync/pkg/platform/sentinel"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   map[string]any
}

type fakeTeachable struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeTeachable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("apiKey"),
	}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, r)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeTeachable) {
	t.Helper()
	fake := &fakeTeachable{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := New(srv.URL+"/v1", "school-key",
		WithPasswordGenerator(func() (string, error) { return "generated-secret", nil }),
	)
	return client, fake
}

func TestFindAccountByEmail(t *testing.T) {
	t.Run("returns the first matching user", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"users":[{"id":4242,"name":"Ana","email":"a@x.com"}],"meta":{"total":1}}`))
		})

		account, err := client.FindAccountByEmail(context.Background(), "a+1@x.com")
		require.NoError(t, err)
		assert.Equal(t, &directory.Account{ID: "4242", Name: "Ana", Email: "a@x.com"}, account)

		require.Len(t, fake.requests, 1)
		assert.Equal(t, http.MethodGet, fake.requests[0].Method)
		assert.Equal(t, "/v1/users", fake.requests[0].Path)
		assert.Equal(t, "email=a%2B1%40x.com", fake.requests[0].Query)
		assert.Equal(t, "school-key", fake.requests[0].APIKey)
	})

	t.Run("empty result is not found", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"users":[]}`))
		})
		_, err := client.FindAccountByEmail(context.Background(), "a@x.com")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("404 is not found", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := client.FindAccountByEmail(context.Background(), "a@x.com")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("server errors are categorized", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		})
		_, err := client.FindAccountByEmail(context.Background(), "a@x.com")
		require.Error(t, err)
		assert.Equal(t, directory.ErrorOutage, directory.GetCategory(err))
		assert.Contains(t, err.Error(), "upstream down")
	})

	t.Run("malformed body is bad data", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		})
		_, err := client.FindAccountByEmail(context.Background(), "a@x.com")
		assert.Equal(t, directory.ErrorBadData, directory.GetCategory(err))
	})
}

func TestCreateAccount(t *testing.T) {
	t.Run("posts name, email and a generated password", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"981","name":"ana","email":"a@x.com"}`))
		})

		account, err := client.CreateAccount(context.Background(), "a@x.com", "ana")
		require.NoError(t, err)
		assert.Equal(t, "981", account.ID)

		require.Len(t, fake.requests, 1)
		req := fake.requests[0]
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/v1/users", req.Path)
		assert.Equal(t, "ana", req.Body["name"])
		assert.Equal(t, "a@x.com", req.Body["email"])
		assert.Equal(t, "generated-secret", req.Body["password"])
	})

	t.Run("failure does not echo the password", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"email taken"}`))
		})
		_, err := client.CreateAccount(context.Background(), "a@x.com", "ana")
		require.Error(t, err)
		assert.Equal(t, directory.ErrorRejected, directory.GetCategory(err))
		assert.NotContains(t, err.Error(), "generated-secret")
	})

	t.Run("generator failure stops the call", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		client.passwords = func() (string, error) { return "", errors.New("entropy exhausted") }
		_, err := client.CreateAccount(context.Background(), "a@x.com", "ana")
		require.Error(t, err)
		assert.Empty(t, fake.requests)
	})
}

func TestEnrollment(t *testing.T) {
	t.Run("enroll sends numeric ids", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		require.NoError(t, client.Enroll(context.Background(), "4242", "2665379"))

		require.Len(t, fake.requests, 1)
		assert.Equal(t, "/v1/enroll", fake.requests[0].Path)
		assert.Equal(t, float64(4242), fake.requests[0].Body["user_id"])
		assert.Equal(t, float64(2665379), fake.requests[0].Body["course_id"])
	})

	t.Run("unenroll keeps non-numeric ids as strings", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, client.Unenroll(context.Background(), "usr_abc", "crs_1"))
		assert.Equal(t, "/v1/unenroll", fake.requests[0].Path)
		assert.Equal(t, "usr_abc", fake.requests[0].Body["user_id"])
	})

	t.Run("conflict reads as already in state", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"user is not enrolled"}`))
		})
		err := client.Unenroll(context.Background(), "4242", "2665379")
		require.Error(t, err)
		assert.ErrorIs(t, err, directory.ErrAlreadyInState)
		assert.Contains(t, err.Error(), "unenroll (user=4242, course=2665379) failed (409)")
	})

	t.Run("validation failure is a rejection, not already in state", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"course_id is invalid"}`))
		})
		err := client.Enroll(context.Background(), "4242", "2665379")
		require.Error(t, err)
		assert.NotErrorIs(t, err, directory.ErrAlreadyInState)
		assert.Equal(t, directory.ErrorRejected, directory.GetCategory(err))
		assert.Contains(t, err.Error(), "failed (422)")
	})

	t.Run("timeouts are categorized", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := client.Enroll(ctx, "1", "2")
		require.Error(t, err)
		assert.Equal(t, directory.ErrorTimeout, directory.GetCategory(err))
	})
}

func TestPing(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apiKey") != "school-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"courses":[],"meta":{"total":11}}`))
	})
	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "/v1/courses", fake.requests[0].Path)
	assert.Equal(t, "per_page=1", fake.requests[0].Query)

	client.apiKey = "wrong"
	err := client.Ping(context.Background())
	assert.Equal(t, directory.ErrorAuthentication, directory.GetCategory(err))
}
