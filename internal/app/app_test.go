package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlesync/internal/ledger"
	"bundlesync/internal/platform/config"
	"bundlesync/internal/reconcile/handler"
	"bundlesync/internal/reconcile/models"
	"bundlesync/pkg/testutil"
)

// fakeUpstreams serves the Stripe and Teachable endpoints the jobs call.
type fakeUpstreams struct {
	mu      sync.Mutex
	enrolls int
	users   map[string]int
}

func (f *fakeUpstreams) stripe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"object":"list","url":"/v1/checkout/sessions","has_more":false,"data":[
		{"id":"cs_e2e","object":"checkout.session","created":1772356800,"status":"complete",
		 "customer_details":{"email":"Buyer@Example.com","name":"Buyer"}}]}`)
}

func (f *fakeUpstreams) teachable(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/users":
		id, ok := f.users[r.URL.Query().Get("email")]
		if !ok {
			_, _ = io.WriteString(w, `{"users":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"users": []map[string]any{{"id": id}}})
	case r.Method == http.MethodPost && r.URL.Path == "/users":
		var body struct{ Email string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := 500 + len(f.users)
		f.users[body.Email] = id
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "email": body.Email})
	case r.Method == http.MethodPost && r.URL.Path == "/enroll":
		f.enrolls++
		_, _ = io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestApp(t *testing.T) (*App, *fakeUpstreams) {
	t.Helper()
	up := &fakeUpstreams{users: make(map[string]int)}
	stripeSrv := httptest.NewServer(http.HandlerFunc(up.stripe))
	t.Cleanup(stripeSrv.Close)
	teachableSrv := httptest.NewServer(http.HandlerFunc(up.teachable))
	t.Cleanup(teachableSrv.Close)

	cfg := config.Config{
		Server:    config.ServerConfig{CronSecret: "s3cret"},
		Jobs:      config.JobsConfig{SyncLookback: 30 * 24 * time.Hour, BundleProduct: "pack-leyes-administrativo"},
		Ledger:    config.LedgerConfig{Driver: config.DriverMemory, Table: ledger.DefaultTable},
		Stripe:    config.StripeConfig{SecretKey: "sk_test", APIURL: stripeSrv.URL},
		Teachable: config.TeachableConfig{APIKey: "tk_test", BaseURL: teachableSrv.URL, Timeout: 5 * time.Second},
	}
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, up
}

func TestRouterRunsSyncEndToEnd(t *testing.T) {
	a, up := newTestApp(t)
	router := a.Router()

	rec := testutil.DoRequest(router, testutil.NewCronRequest(t, handler.PathCheckPayments, "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)

	report := testutil.DecodeJSON[models.SyncReport](t, rec)
	require.Empty(t, report.Errors)
	require.Len(t, report.NewEnrollments, 1)
	assert.Equal(t, "500", report.NewEnrollments[0].AccountID)
	assert.Equal(t, len(a.Bundle.Resources), up.enrolls)

	rec = testutil.DoRequest(router, testutil.NewCronRequest(t, handler.PathCheckPayments, "s3cret"))
	report = testutil.DecodeJSON[models.SyncReport](t, rec)
	assert.Empty(t, report.NewEnrollments)
	assert.Len(t, report.Skipped, 1)
	assert.Equal(t, len(a.Bundle.Resources), up.enrolls, "replay makes no enroll calls")

	rec = testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bundlesync_runs_total{job="sync",result="ok"} 2`)
}

func TestRouterGatesJobs(t *testing.T) {
	a, up := newTestApp(t)
	router := a.Router()

	rec := testutil.DoRequest(router, testutil.NewCronRequest(t, handler.PathCheckExpirations, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, up.enrolls)
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := config.Config{Ledger: config.LedgerConfig{Driver: config.DriverMemory}}
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "STRIPE_SECRET_KEY is required")
}

func TestOpenLedger(t *testing.T) {
	store, err := OpenLedger(context.Background(), config.LedgerConfig{Driver: config.DriverSQLite, SQLitePath: t.TempDir() + "/ledger.db"})
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), store))
	require.NoError(t, store.Close())

	store, err = OpenLedger(context.Background(), config.LedgerConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.NoError(t, Migrate(context.Background(), store))

	_, err = OpenLedger(context.Background(), config.LedgerConfig{Driver: "mongo"})
	assert.Error(t, err)
}
