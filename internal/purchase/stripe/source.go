// Package stripe lists completed Checkout Sessions for one payment link.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"bundlesync/internal/purchase"
)

const (
	statusComplete = "complete"
	pageSize       = 100
)

// Source reads Checkout Sessions through the Stripe API.
type Source struct {
	api         *client.API
	paymentLink string
}

type options struct {
	backendURL string
	httpClient *http.Client
}

// Option configures a Source.
type Option func(*options)

// WithBackendURL points the client at another API host (stripe-mock, tests).
func WithBackendURL(url string) Option {
	return func(o *options) {
		o.backendURL = strings.TrimSpace(url)
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// New constructs a Source for a secret key and payment link.
func New(secretKey, paymentLink string, opts ...Option) (*Source, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if strings.TrimSpace(paymentLink) == "" {
		return nil, fmt.Errorf("payment link is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var backends *stripego.Backends
	if o.backendURL != "" || o.httpClient != nil {
		cfg := &stripego.BackendConfig{
			HTTPClient:        o.httpClient,
			MaxNetworkRetries: stripego.Int64(0),
		}
		if o.backendURL != "" {
			cfg.URL = stripego.String(o.backendURL)
		}
		backend := stripego.GetBackendWithConfig(stripego.APIBackend, cfg)
		backends = &stripego.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	return &Source{
		api:         client.New(secretKey, backends),
		paymentLink: paymentLink,
	}, nil
}

// ListCompletedSessions returns every complete session of the payment link created
// at or after since, following pagination to the end.
func (s *Source) ListCompletedSessions(ctx context.Context, since time.Time) ([]purchase.Session, error) {
	params := &stripego.CheckoutSessionListParams{
		PaymentLink: stripego.String(s.paymentLink),
		Status:      stripego.String(statusComplete),
	}
	params.Context = ctx
	params.Limit = stripego.Int64(pageSize)
	if !since.IsZero() {
		params.CreatedRange = &stripego.RangeQueryParams{GreaterThanOrEqual: since.Unix()}
	}

	var sessions []purchase.Session
	iter := s.api.CheckoutSessions.List(params)
	for iter.Next() {
		sessions = append(sessions, toSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list checkout sessions: %w", err)
	}
	return sessions, nil
}

// Latest returns the newest session of the payment link regardless of status, or
// nil when there is none. Used by connection checks.
func (s *Source) Latest(ctx context.Context) (*purchase.Session, error) {
	params := &stripego.CheckoutSessionListParams{
		PaymentLink: stripego.String(s.paymentLink),
	}
	params.Context = ctx
	params.Limit = stripego.Int64(1)
	params.Single = true

	iter := s.api.CheckoutSessions.List(params)
	if iter.Next() {
		session := toSession(iter.CheckoutSession())
		return &session, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list checkout sessions: %w", err)
	}
	return nil, nil
}

func toSession(cs *stripego.CheckoutSession) purchase.Session {
	session := purchase.Session{
		Reference: cs.ID,
		CreatedAt: time.Unix(cs.Created, 0).UTC(),
	}
	if cs.CustomerDetails != nil {
		session.Email = strings.TrimSpace(cs.CustomerDetails.Email)
		if name := strings.TrimSpace(cs.CustomerDetails.Name); name != "" {
			session.Name = &name
		}
	}
	if session.Email == "" {
		session.Email = strings.TrimSpace(cs.CustomerEmail)
	}
	return session
}

var _ purchase.Source = (*Source)(nil)
