// Package teachable implements directory.Directory against the Teachable REST API.
package teachable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bundlesync/internal/directory"
	"bundlesync/pkg/platform/sentinel"
	"bundlesync/pkg/secrets"
)

// DefaultBaseURL is the public Teachable developer API.
const DefaultBaseURL = "https://developers.teachable.com/v1"

// maxErrorBody bounds how much of a failed response is kept in error messages.
const maxErrorBody = 512

// Client calls the Teachable API with a school API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	passwords  func() (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithPasswordGenerator overrides how credentials for new accounts are generated.
func WithPasswordGenerator(gen func() (string, error)) Option {
	return func(c *Client) {
		if gen != nil {
			c.passwords = gen
		}
	}
}

// New constructs a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		passwords:  secrets.GeneratePassword,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// platformID holds ids that Teachable returns as JSON numbers.
type platformID string

func (p *platformID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*p = platformID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*p = platformID(s)
	return nil
}

type userResponse struct {
	ID    platformID `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
}

func (u userResponse) toAccount() *directory.Account {
	return &directory.Account{ID: string(u.ID), Email: u.Email, Name: u.Name}
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type enrollmentRequest struct {
	UserID   any `json:"user_id"`
	CourseID any `json:"course_id"`
}

// numericOrString sends numeric ids as JSON numbers, as the API expects.
func numericOrString(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// FindAccountByEmail looks up the first user with the given email.
func (c *Client) FindAccountByEmail(ctx context.Context, email string) (*directory.Account, error) {
	const op = "find account"
	q := url.Values{"email": []string{email}}
	resp, err := c.do(ctx, op, http.MethodGet, "/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, sentinel.ErrNotFound
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var body usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &directory.Error{Op: op, Category: directory.ErrorBadData, Underlying: err}
	}
	if len(body.Users) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return body.Users[0].toAccount(), nil
}

// CreateAccount registers a user with a freshly generated password. The password
// is sent once and not kept.
func (c *Client) CreateAccount(ctx context.Context, email, name string) (*directory.Account, error) {
	const op = "create account"
	password, err := c.passwords()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.do(ctx, op, http.MethodPost, "/users", createUserRequest{
		Name:     name,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &directory.Error{Op: op, Category: directory.ErrorBadData, Underlying: err}
	}
	if user.ID == "" {
		return nil, &directory.Error{Op: op, Category: directory.ErrorBadData, Message: "response has no user id"}
	}
	if user.Email == "" {
		user.Email = email
	}
	return user.toAccount(), nil
}

// Enroll grants one course to a user.
func (c *Client) Enroll(ctx context.Context, accountID, resourceID string) error {
	return c.enrollment(ctx, "enroll", "/enroll", accountID, resourceID)
}

// Unenroll removes one course from a user.
func (c *Client) Unenroll(ctx context.Context, accountID, resourceID string) error {
	return c.enrollment(ctx, "unenroll", "/unenroll", accountID, resourceID)
}

func (c *Client) enrollment(ctx context.Context, op, path, accountID, resourceID string) error {
	resp, err := c.do(ctx, op, http.MethodPost, path, enrollmentRequest{
		UserID:   numericOrString(accountID),
		CourseID: numericOrString(resourceID),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(fmt.Sprintf("%s (user=%s, course=%s)", op, accountID, resourceID), resp)
}

// Ping lists a single course to verify the API key.
func (c *Client) Ping(ctx context.Context) error {
	const op = "list courses"
	resp, err := c.do(ctx, op, http.MethodGet, "/courses?per_page=1", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(op, resp)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		category := directory.ErrorOutage
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			category = directory.ErrorTimeout
		}
		return nil, &directory.Error{Op: op, Category: category, Underlying: err}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &directory.Error{
		Op:         op,
		Category:   directory.CategoryFromStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
	}
}

var _ directory.Directory = (*Client)(nil)
