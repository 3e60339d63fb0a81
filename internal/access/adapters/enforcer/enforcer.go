// Package enforcer submits approved policy grants to the external enforcement service over HTTP.
package enforcer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jitaccess/internal/access/models"
)

const (
	DefaultPath    = "/requests/grant"
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// StatusError is returned when the enforcer answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("policy enforcer returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("policy enforcer returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient implements ports.PolicyEnforcer. Each SubmitGrant is a single
// POST; retries belong to the caller.
type HTTPClient struct {
	base      string
	path      string
	endpoint  string
	client    *http.Client
	timeout   time.Duration
	authToken string
}

type Option func(*HTTPClient)

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(c *HTTPClient) {
		if path != "" {
			c.path = "/" + strings.TrimLeft(path, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAuthToken sends "Authorization: Bearer <token>" on every submission.
func WithAuthToken(token string) Option {
	return func(c *HTTPClient) {
		c.authToken = token
	}
}

// New builds a client for baseURL, which must be an absolute http(s) URL.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse enforcer url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("enforcer url must be an absolute http(s) url, got %q", baseURL)
	}
	c := &HTTPClient{
		base:    strings.TrimRight(u.String(), "/"),
		path:    DefaultPath,
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.endpoint = c.base + c.path
	return c, nil
}

type grantPayload struct {
	TTL    string        `json:"ttl"`
	Policy policyPayload `json:"policy"`
}

type policyPayload struct {
	User   string          `json:"user"`
	Tool   string          `json:"tool"`
	Source json.RawMessage `json:"source"`
}

// SubmitGrant posts grant and reports any transport failure or non-2xx status.
func (c *HTTPClient) SubmitGrant(ctx context.Context, grant models.PolicyGrant) error {
	source := grant.ActionParams
	if len(source) == 0 {
		source = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(grantPayload{
		TTL: grant.TTL.String(),
		Policy: policyPayload{
			User:   grant.Requester.String(),
			Tool:   grant.ActionName,
			Source: source,
		},
	})
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", grant.RequestID.String())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit grant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// The byte limit can split a rune; keep the body valid UTF-8.
		body := strings.ToValidUTF8(string(raw), "")
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
