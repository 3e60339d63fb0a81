package main

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
)

// apiError is a non-2xx answer of the server.
type apiError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *apiError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Description)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

type client struct {
	baseURL   string
	principal string
	token     string
	bearer    string
	http      *http.Client
}

func newClient(baseURL, principal, token, bearer string) (*client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("--server must be an http(s) url, got %q", baseURL)
	}
	if strings.TrimSpace(principal) == "" && bearer == "" {
		return nil, fmt.Errorf("--principal (or JIT_PRINCIPAL) is required")
	}
	return &client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		principal: strings.TrimSpace(principal),
		token:     token,
		bearer:    bearer,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type requestView struct {
	ID           string          `json:"id"`
	Requester    string          `json:"requester"`
	ActionName   string          `json:"action_name"`
	ActionParams json.RawMessage `json:"action_params"`
	RequestedTTL string          `json:"requested_ttl"`
	GrantedTTL   string          `json:"granted_ttl,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Status       string          `json:"status"`
	Approver     string          `json:"approver,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
	Grant        *grantView      `json:"grant,omitempty"`
}

type grantView struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func (c *client) create(ctx context.Context, body map[string]any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/access/requests", nil, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *client) decide(ctx context.Context, reqID, action, ttl string) (*requestView, error) {
	body := map[string]string{"action": action}
	if ttl != "" {
		body["ttl"] = ttl
	}
	var out requestView
	if err := c.do(ctx, http.MethodPost, "/access/requests/"+url.PathEscape(reqID)+"/decision", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) describe(ctx context.Context, reqID string) (*requestView, error) {
	var out requestView
	if err := c.do(ctx, http.MethodGet, "/access/requests/"+url.PathEscape(reqID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) list(ctx context.Context, query url.Values) ([]requestView, error) {
	var out struct {
		Requests []requestView `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/access/requests", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *client) retryGrant(ctx context.Context, reqID string) (*requestView, error) {
	var out requestView
	if err := c.do(ctx, http.MethodPost, "/access/requests/"+url.PathEscape(reqID)+"/grant/retry", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.principal != "" {
		req.Header.Set("X-Principal", c.principal)
	}
	if c.token != "" {
		req.Header.Set("X-Api-Token", c.token)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
