// Package client is a small REST client for the CRM API. List endpoints are
// decoded whether the server wraps them in {"data": [...]} or returns a bare
// array.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"salescrm/api/internal/analytics"
	"salescrm/api/internal/store"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response. Code and Message come from the error body
// when it has the usual shape.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crm api returned status %d", e.Status)
	}
	return fmt.Sprintf("crm api returned status %d: %s (%s)", e.Status, e.Message, e.Code)
}

// SignIn exchanges credentials for an access token and uses it for later
// calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *Client) ListDeals(ctx context.Context) ([]store.Deal, error) {
	return list[store.Deal](ctx, c, "/api/deals")
}

func (c *Client) ListTasks(ctx context.Context) ([]store.Task, error) {
	return list[store.Task](ctx, c, "/api/tasks")
}

func (c *Client) ListUsers(ctx context.Context) ([]store.User, error) {
	return list[store.User](ctx, c, "/api/users")
}

func (c *Client) Dashboard(ctx context.Context, months int) (analytics.Dashboard, error) {
	var out analytics.Dashboard
	path := "/api/analytics/dashboard"
	if months > 0 {
		path += "?months=" + strconv.Itoa(months)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Snapshot fetches deals, tasks and users concurrently.
type Snapshot struct {
	Users []store.User
	Deals []store.Deal
	Tasks []store.Task
}

func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Users, err = c.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Deals, err = c.ListDeals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Tasks, err = c.ListTasks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return DecodeList[T](raw)
}

// DecodeList accepts a bare JSON array, an object with a "data" array, or
// null.
func DecodeList[T any](raw []byte) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}

	items := []T{}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode list envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode list data: %w", err)
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(bodyBytes, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
