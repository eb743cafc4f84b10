// Package client is a typed Go client for the todo API.
package client

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

	"github.com/Paul-frank/bluegreen-todo-api/internal/handlers"
	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("todo api: %d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("todo api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client talks to one deployment of the API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the API rooted at baseURL, e.g.
// "http://localhost:3000" or "http://lb/blue".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateInput is the body of POST /todos.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
}

// UpdateInput is the body of PUT /todos/{id}. Nil fields are left unchanged.
type UpdateInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// ListParams filters and pages GET /todos. Zero values are omitted.
type ListParams struct {
	Completed *bool
	Page      int
	Limit     int
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Completed != nil {
		q.Set("completed", strconv.FormatBool(*p.Completed))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (handlers.HealthResponse, error) {
	var out handlers.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

// Root calls GET /.
func (c *Client) Root(ctx context.Context) (handlers.RootResponse, error) {
	var out handlers.RootResponse
	err := c.do(ctx, http.MethodGet, "/", nil, nil, &out)
	return out, err
}

// List calls GET /todos.
func (c *Client) List(ctx context.Context, params ListParams) (handlers.ListResponse, error) {
	var out handlers.ListResponse
	err := c.do(ctx, http.MethodGet, "/todos", params.query(), nil, &out)
	return out, err
}

// Create calls POST /todos and returns the stored record.
func (c *Client) Create(ctx context.Context, in CreateInput) (models.Todo, error) {
	var out handlers.TodoResponse
	err := c.do(ctx, http.MethodPost, "/todos", nil, in, &out)
	return out.Data, err
}

// Get calls GET /todos/{id}.
func (c *Client) Get(ctx context.Context, id string) (models.Todo, error) {
	var out handlers.TodoResponse
	err := c.do(ctx, http.MethodGet, todoPath(id), nil, nil, &out)
	return out.Data, err
}

// Update calls PUT /todos/{id} and returns the updated record.
func (c *Client) Update(ctx context.Context, id string, in UpdateInput) (models.Todo, error) {
	var out handlers.TodoResponse
	err := c.do(ctx, http.MethodPut, todoPath(id), nil, in, &out)
	return out.Data, err
}

// Delete calls DELETE /todos/{id} and returns the removed record.
func (c *Client) Delete(ctx context.Context, id string) (models.Todo, error) {
	var out handlers.TodoResponse
	err := c.do(ctx, http.MethodDelete, todoPath(id), nil, nil, &out)
	return out.Data, err
}

func todoPath(id string) string {
	return "/todos/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil {
			if env.Message != "" {
				apiErr.Message = env.Message
			}
			apiErr.Detail = env.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
