package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is an HTTP-layer failure: no response, a non-2xx status, or a
// malformed body. StatusCode is 0 when no response was received.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport: %s", e.Message)
	}
	return fmt.Sprintf("transport: status %d: %s", e.StatusCode, e.Message)
}

// Client issues authenticated JSON calls against the backend API. GETs
// are retried with bounded exponential backoff on transient failure;
// writes are issued exactly once, since send is not idempotent on the
// backend side.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithRetry(maxAttempts int, base, ceiling time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if base > 0 {
			c.backoffBase = base
		}
		if ceiling > 0 {
			c.backoffCap = ceiling
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 3,
		backoffBase: 100 * time.Millisecond,
		backoffCap:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches path (plus optional query parameters) and decodes the
// response into out. Transient failures are retried up to the
// configured attempt budget.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, attempt); err != nil {
				return err
			}
			slog.Debug("retrying read", "url", u, "attempt", attempt)
		}

		err := c.do(ctx, http.MethodGet, u, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

// Post issues the request exactly once: no automatic retry.
func (c *Client) Post(ctx context.Context, path string, headers http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.roundTrip(req, out)
}

// Delete issues the request exactly once; a 204 or empty body is success.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode json: %v body=%q", err, string(raw)),
		}
	}
	return nil
}

// errorMessage extracts the backend's {error: string} envelope, falling
// back to the raw body when the envelope is absent.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	if len(raw) == 0 {
		return "empty response body"
	}
	return string(raw)
}

// retryable reports whether a read failure is worth another attempt:
// network errors and 5xx responses only. Client errors (4xx) mean the
// request itself is wrong.
func retryable(err error) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}
	return te.StatusCode == 0 || te.StatusCode >= 500
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := c.backoffBase << (attempt - 2)
	if d > c.backoffCap {
		d = c.backoffCap
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
