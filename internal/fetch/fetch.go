// Package fetch provides the shared HTTP client used by every source adapter.
// Requests are throttled through a named rate limiter before they leave the
// process, and non-2xx responses surface as *Error values carrying the status.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "IETY Research Bot (contact@example.com)"

// Result holds the raw response of a request.
type Result struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
}

// Error represents an error during a request.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// Limiter throttles outbound calls per named service.
type Limiter interface {
	Acquire(ctx context.Context, name string, n int) error
}

// Options configures a Client.
type Options struct {
	// Service names the rate limiter bucket. Empty disables throttling.
	Service   string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	Username  string
	Password  string
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// Client issues rate-limited HTTP requests against one service.
type Client struct {
	opts    Options
	http    *http.Client
	limiter Limiter
	logger  *zap.Logger
}

// New creates a Client. limiter may be nil.
func New(opts *Options, limiter Limiter, logger *zap.Logger) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    o,
		http:    &http.Client{Timeout: o.Timeout},
		limiter: limiter,
		logger:  logger.Named("fetch").With(zap.String("service", o.Service)),
	}
}

// Service returns the limiter name the client throttles against.
func (c *Client) Service() string {
	return c.opts.Service
}

// Resolve joins path onto the base URL. Absolute URLs are returned unchanged.
func (c *Client) Resolve(path string, query url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{URL: raw, Message: "invalid URL", Cause: err}
	}
	if len(query) > 0 {
		q := parsed.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}

// Do performs a request. A non-2xx response returns the Result together with
// an *Error carrying the status code.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*Result, error) {
	target, err := c.Resolve(path, query)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{URL: target, Message: "failed to encode request body", Cause: err}
		}
		reader = bytes.NewReader(payload)
	}

	if c.limiter != nil && c.opts.Service != "" {
		if err := c.limiter.Acquire(ctx, c.opts.Service, 1); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", c.opts.Service, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{URL: target, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{URL: target, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: target, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	result := &Result{
		URL:         target,
		Body:        bodyBytes,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, &Error{
			URL:        target,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	return result, nil
}

// Get fetches path and returns the raw body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Result, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	result, err := c.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decode(result, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	result, err := c.Do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	return decode(result, out)
}

func decode(result *Result, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.Body, out); err != nil {
		return &Error{URL: result.URL, StatusCode: result.StatusCode, Message: "failed to decode JSON", Cause: err}
	}
	return nil
}
