// Package gateway issues authenticated calls against the broker OpenAPI.
package gateway

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

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"saxotrader/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 8 << 10
)

// Authenticator supplies a bearer token, refreshing it first when stale.
type Authenticator interface {
	AccessToken(ctx context.Context) (string, error)
}

// RequestError is a non-2xx answer from a business endpoint.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Endpoint, e.Status, e.Body)
}

// Response is a successful API answer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the body into out.
func (r *Response) JSON(out any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get reads a single field using a gjson path.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Client wraps outbound calls with bearer authentication.
type Client struct {
	baseURL    string
	auth       Authenticator
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.FieldLogger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithRateLimit paces outbound requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New returns a client for the OpenAPI rooted at baseURL.
func New(baseURL string, auth Authenticator, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.StandardLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Request ensures a fresh token, issues the call once and returns the body.
// A non-2xx answer is a *RequestError; nothing is retried.
func (c *Client) Request(ctx context.Context, method, path string, body any, query url.Values) (*Response, error) {
	return c.do(ctx, method, path, body, query, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, query url.Values, header http.Header) (*Response, error) {
	bearer, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordAPIRequest(method, path, "error")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	fields := log.Fields{
		"method":   method,
		"endpoint": path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.RecordAPIRequest(method, path, "failure")
		c.logger.WithFields(fields).Warn("api request failed")
		return nil, &RequestError{
			Method:   method,
			Endpoint: path,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(data)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordAPIRequest(method, path, "error")
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}
	metrics.RecordAPIRequest(method, path, "success")
	c.logger.WithFields(fields).Debug("api request")

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
