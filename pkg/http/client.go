package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxErrorBody caps how much of a failed response ends up in a StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// IsPermanent reports whether err is a response that retrying will not change.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Temporary()
}

// Request describes one call. A non-nil Body is sent as JSON.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    interface{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// Client is a small JSON-over-HTTP client.
type Client struct {
	timeout   time.Duration
	transport http.RoundTripper
	client    *http.Client
}

// NewClient creates a client with a 30s timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	c.client = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithInsecureTLS skips certificate verification, for servers with self-signed certificates.
func WithInsecureTLS(skip bool) ClientOption {
	return func(c *Client) {
		if skip {
			c.transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
	}
}

// Do sends req and decodes a 2xx JSON body into dest when dest is not nil.
func (c *Client) Do(ctx context.Context, req Request, dest interface{}) error {
	hr, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(hr)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, hr.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", hr.URL.Path, err)
	}
	return nil
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, dest interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Headers: headers}, dest)
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if len(req.Query) > 0 {
		q := hr.URL.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		hr.URL.RawQuery = q.Encode()
	}
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}
	if body != nil && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", "application/json")
	}
	hr.Header.Set("Accept", "application/json")
	return hr, nil
}
