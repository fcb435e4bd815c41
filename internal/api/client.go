// Package api is the HTTP client for the assistant backend: streaming and
// non-streaming chat, conversation CRUD, and login.
package api

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

	"github.com/google/uuid"
	"github.com/soyeahso/compass/internal/logging"
	"github.com/soyeahso/compass/internal/stream"
	"github.com/soyeahso/compass/internal/version"
)

// agentPrefix is where the assistant routes are mounted on the backend.
const agentPrefix = "/api/agent"

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds non-streaming calls. Streams are bounded only by their
	// context.
	Timeout time.Duration
	// Retries is how many extra attempts idempotent GETs get.
	Retries int
	// RetryBackoff is the base delay between attempts; attempt n waits n*RetryBackoff.
	RetryBackoff time.Duration
}

// Client talks to the backend over HTTP.
type Client struct {
	cfg    Config
	base   *url.URL
	tokens TokenSource
	http   *http.Client // non-streaming calls
	stream *http.Client // streaming calls, no overall timeout
	log    *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for both streaming and
// non-streaming calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = hc
	}
}

// New creates a backend client.
func New(cfg Config, tokens TokenSource, log *logging.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		tokens: tokens,
		http:   &http.Client{Timeout: cfg.Timeout},
		stream: &http.Client{},
		log:    log.Sub("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// newRequest builds a request with JSON body, auth, and a request id.
func (c *Client) newRequest(ctx context.Context, method, path string, body any, auth bool) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("User-Agent", version.UserAgent())

	if auth {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends req and decodes a JSON response into out (if non-nil).
// Non-2xx responses become *stream.TransportError.
func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &stream.TransportError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("requestId", req.Header.Get("X-Request-ID")).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stream.ErrorFromResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &stream.TransportError{StatusCode: resp.StatusCode, Message: "decoding response", Err: err}
	}
	return nil
}

// get performs an idempotent GET with retries.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.withRetry(ctx, path, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil, true)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}
