package pocketbase

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

// Observer is notified after every request to the record store.
// status is 0 when the request never produced a response.
type Observer func(method, collection string, status int, elapsed time.Duration)

// Client is an explicit session handle for a PocketBase-style record store.
// One Client is created per process and passed to every service that needs it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *AuthStore
	observe    Observer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithObserver installs a request observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// WithAuthStore shares an existing auth store with the client.
func WithAuthStore(a *AuthStore) Option {
	return func(c *Client) { c.auth = a }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the store at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		auth:       &AuthStore{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the store URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Auth returns the session's auth store.
func (c *Client) Auth() *AuthStore {
	return c.auth
}

type request struct {
	method      string
	collection  string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func jsonRequest(method, collection, path string, query url.Values, payload any) (request, error) {
	r := request{method: method, collection: collection, path: path, query: query}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return request{}, fmt.Errorf("marshaling request: %w", err)
		}
		r.body = bytes.NewReader(b)
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends the request and decodes a successful JSON response into out.
// A nil out discards the body.
func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.auth.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.notify(r, 0, start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()
	c.notify(r, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", r.path, err)
	}
	return nil
}

func (c *Client) notify(r request, status int, start time.Time) {
	elapsed := time.Since(start)
	c.logger.Debug("record store request", "method", r.method, "path", r.path, "status", status, "elapsed", elapsed)
	if c.observe != nil {
		c.observe(r.method, r.collection, status, elapsed)
	}
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

// FileURL builds the public URL of a file stored in a record's file field.
func (c *Client) FileURL(collection, recordID, filename string) string {
	if recordID == "" || filename == "" {
		return ""
	}
	return c.baseURL + "/api/files/" + url.PathEscape(collection) + "/" + url.PathEscape(recordID) + "/" + url.PathEscape(filename)
}
