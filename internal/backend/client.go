// Package backend is a thin RPC facade over the sarafan node HTTP API. Every
// remote operation maps to one method; the client never retries and has no
// side effects beyond the request itself.
package backend

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

	"github.com/kingrea/sarafan/internal/magnet"
)

const (
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes int64 = 4 << 20

	opFetchPosts   = "fetch posts"
	opCreatePost   = "create post"
	opPublishPost  = "publish post"
	opAuthenticate = "authenticate"
)

// Client talks to a sarafan node over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	maxBodyBytes int64
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request. Zero (the default) waits until the
// backend answers or the caller's context ends.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodyBytes overrides the response body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// New creates a client rooted at baseURL, e.g. "http://localhost:9231/".
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return nil, fmt.Errorf("backend: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url must use http or https, got %q", parsed.Scheme)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	c := &Client{
		baseURL:      base,
		httpClient:   http.DefaultClient,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchPosts reads one page of the feed. An empty cursor fetches the first
// page.
func (c *Client) FetchPosts(ctx context.Context, cursor string) (FeedPage, error) {
	endpoint := c.baseURL + "api/posts"
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}
	var resp postsResponse
	if err := c.do(ctx, opFetchPosts, http.MethodGet, endpoint, nil, &resp); err != nil {
		return FeedPage{}, err
	}
	if resp.Result == nil {
		return FeedPage{}, &ProtocolError{Op: opFetchPosts, Detail: "response has no result field"}
	}
	page := FeedPage{Items: *resp.Result}
	if resp.NextCursor != nil {
		page.NextCursor = *resp.NextCursor
	}
	return page, nil
}

// CreatePost stages a post and returns its content address. The private key
// is not sent: the backend publishes immediately when it sees one, and
// publication is a separate step. The address must be a 64 character hex
// magnet; a backend that returns any other identifier fails as a
// *ProtocolError.
func (c *Client) CreatePost(ctx context.Context, text, privateKey string) (Estimate, error) {
	var resp Estimate
	if err := c.do(ctx, opCreatePost, http.MethodPost, c.baseURL+"api/create_post", createPostRequest{Text: text}, &resp); err != nil {
		return Estimate{}, err
	}
	resp.Magnet = magnet.Normalize(resp.Magnet)
	if !magnet.IsMagnet(resp.Magnet) {
		return Estimate{}, &ProtocolError{Op: opCreatePost, Detail: fmt.Sprintf("malformed magnet %q", resp.Magnet)}
	}
	return resp, nil
}

// PublishPost finalizes a previously estimated post.
func (c *Client) PublishPost(ctx context.Context, magnetID, privateKey string) (PublishResult, error) {
	var resp PublishResult
	body := publishRequest{Magnet: magnetID, PrivateKey: privateKey}
	if err := c.do(ctx, opPublishPost, http.MethodPost, c.baseURL+"api/publish", body, &resp); err != nil {
		return PublishResult{}, err
	}
	if strings.TrimSpace(resp.Status) == "" {
		return PublishResult{}, &ProtocolError{Op: opPublishPost, Detail: "response has no status"}
	}
	return resp, nil
}

// Authenticate validates a private key against the backend.
func (c *Client) Authenticate(ctx context.Context, privateKey string) (Identity, error) {
	var resp Identity
	if err := c.do(ctx, opAuthenticate, http.MethodPost, c.baseURL+"api/authenticate", authenticateRequest{PrivateKey: privateKey}, &resp); err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(resp.Identity) == "" {
		return Identity{}, &ProtocolError{Op: opAuthenticate, Detail: "response has no identity"}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, payload, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("backend: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("backend: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return &NetworkError{Op: op, URL: endpoint, Err: err}
	}
	if int64(len(raw)) > c.maxBodyBytes {
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Detail: fmt.Sprintf("response exceeds %d bytes", c.maxBodyBytes)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Detail: snippet(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var typeErr *json.UnmarshalTypeError
		detail := "invalid JSON body"
		switch {
		case len(raw) == 0:
			detail = "empty body"
		case errors.As(err, &typeErr):
			detail = "unexpected JSON shape"
		}
		return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Detail: detail, Err: err}
	}
	return nil
}

func snippet(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return text
}
