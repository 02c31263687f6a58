// Package api is the HTTP client for the posts backend. It provides the page
// fetcher and view marker the feed controller consumes.
package api

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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reddot-watch/feedpager/internal/cache"
	"reddot-watch/feedpager/internal/models"
)

const (
	postsPath      = "posts"
	defaultTimeout = 10 * time.Second
	userAgent      = "feedpager/1.0"
)

// Client talks to the posts API.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	apiKey   string
	token    string
	cache    cache.Store
	cacheTTL time.Duration
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBearerToken sends an Authorization: Bearer header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCache consults store before GET requests and keeps successful responses
// for ttl unless a request sets its own CacheTime. A ttl <= 0 means cache.DefaultTTL.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			ttl = cache.DefaultTTL
		}
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithViewRate limits MarkViewed to perSecond calls, with a burst of one.
// Zero or negative disables the limit.
func WithViewRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for the API rooted at baseURL (e.g. http://host/v1).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base API URL %q: scheme and host required", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string // relative to the base URL
	Params url.Values
	Body   any

	// CacheTime overrides the client's cache TTL for this GET request.
	// Zero uses the client default, negative bypasses the cache.
	CacheTime time.Duration
}

// Do performs req and decodes a JSON response into out (which may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	endpoint, err := c.baseURL.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return fmt.Errorf("invalid endpoint path: %w", err)
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ttl := c.cacheTTL
	if req.CacheTime != 0 {
		ttl = req.CacheTime
	}
	cacheable := c.cache != nil && method == http.MethodGet && ttl > 0
	key := cache.Key(method, endpoint.String(), body, req.Params)

	if cacheable {
		cached, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.log.Debug().Str("url", endpoint.String()).Msg("Serving response from cache")
			return decode(cached, out)
		case !errors.Is(err, cache.ErrMiss):
			c.log.Warn().Err(err).Msg("Response cache lookup failed")
		}
	}

	if len(req.Params) > 0 {
		endpoint.RawQuery = req.Params.Encode()
	}

	respBody, err := c.send(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}

	if cacheable {
		if err := c.cache.Set(ctx, key, respBody, ttl); err != nil {
			c.log.Warn().Err(err).Msg("Failed to store response in cache")
		}
	}
	return decode(respBody, out)
}

func (c *Client) send(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	return respBody, nil
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return nil
}

// FetchPage loads one page of posts. Pages are 1-based.
func (c *Client) FetchPage(ctx context.Context, page int) ([]models.Post, error) {
	var posts []models.Post
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   postsPath,
		Params: url.Values{"page": {strconv.Itoa(page)}},
	}, &posts)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	return posts, nil
}

// MarkViewed records a view of post on the backend.
func (c *Client) MarkViewed(ctx context.Context, post models.Post) error {
	if post.ID == "" {
		return errors.New("mark viewed: post has no id")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   postsPath + "/" + url.PathEscape(post.ID) + "/view",
	}, nil)
	if err != nil {
		return fmt.Errorf("mark viewed %s: %w", post.ID, err)
	}
	c.log.Debug().Str("id", post.ID).Msg("Post viewed")
	return nil
}
