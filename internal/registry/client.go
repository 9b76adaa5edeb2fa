// Package registry is the HTTP client for the upstream package registry.
//
// The upstream is rate-sensitive: crawler etiquette asks for at most one
// request per second and an identifying user agent. The client enforces
// both itself so callers (including the request broker, which already
// serializes calls) never have to think about pacing.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"regwatch/pkg/logx"
)

const DefaultBaseURL = "https://crates.io/api/v1"

const (
	defaultRatePerSec = 1
	defaultTimeout    = 30 * time.Second

	// Error bodies are logged/surfaced truncated; upstream HTML error
	// pages can be large.
	maxErrorBody = 512
)

type Config struct {
	BaseURL    string
	UserAgent  string
	RatePerSec int
	Timeout    time.Duration
}

// APIError is a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("registry: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	http    *http.Client
	base    string
	ua      string
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		return nil, errors.New("registry: user agent is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    base,
		ua:      ua,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}, nil
}

// Search queries the registry by free-text term, sorted by relevance.
func (c *Client) Search(ctx context.Context, term string) (SearchPage, error) {
	u := c.base + "/crates?q=" + url.QueryEscape(term) + "&sort=relevance"
	var resp searchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return SearchPage{}, err
	}
	return SearchPage{Packages: resp.Crates, Total: resp.Meta.Total}, nil
}

// Get fetches a single package by id.
func (c *Client) Get(ctx context.Context, id string) (Package, error) {
	u := c.base + "/crates/" + url.PathEscape(id)
	var resp packageResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return Package{}, err
	}
	return resp.Crate, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	// Pace first: a cancelled wait must not consume a token slot.
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Trace("registry call", logx.String("url", u), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}
