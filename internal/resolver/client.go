// Package resolver turns a stable video identity plus a quality tier
// into a concrete, fetchable media source. Resolution goes through an
// HTTP endpoint and is memoized in Redis with a TTL.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source is one playable rendition of a video.
type Source struct {
	URL             string  `json:"url"`
	Quality         string  `json:"quality"`
	Container       string  `json:"container"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      *SourceCache
	Log        *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithCache(cache *SourceCache) Option {
	return func(c *Client) { c.Cache = cache }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the source for identity at tier, consulting the cache
// first. Cache failures degrade to a direct resolve; they are logged,
// never fatal.
func (c *Client) Resolve(ctx context.Context, identity, tier string) (Source, error) {
	key := "source:" + identity + ":" + tier

	var cached Source
	hit, err := c.Cache.Get(ctx, key, &cached)
	if err != nil {
		c.Log.Warn("source cache get", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	src, err := c.resolve(ctx, identity, tier)
	if err != nil {
		return Source{}, err
	}

	if err := c.Cache.Set(ctx, key, src); err != nil {
		c.Log.Warn("source cache set", zap.String("key", key), zap.Error(err))
	}
	return src, nil
}

func (c *Client) resolve(ctx context.Context, identity, tier string) (Source, error) {
	endpoint := c.BaseURL + "/v1/resolve/" + url.PathEscape(identity) + "?tier=" + url.QueryEscape(tier)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Source{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Source{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Source{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Source{}, fmt.Errorf("resolver: status %d body=%q", resp.StatusCode, string(b[:min(len(b), 200)]))
	}

	var src Source
	if err := json.Unmarshal(b, &src); err != nil {
		return Source{}, fmt.Errorf("resolver: decode error: %w", err)
	}
	if src.URL == "" {
		return Source{}, fmt.Errorf("resolver: empty source url for %s@%s", identity, tier)
	}
	return src, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
