// Package fetch pulls the leading byte range of a media URL — enough to
// construct a playable resource — with bounded retries and an optional
// circuit breaker in front of the origin.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds the retry and range policy.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	// HeadBytes is how much of the file to pull up front. The rest
	// streams on demand once playback starts.
	HeadBytes int64
	UserAgent string
}

// Result carries the leading bytes plus what the origin told us about
// the whole object.
type Result struct {
	Head        []byte
	TotalSize   int64
	ContentType string
}

type Client struct {
	HTTPClient *http.Client
	Config     Config
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.HeadBytes <= 0 {
		cfg.HeadBytes = 256 << 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reelfeed/1.0"
	}
	c := &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Config:     cfg,
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchHead downloads the first HeadBytes of url.
func (c *Client) FetchHead(ctx context.Context, url string) (Result, error) {
	if c.CB == nil {
		return c.fetchWithRetry(ctx, url)
	}
	out, err := c.CB.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, url)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

func (c *Client) fetchWithRetry(ctx context.Context, url string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying fetch", zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		out, err := c.fetchOnce(ctx, url)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
		c.Log.Warn("fetch failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}
	return Result{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", c.Config.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", c.Config.HeadBytes-1))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		// Drain a little for the error message, then bail.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("fetch: status %d body=%q", resp.StatusCode, string(b))
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, c.Config.HeadBytes))
	if err != nil {
		return Result{}, err
	}

	out := Result{
		Head:        head,
		ContentType: resp.Header.Get("Content-Type"),
		TotalSize:   int64(len(head)),
	}
	if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
		out.TotalSize = total
	} else if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		out.TotalSize = resp.ContentLength
	}
	return out, nil
}

// totalFromContentRange parses the complete length out of a
// "bytes 0-1023/4096" style header.
func totalFromContentRange(h string) (int64, bool) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, false
	}
	i := strings.LastIndex(h, "/")
	if i < 0 || i == len(h)-1 {
		return 0, false
	}
	tail := h[i+1:]
	if tail == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
