package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestFetchHeadPartialContent(t *testing.T) {
	body := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=0-63" {
			t.Errorf("unexpected range header %q", got)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-63/4096")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(Config{HeadBytes: 64, MaxRetries: 1, RetryBaseDelay: time.Millisecond})
	out, err := c.FetchHead(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(out.Head) != 64 {
		t.Fatalf("expected 64 head bytes, got %d", len(out.Head))
	}
	if out.TotalSize != 4096 {
		t.Fatalf("expected total from Content-Range, got %d", out.TotalSize)
	}
	if out.ContentType != "video/mp4" {
		t.Fatalf("unexpected content type %q", out.ContentType)
	}
}

func TestFetchHeadFullResponseFallsBackToContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	c := New(Config{HeadBytes: 1024, MaxRetries: 1, RetryBaseDelay: time.Millisecond})
	out, err := c.FetchHead(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if out.TotalSize != 4 {
		t.Fatalf("expected content-length fallback of 4, got %d", out.TotalSize)
	}
}

func TestFetchHeadRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, HeadBytes: 16})
	out, err := c.FetchHead(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if string(out.Head) != "ok" {
		t.Fatalf("unexpected body %q", out.Head)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchHeadExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{MaxRetries: 2, RetryBaseDelay: time.Millisecond, HeadBytes: 16})
	if _, err := c.FetchHead(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 { // initial attempt + 2 retries
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchHeadCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{MaxRetries: 5, RetryBaseDelay: time.Hour, HeadBytes: 16})
	start := time.Now()
	_, err := c.FetchHead(ctx, srv.URL)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation did not short-circuit the backoff")
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "origin",
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})
	c := New(Config{MaxRetries: 0, RetryBaseDelay: time.Millisecond, HeadBytes: 16},
		WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchHead(context.Background(), srv.URL); err == nil {
			t.Fatal("expected failure")
		}
	}
	if _, err := c.FetchHead(context.Background(), srv.URL); err != gobreaker.ErrOpenState {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestTotalFromContentRange(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"bytes 0-1023/4096", 4096, true},
		{"bytes 0-1023/*", 0, false},
		{"", 0, false},
		{"garbage", 0, false},
		{"bytes 0-1023/", 0, false},
		{"bytes 0-1023/-5", 0, false},
	}
	for _, tc := range cases {
		got, ok := totalFromContentRange(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("totalFromContentRange(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDefaultsApplied(t *testing.T) {
	c := New(Config{})
	if c.Config.MaxRetries != 3 || c.Config.HeadBytes != 256<<10 {
		t.Fatalf("defaults not applied: %+v", c.Config)
	}
	if c.Config.UserAgent == "" {
		t.Fatal("expected default user agent")
	}
}
