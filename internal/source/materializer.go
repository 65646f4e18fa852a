// Package source glues resolution, byte fetching and resource
// construction into the single fetch primitive the cache store calls.
package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/reelfeed/internal/fetch"
	"github.com/example/reelfeed/internal/media"
	"github.com/example/reelfeed/internal/playback"
	"github.com/example/reelfeed/internal/resolver"
)

// Resolver is what the materializer needs from the resolution layer.
type Resolver interface {
	Resolve(ctx context.Context, identity, tier string) (resolver.Source, error)
}

// Fetcher is what the materializer needs from the byte-fetch layer.
type Fetcher interface {
	FetchHead(ctx context.Context, url string) (fetch.Result, error)
}

// Materializer builds playable resources for cache keys: resolve the
// identity+tier to a URL, pull the leading bytes, wrap them in a
// resource. Errors come back classified so the item state machine can
// tell a dead network from dead content.
type Materializer struct {
	Resolver Resolver
	Fetcher  Fetcher
	Log      *zap.Logger
}

func New(r Resolver, f Fetcher, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{Resolver: r, Fetcher: f, Log: log}
}

// Fetch implements playback.FetchFunc.
func (m *Materializer) Fetch(ctx context.Context, key playback.CacheKey) (playback.FetchResult, error) {
	src, err := m.Resolver.Resolve(ctx, key.Identity, key.Tier.String())
	if err != nil {
		return playback.FetchResult{}, playback.AsFetchError(err)
	}
	if src.Container != "" && !media.SupportedContainer(src.Container) {
		return playback.FetchResult{}, playback.NewFetchError(playback.KindUnsupported,
			fmt.Errorf("container %q not supported", src.Container))
	}

	head, err := m.Fetcher.FetchHead(ctx, src.URL)
	if err != nil {
		return playback.FetchResult{}, playback.AsFetchError(err)
	}

	size := head.TotalSize
	if src.SizeBytes > 0 {
		size = src.SizeBytes
	}
	dur := time.Duration(src.DurationSeconds * float64(time.Second))
	m.Log.Debug("materialized source",
		zap.String("video_id", key.Identity),
		zap.String("tier", key.Tier.String()),
		zap.Int64("size", size),
		zap.Duration("duration", dur))

	return playback.FetchResult{
		Resource: media.NewTimed(dur),
		Size:     size,
	}, nil
}
