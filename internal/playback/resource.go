package playback

import (
	"context"
	"time"
)

// Resource is the opaque, ready-to-play media primitive this package
// schedules. Decoding is somebody else's problem; the coordinator only
// starts, stops and repositions it.
type Resource interface {
	Play()
	Pause()
	Seek(offset time.Duration)
	Offset() time.Duration
	// OnEnded registers the end-of-stream callback. The callback must be
	// invoked from a goroutine that holds no Resource-internal locks.
	OnEnded(fn func())
	Close() error
}

// FetchResult is what a FetchFunc hands back once enough bytes exist to
// construct a playable resource.
type FetchResult struct {
	Resource Resource
	Size     int64
}

// FetchFunc materializes a playable resource for a cache key. It is
// called at most once per in-flight key regardless of how many items
// want the same content; see CacheStore.
type FetchFunc func(ctx context.Context, key CacheKey) (FetchResult, error)
