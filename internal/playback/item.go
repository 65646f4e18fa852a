package playback

import (
	"context"

	"go.uber.org/zap"
)

// State is the lifecycle phase of one feed slot's media resource.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePaused
	StatePlaying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Position is a slot index in the feed's visible sequence. It is stable
// only while the corresponding cell is attached and is not an identity
// of content.
type Position int

// Item is the per-slot state machine owning one media resource's
// lifecycle. All mutation happens under the coordinator's lock; the only
// concurrency it deals with is its own in-flight fetch, fenced by a
// generation counter so a stale completion can never touch a slot that
// has since been rebound.
type Item struct {
	c *Coordinator

	pos       Position
	identity  string
	requested QualityTier
	effective QualityTier

	state    State
	err      *FetchError
	wantPlay bool // play intent latched while loading

	gen    uint64
	cancel context.CancelFunc
	key    CacheKey
	res    Resource
}

// bindLocked points the slot at new content. Any prior in-flight work is
// cancelled and the old resource fully released before the new identity
// is installed; this ordering is the safety property the whole subsystem
// leans on during cell reuse.
func (it *Item) bindLocked(identity string, requested QualityTier) {
	it.detachLocked()
	it.identity = identity
	it.requested = requested
}

// loadLocked begins materializing a resource. No-op unless idle.
func (it *Item) loadLocked() {
	if it.state != StateIdle || it.identity == "" {
		return
	}
	it.gen++
	gen := it.gen
	ctx, cancel := context.WithCancel(it.c.baseCtx)
	it.cancel = cancel
	it.effective = it.c.quality.Resolve(it.requested)
	it.key = CacheKey{Identity: it.identity, Tier: it.effective}
	it.state = StateLoading
	it.err = nil

	key := it.key
	go func() {
		res, err := it.c.cache.Acquire(ctx, key, it.c.fetch)
		it.c.mu.Lock()
		defer it.c.mu.Unlock()
		if it.gen != gen {
			// Slot was rebound or detached while we fetched; hand the
			// reference straight back.
			if err == nil {
				it.c.cache.Release(key)
			}
			return
		}
		it.loadDoneLocked(res, err)
		it.c.applySelectionLocked()
	}()
}

func (it *Item) loadDoneLocked(res Resource, err error) {
	it.cancel = nil
	if err != nil {
		fe := AsFetchError(err)
		if fe.Kind == KindCancelled {
			// Expected during teardown/reuse; not a user-visible error.
			it.state = StateIdle
			it.wantPlay = false
			return
		}
		it.state = StateError
		it.err = fe
		it.wantPlay = false
		it.c.log.Warn("item load failed",
			zap.Int("position", int(it.pos)),
			zap.String("video_id", it.identity),
			zap.String("kind", fe.Kind.String()),
			zap.Error(fe))
		if it.c.events != nil {
			it.c.events.PlaybackError(it.identity, fe.Kind)
		}
		return
	}

	it.res = res
	if off, ok := it.c.progress.LastOffset(it.identity); ok {
		res.Seek(off)
	} else {
		res.Seek(0)
	}
	gen := it.gen
	pos := it.pos
	res.OnEnded(func() { it.c.onEnded(pos, gen) })
	it.state = StatePaused
	if it.wantPlay {
		it.wantPlay = false
		it.playLocked()
	}
}

// playLocked is idempotent: playing stays playing, loading latches the
// intent, error and empty slots ignore the command.
func (it *Item) playLocked() {
	switch it.state {
	case StatePlaying:
	case StateLoading:
		it.wantPlay = true
	case StatePaused:
		it.res.Play()
		it.state = StatePlaying
		if it.c.events != nil {
			it.c.events.PlaybackStarted(it.identity, it.effective)
		}
	default:
		// Idle or error: playing requires a load/retry first.
	}
}

// pauseLocked is idempotent and also clears any latched play intent so a
// loading loser cannot start playing when its fetch lands.
func (it *Item) pauseLocked() {
	it.wantPlay = false
	if it.state != StatePlaying {
		return
	}
	it.res.Pause()
	it.state = StatePaused
	it.flushProgressLocked()
}

// retryLocked re-runs a failed load. Only meaningful from the error state.
func (it *Item) retryLocked() {
	if it.state != StateError {
		return
	}
	it.state = StateIdle
	it.err = nil
	it.loadLocked()
}

// setQualityLocked tears down and rebuilds the resource at a new tier,
// preserving the playback offset and the playing/paused state.
func (it *Item) setQualityLocked(tier QualityTier) {
	if tier == it.requested {
		return
	}
	it.requested = tier
	switch it.state {
	case StateIdle, StateError:
		return // next load picks up the new tier
	}
	resume := it.state == StatePlaying || it.wantPlay
	it.flushProgressLocked()
	it.cancelWorkLocked()
	it.releaseLocked()
	it.state = StateIdle
	it.err = nil
	it.wantPlay = resume
	it.loadLocked()
}

// detachLocked flushes progress, releases the cache reference, cancels
// outstanding work and returns the slot to idle. Idempotent.
func (it *Item) detachLocked() {
	it.cancelWorkLocked()
	it.flushProgressLocked()
	it.releaseLocked()
	it.identity = ""
	it.state = StateIdle
	it.err = nil
	it.wantPlay = false
}

// suspendLocked drops the resource but keeps the identity bound, for
// slots pushed outside the tracking window. A later visibility update
// that brings the slot back in range reloads it.
func (it *Item) suspendLocked() {
	if it.state == StateIdle && it.res == nil && it.cancel == nil {
		return
	}
	it.cancelWorkLocked()
	it.flushProgressLocked()
	it.releaseLocked()
	it.state = StateIdle
	it.err = nil
	it.wantPlay = false
}

func (it *Item) cancelWorkLocked() {
	it.gen++
	if it.cancel != nil {
		it.cancel()
		it.cancel = nil
	}
}

func (it *Item) flushProgressLocked() {
	if it.res == nil || it.identity == "" {
		return
	}
	it.c.progress.Record(it.identity, it.res.Offset())
}

func (it *Item) releaseLocked() {
	if it.res == nil {
		return
	}
	if it.state == StatePlaying {
		it.res.Pause()
	}
	it.res = nil
	it.c.cache.Release(it.key)
}
