// Package media supplies the playable-resource stand-in the daemon wires
// behind the playback core. Real frame decoding is out of scope; what
// the scheduler needs is something that advances an offset while
// playing, seeks, and announces end-of-stream — which a wall clock does
// fine.
package media

import (
	"sync"
	"time"
)

// Timed simulates playback of a stream with a known duration: the
// offset advances with wall time while playing and end-of-stream fires
// once the offset reaches the duration. Seeking back below the duration
// while playing re-arms the end timer, which is what gives the feed its
// infinite-loop semantics.
type Timed struct {
	mu        sync.Mutex
	duration  time.Duration
	base      time.Duration
	startedAt time.Time
	playing   bool
	closed    bool
	onEnded   func()
	timer     *time.Timer
}

func NewTimed(duration time.Duration) *Timed {
	if duration < 0 {
		duration = 0
	}
	return &Timed{duration: duration}
}

func (r *Timed) Duration() time.Duration { return r.duration }

func (r *Timed) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing || r.closed {
		return
	}
	r.playing = true
	r.startedAt = time.Now()
	r.armLocked()
}

func (r *Timed) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.playing {
		return
	}
	r.base = r.offsetLocked()
	r.playing = false
	r.disarmLocked()
}

func (r *Timed) Seek(offset time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > r.duration {
		offset = r.duration
	}
	r.base = offset
	if r.playing {
		r.startedAt = time.Now()
		r.armLocked()
	}
}

func (r *Timed) Offset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offsetLocked()
}

func (r *Timed) OnEnded(fn func()) {
	r.mu.Lock()
	r.onEnded = fn
	r.mu.Unlock()
}

func (r *Timed) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.playing = false
	r.disarmLocked()
	return nil
}

func (r *Timed) offsetLocked() time.Duration {
	off := r.base
	if r.playing {
		off += time.Since(r.startedAt)
	}
	if off > r.duration {
		off = r.duration
	}
	return off
}

func (r *Timed) armLocked() {
	r.disarmLocked()
	remaining := r.duration - r.base
	if remaining < 0 {
		remaining = 0
	}
	r.timer = time.AfterFunc(remaining, r.fireEnded)
}

func (r *Timed) disarmLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// fireEnded runs on the timer goroutine. The callback is invoked with no
// locks held so it may call back into Seek/Pause freely.
func (r *Timed) fireEnded() {
	r.mu.Lock()
	if r.closed || !r.playing {
		r.mu.Unlock()
		return
	}
	r.base = r.duration
	r.startedAt = time.Now()
	fn := r.onEnded
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
