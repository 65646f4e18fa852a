package playback

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeResource is a hand-cranked Resource: the offset only moves when a
// test says so.
type fakeResource struct {
	mu         sync.Mutex
	offset     time.Duration
	playing    bool
	closed     bool
	onEnded    func()
	playCalls  int
	pauseCalls int
	seeks      []time.Duration
}

func (r *fakeResource) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
	r.playCalls++
}

func (r *fakeResource) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	r.pauseCalls++
}

func (r *fakeResource) Seek(offset time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
	r.seeks = append(r.seeks, offset)
}

func (r *fakeResource) Offset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *fakeResource) OnEnded(fn func()) {
	r.mu.Lock()
	r.onEnded = fn
	r.mu.Unlock()
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeResource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeResource) advance(d time.Duration) {
	r.mu.Lock()
	r.offset += d
	r.mu.Unlock()
}

func (r *fakeResource) fireEnded() {
	r.mu.Lock()
	fn := r.onEnded
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fetchController scripts fetch outcomes per cache key: block behind a
// gate, fail with a given error, or succeed with a fresh fakeResource.
type fetchController struct {
	mu        sync.Mutex
	calls     map[string]int
	gates     map[string]chan struct{}
	errs      map[string]error
	sizes     map[string]int64
	resources map[string][]*fakeResource
}

func newFetchController() *fetchController {
	return &fetchController{
		calls:     make(map[string]int),
		gates:     make(map[string]chan struct{}),
		errs:      make(map[string]error),
		sizes:     make(map[string]int64),
		resources: make(map[string][]*fakeResource),
	}
}

func (f *fetchController) Fetch(ctx context.Context, key CacheKey) (FetchResult, error) {
	k := key.String()
	f.mu.Lock()
	f.calls[k]++
	gate := f.gates[k]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return FetchResult{}, ctx.Err()
		case <-gate:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[k]; err != nil {
		return FetchResult{}, err
	}
	r := &fakeResource{}
	f.resources[k] = append(f.resources[k], r)
	size := f.sizes[k]
	if size == 0 {
		size = 1
	}
	return FetchResult{Resource: r, Size: size}, nil
}

func (f *fetchController) gate(key CacheKey) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[key.String()] = ch
	f.mu.Unlock()
	return ch
}

func (f *fetchController) fail(key CacheKey, err error) {
	f.mu.Lock()
	f.errs[key.String()] = err
	f.mu.Unlock()
}

func (f *fetchController) succeed(key CacheKey) {
	f.mu.Lock()
	delete(f.errs, key.String())
	delete(f.gates, key.String())
	f.mu.Unlock()
}

func (f *fetchController) callCount(key CacheKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key.String()]
}

func (f *fetchController) lastResource(key CacheKey) *fakeResource {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.resources[key.String()]
	if len(rs) == 0 {
		return nil
	}
	return rs[len(rs)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
