package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSink receives fire-and-forget playback telemetry. Implementations
// must never block; a nil sink disables events.
type EventSink interface {
	PlaybackStarted(identity string, tier QualityTier)
	PlaybackProgress(identity string, offset time.Duration)
	PlaybackError(identity string, kind ErrorKind)
}

// Config carries the tuning constants of the scheduling policy. The
// exact numbers are product decisions, not correctness requirements.
type Config struct {
	// VisibilityThreshold is the area fraction a slot must exceed to be
	// eligible to play. Zero means the default of 0.5.
	VisibilityThreshold float64
	// TrackingWindow is how many positions beyond the visible range may
	// hold a resource. Zero means the default of 1.
	TrackingWindow int
	// ProgressInterval is the cadence of progress recording while
	// playing. Zero means the default of 500ms.
	ProgressInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.VisibilityThreshold <= 0 {
		c.VisibilityThreshold = 0.5
	}
	if c.TrackingWindow <= 0 {
		c.TrackingWindow = 1
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 500 * time.Millisecond
	}
	return c
}

// Visibility is one slot's share of the screen as reported by the UI.
type Visibility struct {
	Position Position
	Area     float64
}

// ItemStatus is the observable per-slot state for UI binding.
type ItemStatus struct {
	Position Position      `json:"position"`
	VideoID  string        `json:"video_id"`
	State    string        `json:"state"`
	Tier     string        `json:"tier"`
	OffsetMs int64         `json:"offset_ms"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"error_kind,omitempty"`
}

// Deps are the collaborators a Coordinator schedules between.
type Deps struct {
	Cache    *CacheStore
	Quality  *QualitySelector
	Progress ProgressStore
	Fetch    FetchFunc
	Events   EventSink
	Logger   *zap.Logger
}

// Coordinator is the single arbiter for a feed: it decides which slot
// may play (at most one), enforces the tracking window outside of which
// slots may not hold resources, and serializes every state transition
// behind one mutex so items never race each other. One coordinator per
// running app, owned by whoever wires the process together.
type Coordinator struct {
	cfg      Config
	log      *zap.Logger
	cache    *CacheStore
	quality  *QualitySelector
	progress ProgressStore
	fetch    FetchFunc
	events   EventSink

	baseCtx context.Context
	stop    context.CancelFunc

	mu            sync.Mutex
	items         map[Position]*Item
	vis           map[Position]float64
	haveRange     bool
	rangeLo       Position
	rangeHi       Position
	screenVisible bool
	playingPos    Position
	playingSet    bool
}

func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Cache == nil {
		return nil, fmt.Errorf("coordinator: cache store is required")
	}
	if deps.Fetch == nil {
		return nil, fmt.Errorf("coordinator: fetch func is required")
	}
	if deps.Progress == nil {
		deps.Progress = NewMemoryProgressStore()
	}
	if deps.Quality == nil {
		deps.Quality = &QualitySelector{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:           cfg.withDefaults(),
		log:           deps.Logger,
		cache:         deps.Cache,
		quality:       deps.Quality,
		progress:      deps.Progress,
		fetch:         deps.Fetch,
		events:        deps.Events,
		baseCtx:       ctx,
		stop:          cancel,
		items:         make(map[Position]*Item),
		vis:           make(map[Position]float64),
		screenVisible: true,
	}
	go c.progressLoop(ctx)
	return c, nil
}

// Close detaches every slot and stops background work.
func (c *Coordinator) Close() {
	c.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		it.detachLocked()
	}
	c.items = make(map[Position]*Item)
	c.playingSet = false
}

// Attach binds a feed position to content. Rebinding an occupied
// position to different content is the cell-reuse path: the old
// content's work is fully cancelled and its progress flushed before the
// new identity is installed.
func (c *Coordinator) Attach(pos Position, identity string, requested QualityTier) error {
	if pos < 0 {
		return fmt.Errorf("attach: negative position %d", pos)
	}
	if identity == "" {
		return fmt.Errorf("attach: empty video identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[pos]
	if !ok {
		it = &Item{c: c, pos: pos, state: StateIdle}
		c.items[pos] = it
	}
	if it.identity == identity && it.requested == requested {
		return nil
	}
	it.bindLocked(identity, requested)
	if c.shouldMaintainLocked(pos) {
		it.loadLocked()
	}
	c.applySelectionLocked()
	return nil
}

// Detach recycles a position: progress flushed, resource released,
// outstanding work cancelled. Safe to call for unknown positions.
func (c *Coordinator) Detach(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[pos]
	if !ok {
		return
	}
	it.detachLocked()
	delete(c.items, pos)
	delete(c.vis, pos)
	c.applySelectionLocked()
}

// ReportVisibility replaces the current visibility picture and re-runs
// the selection. Called on every scroll tick, settle, and layout change;
// the resulting play/pause commands are idempotent so continuous
// recomputation during scrolling is side-effect-free when the winner is
// unchanged.
func (c *Coordinator) ReportVisibility(samples []Visibility, scrolling bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug("visibility report",
		zap.Int("samples", len(samples)),
		zap.Bool("scrolling", scrolling))
	c.vis = make(map[Position]float64, len(samples))
	first := true
	for _, s := range samples {
		area := s.Area
		if area < 0 {
			area = 0
		}
		if area > 1 {
			area = 1
		}
		c.vis[s.Position] = area
		if area == 0 {
			continue
		}
		if first {
			c.rangeLo, c.rangeHi = s.Position, s.Position
			first = false
			continue
		}
		if s.Position < c.rangeLo {
			c.rangeLo = s.Position
		}
		if s.Position > c.rangeHi {
			c.rangeHi = s.Position
		}
	}
	// A fully mid-transition report (nothing visible) keeps the previous
	// range so the window does not collapse between frames.
	if !first {
		c.haveRange = true
	}

	c.enforceWindowLocked()
	c.applySelectionLocked()
}

// SetScreenVisible is the global override: false pauses everything
// (user switched tabs); true resumes selection from the last reported
// visibility.
func (c *Coordinator) SetScreenVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenVisible = visible
	c.applySelectionLocked()
}

// Retry re-runs a failed load for the slot. No-op unless errored.
func (c *Coordinator) Retry(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[pos]; ok {
		it.retryLocked()
	}
}

// SetQuality switches the slot's requested tier, rebuilding any live
// resource at the new tier while preserving offset and play state.
func (c *Coordinator) SetQuality(pos Position, tier QualityTier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[pos]; ok {
		it.setQualityLocked(tier)
	}
}

// Playing reports the position currently commanded to play, if any.
func (c *Coordinator) Playing() (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playingPos, c.playingSet
}

// Snapshot reports every attached slot's observable state, ordered by
// position.
func (c *Coordinator) Snapshot() []ItemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ItemStatus, 0, len(c.items))
	for pos, it := range c.items {
		st := ItemStatus{
			Position: pos,
			VideoID:  it.identity,
			State:    it.state.String(),
			Tier:     it.effective.String(),
		}
		if it.res != nil {
			st.OffsetMs = it.res.Offset().Milliseconds()
		}
		if it.err != nil {
			st.Error = it.err.Error()
			st.Kind = it.err.Kind.String()
		}
		out = append(out, st)
	}
	sortStatuses(out)
	return out
}

func sortStatuses(s []ItemStatus) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Position < s[j-1].Position; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// shouldMaintainLocked reports whether a slot may hold a resource: it
// must fall within the tracking window around the last visible range.
// Before any visibility report everything is in range.
func (c *Coordinator) shouldMaintainLocked(pos Position) bool {
	if !c.haveRange {
		return true
	}
	w := Position(c.cfg.TrackingWindow)
	return pos >= c.rangeLo-w && pos <= c.rangeHi+w
}

// enforceWindowLocked suspends slots outside the tracking window and
// kicks off loads for bound, in-window slots. This bounds concurrent
// decoder/network usage no matter how far ahead the UI keeps cells.
func (c *Coordinator) enforceWindowLocked() {
	for pos, it := range c.items {
		if !c.shouldMaintainLocked(pos) {
			it.suspendLocked()
			continue
		}
		if it.state == StateIdle && it.identity != "" {
			it.loadLocked()
		}
	}
}

// applySelectionLocked is the single-winner decision: pick the most
// visible eligible slot (ties to the lowest position), command it to
// play and everything else to pause. It is total: bad input degrades to
// "nobody plays", never to a panic.
func (c *Coordinator) applySelectionLocked() {
	if !c.screenVisible {
		for _, it := range c.items {
			it.pauseLocked()
		}
		c.playingSet = false
		return
	}

	winner, ok := c.pickWinnerLocked()
	for pos, it := range c.items {
		if !ok || pos != winner {
			it.pauseLocked()
		}
	}
	if !ok {
		c.playingSet = false
		return
	}
	it := c.items[winner]
	if it.state == StateIdle && c.shouldMaintainLocked(winner) {
		it.loadLocked()
	}
	it.playLocked()
	c.playingPos = winner
	c.playingSet = true
	c.checkSingleWinnerLocked(winner)
}

func (c *Coordinator) pickWinnerLocked() (Position, bool) {
	var (
		best     Position
		bestArea float64
		found    bool
	)
	for pos, area := range c.vis {
		if _, attached := c.items[pos]; !attached {
			continue
		}
		if area <= c.cfg.VisibilityThreshold {
			continue
		}
		if !found || area > bestArea || (area == bestArea && pos < best) {
			best, bestArea, found = pos, area, true
		}
	}
	return best, found
}

// checkSingleWinnerLocked is the development assertion for the "at most
// one playing" invariant. In production it self-corrects by pausing the
// extras rather than failing.
func (c *Coordinator) checkSingleWinnerLocked(winner Position) {
	for pos, it := range c.items {
		if pos == winner || it.state != StatePlaying {
			continue
		}
		c.log.Error("invariant violation: second playing item, pausing it",
			zap.Int("winner", int(winner)),
			zap.Int("extra", int(pos)))
		it.pauseLocked()
	}
}

// onEnded handles end-of-stream from a resource: seek to zero and keep
// playing (the feed loops at the item level, there is no auto-advance).
// The generation fence discards callbacks from superseded bindings.
func (c *Coordinator) onEnded(pos Position, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[pos]
	if !ok || it.gen != gen || it.res == nil {
		return
	}
	it.res.Seek(0)
	c.progress.Record(it.identity, 0)
}

// progressLoop records the playing slot's offset on a coalesced cadence
// and mirrors it to the event sink. Twice a second is plenty; nothing
// downstream needs every tick.
func (c *Coordinator) progressLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.recordProgress()
		}
	}
}

func (c *Coordinator) recordProgress() {
	type tick struct {
		identity string
		offset   time.Duration
	}
	var ticks []tick
	c.mu.Lock()
	for _, it := range c.items {
		if it.state == StatePlaying && it.res != nil {
			off := it.res.Offset()
			c.progress.Record(it.identity, off)
			ticks = append(ticks, tick{it.identity, off})
		}
	}
	c.mu.Unlock()
	if c.events == nil {
		return
	}
	for _, tk := range ticks {
		c.events.PlaybackProgress(tk.identity, tk.offset)
	}
}
