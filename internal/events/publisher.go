// Package events provides a fire-and-forget NATS publisher for playback
// telemetry. The progress subject doubles as the feed for the durable
// progress consumer.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/reelfeed/internal/playback"
)

// Subject constants for every playback event type.
const (
	SubjectPlaybackStarted  = "playback.started"
	SubjectPlaybackProgress = "playback.progress"
	SubjectPlaybackError    = "playback.error"
)

// Event is the canonical envelope sent to all playback.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	VideoID    string         `json:"video_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	ClientTsMs int64          `json:"client_ts_ms"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes playback events to NATS JetStream. A nil pointer
// and the zero value are both safe no-op stubs, so wiring without NATS
// costs nothing.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// Publish sends an event asynchronously. Failures are logged as
// warnings and never surface to the caller.
func (p *Publisher) Publish(subject, eventName, videoID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	now := time.Now().UTC()
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		VideoID:    videoID,
		OccurredAt: now,
		ClientTsMs: now.UnixMilli(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// PlaybackStarted implements playback.EventSink.
func (p *Publisher) PlaybackStarted(identity string, tier playback.QualityTier) {
	p.Publish(SubjectPlaybackStarted, "playback_started", identity, map[string]any{
		"tier": tier.String(),
	})
}

// PlaybackProgress implements playback.EventSink.
func (p *Publisher) PlaybackProgress(identity string, offset time.Duration) {
	p.Publish(SubjectPlaybackProgress, "playback_progress", identity, map[string]any{
		"position_ms": offset.Milliseconds(),
	})
}

// PlaybackError implements playback.EventSink.
func (p *Publisher) PlaybackError(identity string, kind playback.ErrorKind) {
	p.Publish(SubjectPlaybackError, "playback_error", identity, map[string]any{
		"kind": kind.String(),
	})
}
