package progressdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// progressEvent is the subset of the playback.progress envelope the
// consumer cares about.
type progressEvent struct {
	EventID    string `json:"event_id"`
	VideoID    string `json:"video_id"`
	ClientTsMs int64  `json:"client_ts_ms"`
	Properties struct {
		PositionMs int64 `json:"position_ms"`
	} `json:"properties"`
}

// Apply decodes one progress event and upserts it. The client-timestamp
// guard in the upsert makes redelivery idempotent, so no separate
// processed-events ledger is needed.
func Apply(ctx context.Context, repo Repository, data []byte) error {
	var ev progressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("progress event decode: %w", err)
	}
	if ev.VideoID == "" {
		return fmt.Errorf("progress event %s: empty video_id", ev.EventID)
	}
	_, err := repo.Upsert(ctx, Record{
		VideoID:    ev.VideoID,
		PositionMs: ev.Properties.PositionMs,
		ClientTsMs: ev.ClientTsMs,
	})
	return err
}

// StartConsumer subscribes to playback.progress and applies upserts
// until ctx is cancelled. Runs in its own goroutine.
func StartConsumer(ctx context.Context, nc *nats.Conn, repo Repository, log *zap.Logger) {
	js, err := nc.JetStream()
	if err != nil {
		log.Error("progress consumer: jetstream", zap.Error(err))
		return
	}
	sub, err := js.PullSubscribe("playback.progress", "playback_progress")
	if err != nil {
		log.Error("progress consumer: subscribe", zap.Error(err))
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(100, nats.MaxWait(2*time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				log.Warn("progress consumer: fetch", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, m := range msgs {
				if err := Apply(ctx, repo, m.Data); err != nil {
					log.Warn("progress consumer: apply", zap.Error(err))
					if err := m.Nak(); err != nil {
						log.Warn("progress consumer: nak", zap.Error(err))
					}
					continue
				}
				if err := m.Ack(); err != nil {
					log.Warn("progress consumer: ack", zap.Error(err))
				}
			}
		}
	}()
}
