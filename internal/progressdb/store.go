// Package progressdb is the durable, cross-restart record of playback
// progress. The in-process store inside the playback core stays
// authoritative for resume-on-rebind; this is the slower, survivable
// copy fed asynchronously over NATS.
package progressdb

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no progress exists for a video.
var ErrNotFound = errors.New("progress not found")

// Record is one video's last-known playback position.
type Record struct {
	VideoID    string
	PositionMs int64
	ClientTsMs int64
	UpdatedAt  time.Time
}

// Repository defines persistence operations for playback progress.
type Repository interface {
	// Upsert inserts or updates progress, ignoring stale writes
	// (client_ts_ms <= existing). Returns the current record.
	Upsert(ctx context.Context, r Record) (Record, error)
	// Last returns the stored progress for a video, or ErrNotFound.
	Last(ctx context.Context, videoID string) (Record, error)
	// List returns up to limit records ordered by updated_at DESC.
	List(ctx context.Context, limit int) ([]Record, error)
}
