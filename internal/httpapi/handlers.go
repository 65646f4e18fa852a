// Package httpapi exposes the playback coordinator to the UI process
// over a local HTTP surface. The UI reports what it sees; the
// coordinator decides who plays.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/reelfeed/internal/platform/api"
	"github.com/example/reelfeed/internal/platform/httpserver"
	"github.com/example/reelfeed/internal/playback"
	"github.com/example/reelfeed/internal/progressdb"
)

type attachRequest struct {
	Position int    `json:"position"`
	VideoID  string `json:"video_id"`
	Quality  string `json:"quality"`
}

// Attach binds a feed position to content.
func Attach(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req attachRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		tier, err := playback.ParseTier(req.Quality)
		if err != nil {
			api.BadRequest(w, "BAD_TIER", err.Error(), rid, nil)
			return
		}
		if err := c.Attach(playback.Position(req.Position), req.VideoID, tier); err != nil {
			api.BadRequest(w, "BAD_ATTACH", err.Error(), rid, nil)
			return
		}
		log.Debug("attach", zap.Int("position", req.Position), zap.String("video_id", req.VideoID))
		api.WriteJSON(w, http.StatusOK, map[string]any{"position": req.Position})
	}
}

type positionRequest struct {
	Position int `json:"position"`
}

// Detach recycles a feed position.
func Detach(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req positionRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		c.Detach(playback.Position(req.Position))
		log.Debug("detach", zap.Int("position", req.Position))
		w.WriteHeader(http.StatusNoContent)
	}
}

type visibilityRequest struct {
	Items []struct {
		Position int     `json:"position"`
		Area     float64 `json:"area"`
	} `json:"items"`
	Scrolling bool `json:"scrolling"`
}

// Visibility replaces the coordinator's picture of what is on screen.
func Visibility(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req visibilityRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		samples := make([]playback.Visibility, 0, len(req.Items))
		for _, it := range req.Items {
			samples = append(samples, playback.Visibility{
				Position: playback.Position(it.Position),
				Area:     it.Area,
			})
		}
		c.ReportVisibility(samples, req.Scrolling)
		w.WriteHeader(http.StatusNoContent)
	}
}

type screenRequest struct {
	Visible bool `json:"visible"`
}

// Screen toggles the global screen-visibility override.
func Screen(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req screenRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		c.SetScreenVisible(req.Visible)
		log.Debug("screen visibility", zap.Bool("visible", req.Visible))
		w.WriteHeader(http.StatusNoContent)
	}
}

// Retry re-runs a failed load for a position.
func Retry(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req positionRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		c.Retry(playback.Position(req.Position))
		w.WriteHeader(http.StatusNoContent)
	}
}

type qualityRequest struct {
	Position int    `json:"position"`
	Quality  string `json:"quality"`
}

// Quality switches a position's requested tier.
func Quality(c *playback.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		var req qualityRequest
		if err := decode(r, &req); err != nil {
			api.BadRequest(w, "BAD_JSON", err.Error(), rid, nil)
			return
		}
		tier, err := playback.ParseTier(req.Quality)
		if err != nil {
			api.BadRequest(w, "BAD_TIER", err.Error(), rid, nil)
			return
		}
		c.SetQuality(playback.Position(req.Position), tier)
		w.WriteHeader(http.StatusNoContent)
	}
}

type stateResponse struct {
	Items []playback.ItemStatus `json:"items"`
}

// State reports every attached slot's observable state.
func State(c *playback.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, stateResponse{Items: c.Snapshot()})
	}
}

type progressResponse struct {
	VideoID    string `json:"video_id"`
	PositionMs int64  `json:"position_ms"`
	UpdatedAt  string `json:"updated_at"`
}

// Progress serves the durable progress record for a video.
func Progress(repo progressdb.Repository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		videoID := strings.TrimSpace(chi.URLParam(r, "video_id"))
		if videoID == "" {
			api.BadRequest(w, "MISSING_ID", "video_id is required", rid, nil)
			return
		}
		rec, err := repo.Last(r.Context(), videoID)
		if err != nil {
			if errors.Is(err, progressdb.ErrNotFound) {
				api.NotFound(w, "NOT_FOUND", "no progress for video", rid)
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Warn("progress lookup failed", zap.String("video_id", videoID), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, progressResponse{
			VideoID:    rec.VideoID,
			PositionMs: rec.PositionMs,
			UpdatedAt:  rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
}

func decode(r *http.Request, dest any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}
