package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/reelfeed/internal/media"
	"github.com/example/reelfeed/internal/playback"
	"github.com/example/reelfeed/internal/progressdb"
)

func newTestRouter(t *testing.T) (*chi.Mux, *playback.Coordinator) {
	t.Helper()
	cache := playback.NewCacheStore(playback.CacheConfig{}, nil)
	fetch := func(ctx context.Context, key playback.CacheKey) (playback.FetchResult, error) {
		return playback.FetchResult{Resource: media.NewTimed(time.Minute), Size: 1}, nil
	}
	c, err := playback.NewCoordinator(playback.Config{}, playback.Deps{
		Cache: cache,
		Fetch: fetch,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	t.Cleanup(c.Close)

	log := zap.NewNop()
	r := chi.NewRouter()
	r.Post("/v1/feed/attach", Attach(c, log))
	r.Post("/v1/feed/detach", Detach(c, log))
	r.Post("/v1/feed/visibility", Visibility(c, log))
	r.Post("/v1/feed/screen", Screen(c, log))
	r.Post("/v1/feed/retry", Retry(c, log))
	r.Post("/v1/feed/quality", Quality(c, log))
	r.Get("/v1/feed/state", State(c))
	return r, c
}

func post(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func waitAttached(t *testing.T, c *playback.Coordinator, pos playback.Position, state string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, st := range c.Snapshot() {
			if st.Position == pos && st.State == state {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("position %d never reached %s: %+v", pos, state, c.Snapshot())
}

func TestAttachAndState(t *testing.T) {
	r, c := newTestRouter(t)

	w := post(t, r, "/v1/feed/attach", `{"position":0,"video_id":"v1","quality":"high"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("attach status %d body=%s", w.Code, w.Body)
	}
	waitAttached(t, c, 0, "paused")

	req := httptest.NewRequest(http.MethodGet, "/v1/feed/state", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status %d", rec.Code)
	}
	var resp struct {
		Items []playback.ItemStatus `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].VideoID != "v1" || resp.Items[0].Tier != "high" {
		t.Fatalf("unexpected state %+v", resp.Items)
	}
}

func TestAttachValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, "BAD_JSON"},
		{"unknown field", `{"position":0,"video_id":"v1","bogus":1}`, "BAD_JSON"},
		{"bad tier", `{"position":0,"video_id":"v1","quality":"4k"}`, "BAD_TIER"},
		{"negative position", `{"position":-1,"video_id":"v1"}`, "BAD_ATTACH"},
		{"empty video id", `{"position":0}`, "BAD_ATTACH"},
	}
	for _, tc := range cases {
		w := post(t, r, "/v1/feed/attach", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", tc.name, w.Code)
		}
		var resp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if resp.Error.Code != tc.code {
			t.Fatalf("%s: code %q want %q", tc.name, resp.Error.Code, tc.code)
		}
	}
}

func TestVisibilityDrivesPlayback(t *testing.T) {
	r, c := newTestRouter(t)

	post(t, r, "/v1/feed/attach", `{"position":0,"video_id":"v1"}`)
	post(t, r, "/v1/feed/attach", `{"position":1,"video_id":"v2"}`)
	waitAttached(t, c, 0, "paused")

	w := post(t, r, "/v1/feed/visibility", `{"items":[{"position":0,"area":0.2},{"position":1,"area":0.8}],"scrolling":false}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("visibility status %d body=%s", w.Code, w.Body)
	}
	waitAttached(t, c, 1, "playing")
	if pos, ok := c.Playing(); !ok || pos != 1 {
		t.Fatalf("expected position 1 playing, got %d ok=%v", pos, ok)
	}
}

func TestScreenTogglePausesEverything(t *testing.T) {
	r, c := newTestRouter(t)
	post(t, r, "/v1/feed/attach", `{"position":0,"video_id":"v1"}`)
	post(t, r, "/v1/feed/visibility", `{"items":[{"position":0,"area":1.0}]}`)
	waitAttached(t, c, 0, "playing")

	if w := post(t, r, "/v1/feed/screen", `{"visible":false}`); w.Code != http.StatusNoContent {
		t.Fatalf("screen status %d", w.Code)
	}
	waitAttached(t, c, 0, "paused")
}

func TestDetachRemovesSlot(t *testing.T) {
	r, c := newTestRouter(t)
	post(t, r, "/v1/feed/attach", `{"position":0,"video_id":"v1"}`)
	waitAttached(t, c, 0, "paused")

	if w := post(t, r, "/v1/feed/detach", `{"position":0}`); w.Code != http.StatusNoContent {
		t.Fatalf("detach status %d", w.Code)
	}
	if len(c.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", c.Snapshot())
	}
}

func TestQualitySwitch(t *testing.T) {
	r, c := newTestRouter(t)
	post(t, r, "/v1/feed/attach", `{"position":0,"video_id":"v1","quality":"low"}`)
	waitAttached(t, c, 0, "paused")

	if w := post(t, r, "/v1/feed/quality", `{"position":0,"quality":"high"}`); w.Code != http.StatusNoContent {
		t.Fatalf("quality status %d", w.Code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := c.Snapshot()
		if len(snap) == 1 && snap[0].Tier == "high" && snap[0].State == "paused" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tier never switched: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProgressEndpoint(t *testing.T) {
	repo := newFakeProgressRepo()
	repo.rows["v1"] = progressdb.Record{
		VideoID:    "v1",
		PositionMs: 7000,
		ClientTsMs: 1000,
		UpdatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	r := chi.NewRouter()
	r.Get("/v1/progress/{video_id}", Progress(repo, zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/v1/progress/v1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", w.Code, w.Body)
	}
	var resp struct {
		VideoID    string `json:"video_id"`
		PositionMs int64  `json:"position_ms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.VideoID != "v1" || resp.PositionMs != 7000 {
		t.Fatalf("unexpected response %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/progress/unknown", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown video, got %d", w.Code)
	}
}

type fakeProgressRepo struct {
	rows map[string]progressdb.Record
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{rows: make(map[string]progressdb.Record)}
}

func (f *fakeProgressRepo) Upsert(ctx context.Context, rec progressdb.Record) (progressdb.Record, error) {
	f.rows[rec.VideoID] = rec
	return rec, nil
}

func (f *fakeProgressRepo) Last(ctx context.Context, videoID string) (progressdb.Record, error) {
	rec, ok := f.rows[videoID]
	if !ok {
		return progressdb.Record{}, progressdb.ErrNotFound
	}
	return rec, nil
}

func (f *fakeProgressRepo) List(ctx context.Context, limit int) ([]progressdb.Record, error) {
	out := make([]progressdb.Record, 0, len(f.rows))
	for _, rec := range f.rows {
		out = append(out, rec)
	}
	return out, nil
}
