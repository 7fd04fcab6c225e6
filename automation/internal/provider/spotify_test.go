package provider_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/area/automation/internal/provider"
	"github.com/hazyhaar/area/automation/internal/store/storetest"
	"github.com/hazyhaar/area/automation/internal/token"
)

func track(id, added string) map[string]any {
	return map[string]any{
		"added_at": added,
		"added_by": map[string]any{"id": "friend"},
		"track": map[string]any{
			"id":          id,
			"name":        "Song " + id,
			"uri":         "spotify:track:" + id,
			"duration_ms": 180000,
			"artists":     []map[string]any{{"id": "ar1", "name": "Band"}},
			"album":       map[string]any{"name": "LP", "images": []map[string]any{{"url": "https://i.scdn.co/x.jpg"}}},
		},
	}
}

func TestSpotify_PlaylistScoping(t *testing.T) {
	// WHAT: Two playlist areas of one user are fetched in one group, and each
	// only fires for tracks of its own playlist.
	// WHY: Grouping is per user, so the predicate must scope by playlist.
	s := storetest.Open(t)
	svc := storetest.Service(t, s, "spotify",
		[]string{provider.SpotifyNewPlaylistTrack, provider.SpotifyNowPlayingChanged}, []string{"log_activity"})
	u := storetest.User(t, s, "ana@example.com")
	p1 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "spotify", ActionKey: provider.SpotifyNewPlaylistTrack,
		ActionConfig: map[string]any{"playlistId": "P1"},
		ReactionSvc:  "spotify", ReactionKey: "log_activity",
	})
	p2 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "spotify", ActionKey: provider.SpotifyNewPlaylistTrack,
		ActionConfig: map[string]any{"playlistId": "P2"},
		ReactionSvc:  "spotify", ReactionKey: "log_activity",
	})
	np := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "spotify", ActionKey: provider.SpotifyNowPlayingChanged,
		ReactionSvc: "spotify", ReactionKey: "log_activity",
	})

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id := r.PathValue("id")
		json.NewEncoder(w).Encode(map[string]any{"items": []any{
			track("t-"+id, "2024-05-04T10:00:00Z"),
			map[string]any{"added_at": "2024-05-04T10:00:00Z", "track": nil},
		}})
	})
	mux.HandleFunc("GET /me/player/currently-playing", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec := &recorder{}
	p := provider.NewPoller(
		&provider.Spotify{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "sp"}},
		provider.Deps{Store: s, Dispatcher: rec},
	)
	poll(t, p)

	if hits.Load() != 3 {
		t.Fatalf("requests: got %d, want 3", hits.Load())
	}
	if rec.count(p1.ID) != 1 || rec.count(p2.ID) != 1 || rec.count(np.ID) != 0 {
		t.Fatalf("dispatches: p1=%d p2=%d np=%d", rec.count(p1.ID), rec.count(p2.ID), rec.count(np.ID))
	}
	for _, c := range rec.calls {
		want := "t-P1"
		if c.AreaID == p2.ID {
			want = "t-P2"
		}
		if c.Activity.ExtraString("track_id") != want {
			t.Fatalf("area %s got track %q", c.AreaID, c.Activity.ExtraString("track_id"))
		}
	}
	wantKey := fmt.Sprintf("spotify:%s:playlist:P1:t-P1:%d", u.ID, 1714816800)
	seen, err := s.Seen(t.Context(), svc.ID, wantKey)
	if err != nil || !seen {
		t.Fatalf("ledger key %s missing: %v", wantKey, err)
	}
}

type noAccountTokens struct{}

func (noAccountTokens) GetValidAccessToken(_ context.Context, userID, provider string) (string, error) {
	return "", &token.UnavailableError{UserID: userID, Provider: provider, Reason: "no linked account", Err: token.ErrNoAccount}
}

func TestSpotify_NoAccountIsSilent(t *testing.T) {
	// WHAT: A user without a linked Spotify account produces no log rows.
	// WHY: Not having linked an account is not an execution failure.
	s := storetest.Open(t)
	storetest.Service(t, s, "spotify", []string{provider.SpotifyNewSavedTrack}, []string{"log_activity"})
	u := storetest.User(t, s, "ana@example.com")
	a := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "spotify", ActionKey: provider.SpotifyNewSavedTrack,
		ReactionSvc: "spotify", ReactionKey: "log_activity",
	})
	p := provider.NewPoller(
		&provider.Spotify{BaseURL: "http://127.0.0.1:1", HTTP: &provider.HTTP{}, Tokens: noAccountTokens{}},
		provider.Deps{Store: s, Dispatcher: &recorder{}},
	)
	poll(t, p)
	if n := len(storetest.Logs(t, s, a.ID)); n != 0 {
		t.Fatalf("logs: got %d, want 0", n)
	}
}

func TestSpotify_SavedTracks(t *testing.T) {
	// WHAT: Liked songs are read from /me/tracks, keyed by user, track and
	// save time, and fire once across ticks.
	// WHY: Re-saving a song later is a new event; polling again is not.
	s := storetest.Open(t)
	svc := storetest.Service(t, s, "spotify", []string{provider.SpotifyNewSavedTrack}, []string{"log_activity"})
	u := storetest.User(t, s, "ana@example.com")
	a := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "spotify", ActionKey: provider.SpotifyNewSavedTrack,
		ReactionSvc: "spotify", ReactionKey: "log_activity",
	})

	var hits atomic.Int32
	var badRequest atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me/tracks", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer sp" || r.URL.Query().Get("limit") != "20" {
			badRequest.Store(true)
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []any{
			track("s1", "2024-05-04T10:00:00Z"),
			track("s2", "2024-05-03T08:30:00Z"),
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec := &recorder{}
	p := provider.NewPoller(
		&provider.Spotify{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "sp"}},
		provider.Deps{Store: s, Dispatcher: rec},
	)
	poll(t, p)
	poll(t, p)

	if hits.Load() != 2 || badRequest.Load() {
		t.Fatalf("requests: %d, malformed=%v", hits.Load(), badRequest.Load())
	}
	if rec.count(a.ID) != 2 {
		t.Fatalf("dispatches: got %d, want 2", rec.count(a.ID))
	}
	if n := storetest.EventCount(t, s, svc.ID); n != 2 {
		t.Fatalf("events: got %d, want 2", n)
	}
	for _, want := range []string{
		fmt.Sprintf("spotify:%s:saved:s1:%d", u.ID, 1714816800),
		fmt.Sprintf("spotify:%s:saved:s2:%d", u.ID, 1714725000),
	} {
		seen, err := s.Seen(t.Context(), svc.ID, want)
		if err != nil || !seen {
			t.Fatalf("ledger key %s missing: %v", want, err)
		}
	}
	tracks := map[string]bool{}
	for _, c := range rec.calls {
		tracks[c.Activity.ExtraString("track_id")] = true
	}
	if !tracks["s1"] || !tracks["s2"] {
		t.Fatalf("dispatched tracks: %v", tracks)
	}
}
