package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/store"
)

// Spotify action keys.
const (
	SpotifyNewSavedTrack     = "new_saved_track"
	SpotifyNewPlaylistTrack  = "new_playlist_track"
	SpotifyNowPlayingChanged = "now_playing_changed"
)

type spotifyConfig struct {
	PlaylistID string `json:"playlistId"`
	// Artist and Genre are accepted by the action schema but not
	// enforced yet.
	Artist string `json:"artist"`
	Genre  string `json:"genre"`
}

// Spotify polls a user's library, watched playlists and playback with the
// user's own token. One group per user covers all their action kinds.
type Spotify struct {
	BaseURL string // default https://api.spotify.com/v1
	HTTP    *HTTP
	Tokens  TokenSource
}

func (s *Spotify) Slug() string  { return "spotify" }
func (s *Spotify) PerUser() bool { return true }

func (s *Spotify) base() string {
	if s.BaseURL == "" {
		return "https://api.spotify.com/v1"
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s *Spotify) GroupKey(a *store.Area) (string, error) {
	var cfg spotifyConfig
	if err := decodeConfig(a.ActionConfig, &cfg); err != nil {
		return "", configErr(a.ID, "%v", err)
	}
	switch a.Action.Key {
	case SpotifyNewSavedTrack, SpotifyNowPlayingChanged:
	case SpotifyNewPlaylistTrack:
		if strings.TrimSpace(cfg.PlaylistID) == "" {
			return "", configErr(a.ID, "playlistId is required")
		}
	default:
		return "", configErr(a.ID, "unknown spotify action %q", a.Action.Key)
	}
	return a.UserID, nil
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Type    string `json:"type"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	DurationMS int `json:"duration_ms"`
}

type spotifyItem struct {
	AddedAt time.Time `json:"added_at"`
	AddedBy *struct {
		ID string `json:"id"`
	} `json:"added_by"`
	Track *spotifyTrack `json:"track"`
}

func (s *Spotify) Fetch(ctx context.Context, grp *Group) ([]Observation, error) {
	tok, err := s.Tokens.GetValidAccessToken(ctx, grp.UserID, "spotify")
	if err != nil {
		return nil, err
	}
	auth := map[string]string{"Authorization": "Bearer " + tok}

	var out []Observation
	for _, key := range grp.ActionKeys() {
		switch key {
		case SpotifyNewSavedTrack:
			items, err := s.items(ctx, s.base()+"/me/tracks?limit=20", auth)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				out = append(out, Observation{
					ExternalID: fmt.Sprintf("spotify:%s:saved:%s:%d", grp.UserID, it.Track.ID, it.AddedAt.Unix()),
					Activity:   trackActivity(key, it.Track, it.AddedAt, ""),
					Keys:       []string{key},
					Raw:        it,
				})
			}

		case SpotifyNewPlaylistTrack:
			for _, pl := range s.playlists(grp) {
				items, err := s.items(ctx, s.base()+"/playlists/"+url.PathEscape(pl)+"/tracks?limit=20", auth)
				if err != nil {
					return nil, err
				}
				for _, it := range items {
					act := trackActivity(key, it.Track, it.AddedAt, pl)
					if it.AddedBy != nil {
						act.Author = it.AddedBy.ID
					}
					out = append(out, Observation{
						ExternalID: fmt.Sprintf("spotify:%s:playlist:%s:%s:%d", grp.UserID, pl, it.Track.ID, it.AddedAt.Unix()),
						Activity:   act,
						Keys:       []string{key},
						Raw:        it,
					})
				}
			}

		case SpotifyNowPlayingChanged:
			o, err := s.nowPlaying(ctx, grp.UserID, auth)
			if err != nil {
				return nil, err
			}
			if o != nil {
				out = append(out, *o)
			}
		}
	}
	return out, nil
}

// playlists returns the distinct playlist ids watched in the group.
func (s *Spotify) playlists(grp *Group) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range grp.Areas {
		if a.Action.Key != SpotifyNewPlaylistTrack {
			continue
		}
		var cfg spotifyConfig
		if decodeConfig(a.ActionConfig, &cfg) != nil {
			continue
		}
		pl := strings.TrimSpace(cfg.PlaylistID)
		if pl != "" && !seen[pl] {
			seen[pl] = true
			out = append(out, pl)
		}
	}
	return out
}

func (s *Spotify) items(ctx context.Context, u string, auth map[string]string) ([]spotifyItem, error) {
	body, _, err := s.HTTP.Get(ctx, "spotify", u, auth)
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []spotifyItem `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("spotify: decode items: %w", err)
	}
	out := page.Items[:0]
	for _, it := range page.Items {
		// Local files and removed tracks come back without an id.
		if it.Track != nil && it.Track.ID != "" {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Spotify) nowPlaying(ctx context.Context, userID string, auth map[string]string) (*Observation, error) {
	body, status, err := s.HTTP.Get(ctx, "spotify", s.base()+"/me/player/currently-playing", auth)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	var cur struct {
		Timestamp  int64         `json:"timestamp"`
		ProgressMS int64         `json:"progress_ms"`
		IsPlaying  bool          `json:"is_playing"`
		Item       *spotifyTrack `json:"item"`
	}
	if err := json.Unmarshal(body, &cur); err != nil {
		return nil, fmt.Errorf("spotify: decode currently playing: %w", err)
	}
	if !cur.IsPlaying || cur.Item == nil || cur.Item.ID == "" {
		return nil, nil
	}
	started := time.UnixMilli(cur.Timestamp - cur.ProgressMS)
	return &Observation{
		ExternalID: fmt.Sprintf("spotify:%s:playing:%s:%d", userID, cur.Item.ID, started.Unix()/60),
		Activity:   trackActivity(SpotifyNowPlayingChanged, cur.Item, started, ""),
		Keys:       []string{SpotifyNowPlayingChanged},
		Raw:        cur,
	}, nil
}

func trackActivity(key string, t *spotifyTrack, at time.Time, playlistID string) *activity.Activity {
	var artists []string
	var artistID string
	for i, ar := range t.Artists {
		artists = append(artists, ar.Name)
		if i == 0 {
			artistID = ar.ID
		}
	}
	extra := map[string]any{
		"track_id":   t.ID,
		"track_uri":  t.URI,
		"artist_id":  artistID,
		"artists":    artists,
		"album":      t.Album.Name,
		"duration_s": t.DurationMS / 1000,
	}
	if len(t.Album.Images) > 0 {
		extra["image_url"] = t.Album.Images[0].URL
	}
	if playlistID != "" {
		extra["playlist_id"] = playlistID
	}
	return &activity.Activity{
		Provider:  "spotify",
		ActionKey: key,
		ID:        t.ID,
		Title:     t.Name + " - " + strings.Join(artists, ", "),
		URL:       t.ExternalURLs.Spotify,
		Author:    strings.Join(artists, ", "),
		CreatedAt: at,
		Extra:     extra,
	}
}

// Matches scopes playlist activities to the area's playlist. Artist and
// genre filters declared by the schema are not applied.
func (s *Spotify) Matches(act *activity.Activity, actionKey string, config json.RawMessage) bool {
	if actionKey != SpotifyNewPlaylistTrack {
		return true
	}
	var cfg spotifyConfig
	if decodeConfig(config, &cfg) != nil {
		return false
	}
	return act.ExtraString("playlist_id") == strings.TrimSpace(cfg.PlaylistID)
}
