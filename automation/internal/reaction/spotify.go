package reaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hazyhaar/area/automation/internal/token"
)

// spotifyExecutor calls the Spotify Web API with the area owner's token.
type spotifyExecutor struct {
	http    *httpCaller
	baseURL string
	tokens  TokenSource
}

func (s *spotifyExecutor) Execute(ctx context.Context, req *Request) error {
	if req.Ref.ServiceSlug != "spotify" {
		return &ErrWrongExecutor{Executor: "spotify", Ref: req.Ref}
	}
	if s.tokens == nil {
		return fmt.Errorf("spotify: no token source configured")
	}
	tok, err := s.tokens.GetValidAccessToken(ctx, req.Ctx.UserID, "spotify")
	if errors.Is(err, token.ErrUnavailable) {
		return fmt.Errorf("%w: area owner has no usable spotify account: %v", ErrSkipped, err)
	}
	if err != nil {
		return err
	}

	switch req.Kind {
	case KindSpotifyAddToPlaylist:
		playlistID, err := require(req.Kind, req.Config, "playlistId")
		if err != nil {
			return err
		}
		uri := str(req.Config, "trackUri")
		if uri == "" {
			uri = activityTrackURI(req)
		}
		if uri == "" {
			return &ErrMissingConfig{Kind: req.Kind, Field: "trackUri"}
		}
		return s.call(ctx, tok, http.MethodPost, "/playlists/"+url.PathEscape(playlistID)+"/tracks",
			map[string]any{"uris": []string{uri}}, nil)

	case KindSpotifyLikeSong:
		id := str(req.Config, "trackId")
		if id == "" {
			id = req.Ctx.Activity.ExtraString("track_id")
		}
		if id == "" {
			return &ErrMissingConfig{Kind: req.Kind, Field: "trackId"}
		}
		return s.call(ctx, tok, http.MethodPut, "/me/tracks", map[string]any{"ids": []string{id}}, nil)

	case KindSpotifyCreatePlaylist:
		name, err := require(req.Kind, req.Config, "name")
		if err != nil {
			return err
		}
		var me struct {
			ID string `json:"id"`
		}
		if err := s.call(ctx, tok, http.MethodGet, "/me", nil, &me); err != nil {
			return err
		}
		if me.ID == "" {
			return fmt.Errorf("spotify: /me returned no user id")
		}
		public, _ := req.Config["public"].(bool)
		return s.call(ctx, tok, http.MethodPost, "/users/"+url.PathEscape(me.ID)+"/playlists",
			map[string]any{
				"name":        name,
				"description": str(req.Config, "description"),
				"public":      public,
			}, nil)

	case KindSpotifyFollowArtist:
		id := str(req.Config, "artistId")
		if id == "" {
			id = req.Ctx.Activity.ExtraString("artist_id")
		}
		if id == "" {
			return &ErrMissingConfig{Kind: req.Kind, Field: "artistId"}
		}
		return s.call(ctx, tok, http.MethodPut, "/me/following?type=artist",
			map[string]any{"ids": []string{id}}, nil)
	}
	return &ErrWrongExecutor{Executor: "spotify", Ref: req.Ref}
}

func activityTrackURI(req *Request) string {
	a := req.Ctx.Activity
	if uri := a.ExtraString("track_uri"); uri != "" {
		return uri
	}
	if id := a.ExtraString("track_id"); id != "" {
		return "spotify:track:" + id
	}
	return ""
}

func (s *spotifyExecutor) call(ctx context.Context, tok, method, path string, body, out any) error {
	return s.http.do(ctx, call{
		provider: "spotify",
		target:   "spotify",
		method:   method,
		url:      s.baseURL + path,
		headers:  map[string]string{"Authorization": "Bearer " + tok},
		body:     body,
		out:      out,
	})
}
