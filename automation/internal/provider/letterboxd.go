package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/feed"
	"github.com/hazyhaar/area/automation/internal/store"
)

// Letterboxd action keys.
const (
	LetterboxdNewReview     = "new_review"
	LetterboxdNewDiaryEntry = "new_diary_entry"
	LetterboxdFilmWatched   = "film_watched"
	LetterboxdNewList       = "new_list"
	LetterboxdFilmRated     = "film_rated"
)

type letterboxdConfig struct {
	Username  string `json:"username"`
	MinRating number `json:"minRating"`
}

// Letterboxd polls a member's public RSS feed. The ledger key is the raw
// item link.
type Letterboxd struct {
	BaseURL string // default https://letterboxd.com
	HTTP    *HTTP
}

func (l *Letterboxd) Slug() string { return "letterboxd" }

func (l *Letterboxd) GroupKey(a *store.Area) (string, error) {
	switch a.Action.Key {
	case LetterboxdNewReview, LetterboxdNewDiaryEntry, LetterboxdFilmWatched, LetterboxdNewList, LetterboxdFilmRated:
	default:
		return "", configErr(a.ID, "unknown letterboxd action %q", a.Action.Key)
	}
	var cfg letterboxdConfig
	if err := decodeConfig(a.ActionConfig, &cfg); err != nil {
		return "", configErr(a.ID, "%v", err)
	}
	user := strings.ToLower(strings.Trim(strings.TrimSpace(cfg.Username), "@/"))
	if user == "" || strings.ContainsAny(user, "/?#") {
		return "", configErr(a.ID, "username is required")
	}
	return user, nil
}

func (l *Letterboxd) Fetch(ctx context.Context, grp *Group) ([]Observation, error) {
	base := l.BaseURL
	if base == "" {
		base = "https://letterboxd.com"
	}
	body, _, err := l.HTTP.Get(ctx, "letterboxd",
		strings.TrimRight(base, "/")+"/"+url.PathEscape(grp.Key)+"/rss/",
		map[string]string{"Accept": "application/rss+xml, application/xml;q=0.9"})
	if err != nil {
		return nil, err
	}
	f, err := feed.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("letterboxd: %w", err)
	}

	out := make([]Observation, 0, len(f.Entries))
	for i := len(f.Entries) - 1; i >= 0; i-- {
		e := f.Entries[i]
		if e.Link == "" {
			continue
		}
		out = append(out, Observation{
			ExternalID: e.Link,
			Activity:   entryActivity(grp.Key, &e),
			Raw:        e,
		})
	}
	return out, nil
}

func entryActivity(username string, e *feed.Entry) *activity.Activity {
	extra := map[string]any{
		"username":        username,
		"film_title":      e.FilmTitle,
		"film_year":       e.FilmYear,
		"watched_date":    e.WatchedDate,
		"rewatch":         e.Rewatch,
		"tmdb_movie_id":   e.TMDBMovieID,
		"review_text":     e.Text,
		"review_markdown": e.Markdown,
		"body":            e.Markdown,
		"spoilers":        e.Spoilers,
		"is_list":         e.IsList,
	}
	if e.MemberRating != nil {
		extra["member_rating"] = *e.MemberRating
	}
	if e.PosterURL != "" {
		extra["image_url"] = e.PosterURL
	}
	author := e.Creator
	if author == "" {
		author = username
	}
	return &activity.Activity{
		Provider:  "letterboxd",
		ID:        e.GUID,
		Title:     e.Title,
		URL:       e.Link,
		Author:    author,
		CreatedAt: e.Published,
		Extra:     extra,
	}
}

func (l *Letterboxd) Matches(act *activity.Activity, actionKey string, config json.RawMessage) bool {
	isList, _ := act.Extra["is_list"].(bool)
	switch actionKey {
	case LetterboxdNewReview:
		return !isList && strings.TrimSpace(act.ExtraString("review_text")) != ""
	case LetterboxdNewDiaryEntry, LetterboxdFilmWatched:
		return !isList && act.ExtraString("watched_date") != ""
	case LetterboxdNewList:
		return isList
	case LetterboxdFilmRated:
		rating, ok := act.Extra["member_rating"].(float64)
		if !ok {
			return false
		}
		var cfg letterboxdConfig
		if decodeConfig(config, &cfg) != nil {
			return false
		}
		return !cfg.MinRating.Set || rating >= cfg.MinRating.Value
	}
	return false
}
