// Package feed parses Letterboxd's per-user RSS feed, including the
// letterboxd: and tmdb: namespace fields, and extracts review text from the
// HTML description.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Entry is one feed item: a diary entry, a review or a list.
type Entry struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Published   time.Time `json:"published"`
	Creator     string    `json:"creator,omitempty"`
	Description string    `json:"-"`

	FilmTitle    string   `json:"film_title,omitempty"`
	FilmYear     int      `json:"film_year,omitempty"`
	WatchedDate  string   `json:"watched_date,omitempty"` // YYYY-MM-DD
	Rewatch      bool     `json:"rewatch,omitempty"`
	MemberRating *float64 `json:"member_rating,omitempty"`
	TMDBMovieID  string   `json:"tmdb_movie_id,omitempty"`

	Review
	IsList bool `json:"is_list,omitempty"`
}

// Feed is a parsed feed.
type Feed struct {
	Title   string  `json:"title"`
	Link    string  `json:"link"`
	Entries []Entry `json:"entries"`
}

type rssRoot struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Link  string    `xml:"link"`
	Items []rssItem `xml:"item"`
}

// Namespaced fields are matched by local name.
type rssItem struct {
	GUID         string `xml:"guid"`
	Title        string `xml:"title"`
	Link         string `xml:"link"`
	Description  string `xml:"description"`
	PubDate      string `xml:"pubDate"`
	Creator      string `xml:"creator"`
	WatchedDate  string `xml:"watchedDate"`
	Rewatch      string `xml:"rewatch"`
	FilmTitle    string `xml:"filmTitle"`
	FilmYear     string `xml:"filmYear"`
	MemberRating string `xml:"memberRating"`
	MovieID      string `xml:"movieId"`
}

// Parse parses a Letterboxd RSS document.
func Parse(data []byte) (*Feed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}
	var root rssRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}

	ch := root.Channel
	f := &Feed{
		Title:   strings.TrimSpace(ch.Title),
		Link:    strings.TrimSpace(ch.Link),
		Entries: make([]Entry, 0, len(ch.Items)),
	}
	for _, it := range ch.Items {
		link := strings.TrimSpace(it.Link)
		guid := strings.TrimSpace(it.GUID)
		if guid == "" {
			guid = link
		}
		e := Entry{
			GUID:        guid,
			Title:       strings.TrimSpace(it.Title),
			Link:        link,
			Published:   parseDate(it.PubDate),
			Creator:     strings.TrimSpace(it.Creator),
			Description: strings.TrimSpace(it.Description),
			FilmTitle:   strings.TrimSpace(it.FilmTitle),
			WatchedDate: strings.TrimSpace(it.WatchedDate),
			Rewatch:     strings.EqualFold(strings.TrimSpace(it.Rewatch), "yes"),
			TMDBMovieID: strings.TrimSpace(it.MovieID),
			IsList:      isListLink(link),
		}
		if y, err := strconv.Atoi(strings.TrimSpace(it.FilmYear)); err == nil {
			e.FilmYear = y
		}
		if r, err := strconv.ParseFloat(strings.TrimSpace(it.MemberRating), 64); err == nil {
			e.MemberRating = &r
		}
		if !e.IsList {
			e.Review = ExtractReview(e.Description)
		}
		f.Entries = append(f.Entries, e)
	}
	return f, nil
}

// isListLink reports whether an item link points at a list
// (https://letterboxd.com/{user}/list/{slug}/).
func isListLink(link string) bool {
	return strings.Contains(link, "/list/")
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
