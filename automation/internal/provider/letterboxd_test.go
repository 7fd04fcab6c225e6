package provider_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/area/automation/internal/provider"
	"github.com/hazyhaar/area/automation/internal/store/storetest"
)

const letterboxdFeed = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:letterboxd="https://letterboxd.com" xmlns:tmdb="https://themoviedb.org" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
<title>Letterboxd - Jane</title>
<item>
  <title>Alien, 1979 - ★★★★½</title>
  <link>https://letterboxd.com/jane/film/alien/</link>
  <guid isPermaLink="false">letterboxd-review-1</guid>
  <pubDate>Sun, 5 May 2024 20:11:02 +1200</pubDate>
  <letterboxd:watchedDate>2024-05-04</letterboxd:watchedDate>
  <letterboxd:rewatch>No</letterboxd:rewatch>
  <letterboxd:filmTitle>Alien</letterboxd:filmTitle>
  <letterboxd:filmYear>1979</letterboxd:filmYear>
  <letterboxd:memberRating>4.5</letterboxd:memberRating>
  <tmdb:movieId>348</tmdb:movieId>
  <description><![CDATA[ <p><img src="https://a.ltrbxd.com/poster.jpg"/></p> <p>In space no one can hear you scream.</p> ]]></description>
  <dc:creator>Jane</dc:creator>
</item>
<item>
  <title>Heat, 1995 - ★★★</title>
  <link>https://letterboxd.com/jane/film/heat/</link>
  <guid isPermaLink="false">letterboxd-watch-2</guid>
  <pubDate>Sat, 4 May 2024 10:00:00 +0000</pubDate>
  <letterboxd:watchedDate>2024-05-03</letterboxd:watchedDate>
  <letterboxd:filmTitle>Heat</letterboxd:filmTitle>
  <letterboxd:filmYear>1995</letterboxd:filmYear>
  <letterboxd:memberRating>3.0</letterboxd:memberRating>
  <description><![CDATA[ <p><img src="https://a.ltrbxd.com/heat.jpg"/></p> <p>Watched on Friday May 3, 2024.</p> ]]></description>
  <dc:creator>Jane</dc:creator>
</item>
<item>
  <title>Best of the 70s</title>
  <link>https://letterboxd.com/jane/list/best-of-the-70s/</link>
  <guid isPermaLink="false">letterboxd-list-3</guid>
  <pubDate>Fri, 3 May 2024 09:00:00 +0000</pubDate>
  <description><![CDATA[ <p>My favourites.</p> ]]></description>
  <dc:creator>Jane</dc:creator>
</item>
</channel>
</rss>`

func TestLetterboxd_PredicatesPerAction(t *testing.T) {
	// WHAT: One feed fetch feeds every Letterboxd action of the username,
	// and each action fires only for its kind of entry.
	// WHY: Reviews, diary entries, lists and ratings share one RSS feed.
	s := storetest.Open(t)
	svc := storetest.Service(t, s, "letterboxd", []string{
		provider.LetterboxdNewReview, provider.LetterboxdNewDiaryEntry,
		provider.LetterboxdNewList, provider.LetterboxdFilmRated,
	}, []string{"log_activity"})
	u := storetest.User(t, s, "jane@example.com")
	area := func(key string, cfg map[string]any) string {
		return storetest.Area(t, s, storetest.AreaSpec{
			UserID: u.ID, ActionService: "letterboxd", ActionKey: key,
			ActionConfig: cfg, ReactionSvc: "letterboxd", ReactionKey: "log_activity",
		}).ID
	}
	review := area(provider.LetterboxdNewReview, map[string]any{"username": "jane"})
	diary := area(provider.LetterboxdNewDiaryEntry, map[string]any{"username": "Jane"})
	list := area(provider.LetterboxdNewList, map[string]any{"username": "@jane"})
	rated := area(provider.LetterboxdFilmRated, map[string]any{"username": "jane", "minRating": 4})

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/jane/rss/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(letterboxdFeed))
	}))
	defer srv.Close()

	rec := &recorder{}
	p := provider.NewPoller(
		&provider.Letterboxd{BaseURL: srv.URL, HTTP: &provider.HTTP{}},
		provider.Deps{Store: s, Dispatcher: rec, Concurrency: 1},
	)
	poll(t, p)

	if hits.Load() != 1 {
		t.Fatalf("feed fetches: got %d, want 1", hits.Load())
	}
	want := map[string]int{review: 1, diary: 2, list: 1, rated: 1}
	for id, n := range want {
		if got := rec.count(id); got != n {
			t.Errorf("area %s: got %d dispatches, want %d", id, got, n)
		}
	}
	if n := storetest.EventCount(t, s, svc.ID); n != 3 {
		t.Fatalf("events: got %d, want 3", n)
	}
	seen, err := s.Seen(t.Context(), svc.ID, "https://letterboxd.com/jane/film/alien/")
	if err != nil || !seen {
		t.Fatalf("ledger keyed by link: %v %v", seen, err)
	}
	for _, c := range rec.calls {
		if c.AreaID == review && c.Activity.ExtraString("review_text") != "In space no one can hear you scream." {
			t.Fatalf("review text: %q", c.Activity.ExtraString("review_text"))
		}
	}
}
