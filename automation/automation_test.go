package automation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/automation/internal/store/storetest"
	"github.com/hazyhaar/area/automation/internal/token"
	"github.com/hazyhaar/area/dbopen"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func weatherAPI(t *testing.T, temp float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":    "Oslo",
			"main":    map[string]any{"temp": temp, "feels_like": temp, "humidity": 80},
			"weather": []map[string]any{{"main": "Snow", "description": "light snow"}},
			"wind":    map[string]any{"speed": 1.5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, cfg *Config) (*Engine, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	now := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	e, err := New(db, cfg, quietLogger(), WithClock(now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, store.NewStore(db)
}

func TestEngine_PollNowRunsThePipeline(t *testing.T) {
	// WHAT: A seeded engine polls OpenWeather on demand and records the
	// observation, the area log and the tick counters.
	// WHY: This is the whole wiring path from config to log row.
	srv := weatherAPI(t, -3)
	e, st := newTestEngine(t, &Config{
		Pollers:     []string{"openweather"},
		OpenWeather: OpenWeatherConfig{BaseURL: srv.URL, APIKey: "k"},
	})

	u := storetest.User(t, st, "ops@example.com")
	area := storetest.Area(t, st, storetest.AreaSpec{
		UserID:        u.ID,
		ActionService: "openweather", ActionKey: "temperature_below_x",
		ActionConfig: map[string]any{"city": "Oslo", "threshold": 0},
		ReactionSvc:  "core", ReactionKey: "log_activity",
	})

	if got := e.Pollers(); !slices.Equal(got, []string{"openweather"}) {
		t.Fatalf("Pollers: got %v", got)
	}
	ctx := context.Background()
	if err := e.PollNow(ctx, "openweather"); err != nil {
		t.Fatalf("PollNow: %v", err)
	}

	events, err := e.Events(ctx, "openweather", 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ExternalID != "openweather:oslo:1700000000000" {
		t.Fatalf("events: %+v", events)
	}
	logs, err := e.AreaLogs(ctx, area.ID, 10)
	if err != nil {
		t.Fatalf("AreaLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != store.StatusSuccess {
		t.Fatalf("logs: %+v", logs)
	}
	if s := e.PollerStats()["openweather"]; s.Ticks != 1 || s.Errors != 0 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestEngine_UnknownPollerAndService(t *testing.T) {
	// WHAT: Pollers without credentials are not started; unknown slugs fail
	// with typed errors.
	// WHY: Operators need a clear answer instead of a silent no-op.
	e, _ := newTestEngine(t, &Config{})
	ctx := context.Background()

	if slices.Contains(e.Pollers(), "openweather") || slices.Contains(e.Pollers(), "discord") {
		t.Fatalf("pollers without credentials started: %v", e.Pollers())
	}
	if err := e.PollNow(ctx, "openweather"); !errors.Is(err, ErrUnknownPoller) {
		t.Fatalf("PollNow: got %v, want ErrUnknownPoller", err)
	}
	if _, err := e.Events(ctx, "myspace", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Events: got %v, want ErrNotFound", err)
	}
}

func TestEngine_NewIsIdempotentOverOneDatabase(t *testing.T) {
	// WHAT: Two engines over the same database seed the catalog once.
	// WHY: Restarts must not duplicate services or fail on existing tables.
	db := dbopen.OpenMemory(t)
	for range 2 {
		if _, err := New(db, &Config{}, quietLogger()); err != nil {
			t.Fatalf("New: %v", err)
		}
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM services WHERE slug = 'github'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("github services: got %d, want 1", n)
	}
}

func TestEngine_OAuthStateRoundTrip(t *testing.T) {
	// WHAT: BeginOAuth returns an authorization URL whose state is
	// consumable exactly once.
	// WHY: A replayed state must not link an account twice.
	e, _ := newTestEngine(t, &Config{
		GitHub: OAuthProviderConfig{OAuth: token.Credentials{ClientID: "cid", ClientSecret: "sec"}},
	})
	ctx := context.Background()

	raw, err := e.BeginOAuth(ctx, "u1", "github")
	if err != nil {
		t.Fatalf("BeginOAuth: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if u.Query().Get("client_id") != "cid" || state == "" {
		t.Fatalf("auth url: %s", raw)
	}

	user, prov, err := e.ConsumeOAuthState(ctx, state)
	if err != nil || user != "u1" || prov != "github" {
		t.Fatalf("Consume: %q %q %v", user, prov, err)
	}
	if _, _, err := e.ConsumeOAuthState(ctx, state); !errors.Is(err, token.ErrInvalidState) {
		t.Fatalf("replay: got %v, want ErrInvalidState", err)
	}
	if _, err := e.BeginOAuth(ctx, "u1", "spotify"); err == nil {
		t.Fatal("BeginOAuth without credentials: want error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	// WHAT: YAML durations and nested sections decode; unset fields get
	// defaults.
	path := filepath.Join(t.TempDir(), "area.yaml")
	data := `
poll_interval: 5s
pollers: [github, letterboxd]
openweather:
  api_key: abc
otel:
  service_name: area-test
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.TickTimeout != 25*time.Second {
		t.Fatalf("durations: %v %v", cfg.PollInterval, cfg.TickTimeout)
	}
	if cfg.OpenWeather.APIKey != "abc" || cfg.OTel.ServiceName != "area-test" {
		t.Fatalf("sections: %+v", cfg)
	}
	if !slices.Equal(cfg.Pollers, []string{"github", "letterboxd"}) || cfg.DBPath != "data/area.db" {
		t.Fatalf("pollers/db: %v %q", cfg.Pollers, cfg.DBPath)
	}
}
