// Package automation is the area engine: it wires the store, the token
// lifecycle, quota observation, the reaction dispatcher and one poller per
// provider under a scheduler, and exposes the read-mostly ops surface.
package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/hazyhaar/area/automation/catalog"
	"github.com/hazyhaar/area/automation/internal/provider"
	"github.com/hazyhaar/area/automation/internal/ratelimit"
	"github.com/hazyhaar/area/automation/internal/reaction"
	"github.com/hazyhaar/area/automation/internal/scheduler"
	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/automation/internal/token"
	"github.com/hazyhaar/area/kvstore"
	"github.com/hazyhaar/area/netguard"
)

// Exported views of engine records.
type (
	AreaLog          = store.AreaLog
	WebhookEvent     = store.WebhookEvent
	QuotaObservation = ratelimit.Observation
	PollerStats      = scheduler.Stats
)

var (
	// ErrBusy is returned by PollNow while that provider's tick runs.
	ErrBusy = scheduler.ErrBusy
	// ErrUnknownPoller is returned by PollNow for a provider not polled.
	ErrUnknownPoller = scheduler.ErrUnknownPoller
	// ErrNotFound is returned for an unknown service.
	ErrNotFound = store.ErrNotFound
)

// Providers lists the polled provider slugs.
var Providers = []string{"github", "discord", "spotify", "openweather", "letterboxd"}

// Engine runs the automation pipeline.
type Engine struct {
	config     *Config
	logger     *slog.Logger
	store      *store.Store
	kv         kvstore.Store
	tokens     *token.Manager
	states     *token.StateStore
	quota      *ratelimit.Observer
	dispatcher *reaction.Dispatcher
	scheduler  *scheduler.Scheduler

	closers []func() error
	done    chan struct{}
}

type options struct {
	httpClient *http.Client
	kv         kvstore.Store
	now        func() time.Time
}

// Option configures an Engine during creation.
type Option func(*options)

// WithHTTPClient sets the client for provider, reaction and refresh calls.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithKVStore overrides the kvstore selected by Config.RedisURL.
func WithKVStore(kv kvstore.Store) Option { return func(o *options) { o.kv = kv } }

// WithClock overrides time.Now for ledger timestamps and log rows.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New builds an Engine over db, applying the schema and seeding the catalog.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	o := options{httpClient: &http.Client{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	e := &Engine{config: cfg, logger: logger, done: make(chan struct{})}

	var sealer *store.Sealer
	if cfg.SealKey != "" {
		s, err := store.NewSealer(cfg.SealKey)
		if err != nil {
			return nil, err
		}
		sealer = s
	}
	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("automation: apply schema: %w", err)
	}
	e.store = store.NewStore(db, store.WithSealer(sealer), store.WithClock(o.now))
	if err := catalog.Seed(ctx, e.store); err != nil {
		return nil, err
	}

	switch {
	case o.kv != nil:
		e.kv = o.kv
	case cfg.RedisURL != "":
		r, err := kvstore.OpenRedis(ctx, cfg.RedisURL, "area:")
		if err != nil {
			return nil, fmt.Errorf("automation: %w", err)
		}
		e.kv = r
		e.closers = append(e.closers, r.Close)
	default:
		e.kv = kvstore.NewMemory()
	}

	e.quota = ratelimit.NewObserver(e.kv, cfg.RateLimit.LowWater, Providers, logger)
	e.tokens = token.NewManager(e.store, cfg.credentials(),
		token.WithHTTPClient(o.httpClient),
		token.WithTimeout(cfg.HTTPTimeout),
		token.WithClock(o.now),
		token.WithLogger(logger),
	)
	e.states = token.NewStateStore(e.kv, cfg.OAuthStateTTL)

	validate := netguard.ValidateURL
	if cfg.AllowPrivateWebhooks {
		validate = netguard.AllowAll
	}
	d, err := reaction.New(reaction.Config{
		HTTPClient:      o.httpClient,
		Timeout:         cfg.HTTPTimeout,
		Tokens:          e.tokens,
		Quota:           e.quota,
		DiscordBotToken: cfg.Discord.BotToken,
		DiscordBaseURL:  cfg.Discord.BaseURL,
		SpotifyBaseURL:  cfg.Spotify.BaseURL,
		ValidateURL:     validate,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	e.dispatcher = d

	deps := provider.Deps{
		Store:       e.store,
		Dispatcher:  e.dispatcher,
		Revoker:     e.tokens,
		Concurrency: cfg.GroupConcurrency,
		Logger:      logger,
		Now:         o.now,
	}
	var jobs []scheduler.Job
	for _, src := range e.sources(o) {
		if len(cfg.Pollers) > 0 && !slices.Contains(cfg.Pollers, src.Slug()) {
			continue
		}
		jobs = append(jobs, provider.NewPoller(src, deps))
	}
	sched, err := scheduler.New(jobs, scheduler.Config{
		Interval:    cfg.PollInterval,
		TickTimeout: cfg.TickTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	e.scheduler = sched
	return e, nil
}

// sources builds the provider sources that have what they need to run.
func (e *Engine) sources(o options) []provider.Source {
	cfg := e.config
	h := &provider.HTTP{Client: o.httpClient, Timeout: cfg.HTTPTimeout, Quota: e.quota}

	out := []provider.Source{
		&provider.GitHub{BaseURL: cfg.GitHub.BaseURL, HTTP: h, Tokens: e.tokens, Now: o.now},
		&provider.Spotify{BaseURL: cfg.Spotify.BaseURL, HTTP: h, Tokens: e.tokens},
		&provider.Letterboxd{BaseURL: cfg.Letterboxd.BaseURL, HTTP: h},
	}
	if cfg.Discord.BotToken != "" {
		out = append(out, &provider.Discord{BaseURL: cfg.Discord.BaseURL, BotToken: cfg.Discord.BotToken, HTTP: h, KV: e.kv})
	} else {
		e.logger.Warn("automation: discord bot token not set, discord poller disabled")
	}
	if cfg.OpenWeather.APIKey != "" {
		out = append(out, &provider.OpenWeather{BaseURL: cfg.OpenWeather.BaseURL, APIKey: cfg.OpenWeather.APIKey, HTTP: h, Now: o.now})
	} else {
		e.logger.Warn("automation: openweather api key not set, openweather poller disabled")
	}
	return out
}

// Start runs the scheduler until ctx is cancelled. Wait blocks until it
// has drained.
func (e *Engine) Start(ctx context.Context) {
	if mem, ok := e.kv.(*kvstore.Memory); ok {
		go sweep(ctx, mem, time.Minute)
	}
	go func() {
		defer close(e.done)
		e.logger.Info("automation: scheduler started",
			"pollers", e.scheduler.Slugs(), "interval", e.config.PollInterval)
		e.scheduler.Run(ctx)
		e.logger.Info("automation: scheduler stopped")
	}()
}

func sweep(ctx context.Context, mem *kvstore.Memory, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mem.Sweep()
		}
	}
}

// Wait blocks until the scheduler stopped, then releases external clients.
func (e *Engine) Wait() error {
	<-e.done
	return e.Close()
}

// Close releases external clients. It does not stop a running scheduler.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// PollNow runs one tick of a provider immediately.
func (e *Engine) PollNow(ctx context.Context, slug string) error {
	return e.scheduler.TriggerNow(ctx, slug)
}

// Pollers returns the slugs of the running pollers.
func (e *Engine) Pollers() []string { return e.scheduler.Slugs() }

// PollerStats returns tick counters per poller.
func (e *Engine) PollerStats() map[string]PollerStats { return e.scheduler.Stats() }

// AreaLogs returns the most recent execution log rows of an area.
func (e *Engine) AreaLogs(ctx context.Context, areaID string, limit int) ([]*AreaLog, error) {
	return e.store.ListLogs(ctx, areaID, limit)
}

// Events returns the most recent ledger rows of a service.
func (e *Engine) Events(ctx context.Context, serviceSlug string, limit int) ([]*WebhookEvent, error) {
	svc, err := e.store.ServiceBySlug(ctx, serviceSlug)
	if err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, svc.ID, limit)
}

// Quota returns the latest rate-limit observation per provider.
func (e *Engine) Quota(ctx context.Context) (map[string]QuotaObservation, error) {
	return e.quota.Snapshot(ctx)
}

// BeginOAuth issues a single-use state for a user linking an account and
// returns the provider's authorization URL.
func (e *Engine) BeginOAuth(ctx context.Context, userID, slug string) (string, error) {
	cfg, ok := e.tokens.OAuthConfig(slug)
	if !ok {
		return "", fmt.Errorf("automation: no oauth credentials for %s", slug)
	}
	state, err := e.states.Issue(ctx, userID, slug)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// ConsumeOAuthState resolves and invalidates a state issued by BeginOAuth.
func (e *Engine) ConsumeOAuthState(ctx context.Context, state string) (userID, slug string, err error) {
	return e.states.Consume(ctx, state)
}
