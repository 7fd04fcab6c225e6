// Package reaction executes the effect half of an area: generic webhooks and
// log lines, and provider-native Discord and Spotify mutations.
//
// Reactions form a closed set of Kinds resolved from (service slug, key).
// The Dispatcher refuses to build unless every Kind has an executor, so an
// unknown reaction is a construction or lookup error, never a silent drop.
package reaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/template"
	"github.com/hazyhaar/area/netguard"
)

// Context describes why a reaction fires.
type Context struct {
	Source    string // triggering provider slug
	AreaID    string
	UserID    string // area owner
	ActionKey string
	Activity  *activity.Activity
	Raw       any
	Now       time.Time
}

// Request is what an executor receives: the resolved kind, the rendered
// config and the template root for any further rendering.
type Request struct {
	Kind   Kind
	Ref    Ref
	Config map[string]any
	Root   map[string]any
	Ctx    Context
}

// Executor performs one family of reactions.
type Executor interface {
	Execute(ctx context.Context, req *Request) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) error

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) error { return f(ctx, req) }

// TokenSource hands out the area owner's provider token.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID, provider string) (string, error)
}

// QuotaObserver receives provider responses for rate-limit tracking.
type QuotaObserver interface {
	Observe(ctx context.Context, provider string, resp *http.Response)
}

// Config wires the built-in executors.
type Config struct {
	HTTPClient      *http.Client
	Timeout         time.Duration // per outbound call, default 15s
	Tokens          TokenSource
	Quota           QuotaObserver
	DiscordBotToken string
	DiscordBaseURL  string // default https://discord.com/api/v10
	SpotifyBaseURL  string // default https://api.spotify.com/v1
	ValidateURL     netguard.URLValidator
	Logger          *slog.Logger

	// Overrides replaces built-in executors (tests, extensions).
	Overrides map[Kind]Executor
}

// Dispatcher routes a reaction to its executor.
type Dispatcher struct {
	executors map[Kind]Executor
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a Dispatcher with the built-in executors. It fails if any Kind
// is left without an executor.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ValidateURL == nil {
		cfg.ValidateURL = netguard.ValidateURL
	}
	if cfg.DiscordBaseURL == "" {
		cfg.DiscordBaseURL = "https://discord.com/api/v10"
	}
	if cfg.SpotifyBaseURL == "" {
		cfg.SpotifyBaseURL = "https://api.spotify.com/v1"
	}

	hc := &httpCaller{client: cfg.HTTPClient, timeout: cfg.Timeout, quota: cfg.Quota}
	wh := &httpCaller{client: webhookClient(cfg.HTTPClient, cfg.ValidateURL), timeout: cfg.Timeout, quota: cfg.Quota}
	discord := &discordExecutor{http: hc, baseURL: cfg.DiscordBaseURL, botToken: cfg.DiscordBotToken}
	spotify := &spotifyExecutor{http: hc, baseURL: cfg.SpotifyBaseURL, tokens: cfg.Tokens}

	executors := map[Kind]Executor{
		KindWebhook:               &webhookExecutor{http: wh, validate: cfg.ValidateURL},
		KindLogActivity:           &logExecutor{logger: cfg.Logger},
		KindDiscordSendMessage:    discord,
		KindDiscordCreateThread:   discord,
		KindSpotifyAddToPlaylist:  spotify,
		KindSpotifyLikeSong:       spotify,
		KindSpotifyCreatePlaylist: spotify,
		KindSpotifyFollowArtist:   spotify,
	}
	for k, e := range cfg.Overrides {
		executors[k] = e
	}
	return newDispatcher(executors, cfg.Logger)
}

func newDispatcher(executors map[Kind]Executor, logger *slog.Logger) (*Dispatcher, error) {
	for _, k := range Kinds() {
		if executors[k] == nil {
			return nil, fmt.Errorf("reaction: no executor for %s", k)
		}
	}
	return &Dispatcher{executors: executors, logger: logger, now: time.Now}, nil
}

// Execute runs the reaction named by ref with the area's raw reaction config.
// ErrSkipped (wrapped) means the reaction did not run for a benign reason.
func (d *Dispatcher) Execute(ctx context.Context, ref Ref, config json.RawMessage, rc Context) error {
	kind, err := Resolve(ref)
	if err != nil {
		return err
	}
	cfg, err := ParseConfig(config)
	if err != nil {
		return err
	}
	if rc.Now.IsZero() {
		rc.Now = d.now()
	}

	root := template.Root(rc.Activity, Defaults(rc), rc.Raw, map[string]any{
		"source":       rc.Source,
		"area_id":      rc.AreaID,
		"user_id":      rc.UserID,
		"action_key":   rc.ActionKey,
		"triggered_at": rc.Now.UTC().Format(time.RFC3339),
	})
	rendered, _ := template.RenderValue(cfg, root).(map[string]any)

	err = d.executors[kind].Execute(ctx, &Request{Kind: kind, Ref: ref, Config: rendered, Root: root, Ctx: rc})
	if err == nil || errors.Is(err, ErrSkipped) {
		return err
	}
	return &ErrDispatch{Kind: kind, Cause: err}
}

// ParseConfig decodes a reaction config object. Empty input is an empty
// config; anything but a JSON object is an error.
func ParseConfig(raw json.RawMessage) (map[string]any, error) {
	cfg := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("reaction: config is not a JSON object: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// Defaults are the provider-flavoured values exposed as {{defaults.*}} and
// used when a config omits message fields.
func Defaults(rc Context) map[string]any {
	d := map[string]any{
		"message": "",
		"title":   "",
		"url":     "",
	}
	a := rc.Activity
	if a == nil {
		return d
	}
	d["title"] = a.Title
	d["url"] = a.URL
	msg := fmt.Sprintf("[%s] %s: %s", rc.Source, rc.ActionKey, a.Title)
	if a.Author != "" {
		msg += " by " + a.Author
	}
	if a.URL != "" {
		msg += "\n" + a.URL
	}
	d["message"] = msg
	return d
}

func (r *Request) defaultMessage() string {
	d, _ := r.Root["defaults"].(map[string]any)
	s, _ := d["message"].(string)
	return s
}

// str reads a string field, "" when absent or not a string.
func str(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func require(kind Kind, cfg map[string]any, key string) (string, error) {
	if s := str(cfg, key); s != "" {
		return s, nil
	}
	return "", &ErrMissingConfig{Kind: kind, Field: key}
}
