// Package token keeps pollers and reactions authorized: it hands out valid
// provider access tokens, refreshing expired ones through the provider's
// OAuth2 token endpoint, and revokes accounts the provider rejected.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/area/automation/internal/store"
)

// ErrUnavailable means no usable token exists for (user, provider): no
// account, expired without refresh token, or refresh failed.
var ErrUnavailable = errors.New("token: unavailable")

// ErrNoAccount is the cause of an UnavailableError when the user never
// linked the provider (or the account was revoked).
var ErrNoAccount = errors.New("token: no linked account")

// UnavailableError carries the reason a token could not be produced.
type UnavailableError struct {
	UserID   string
	Provider string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("token: %s/%s unavailable: %s", e.UserID, e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) true.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// DiscordEndpoint is Discord's OAuth2 endpoint.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// Credentials configures one OAuth provider. TokenURL/AuthURL override the
// well-known endpoint when set.
type Credentials struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Endpoint returns the built-in OAuth2 endpoint of a provider.
func Endpoint(provider string) (oauth2.Endpoint, bool) {
	switch provider {
	case "github":
		return endpoints.GitHub, true
	case "spotify":
		return endpoints.Spotify, true
	case "discord":
		return DiscordEndpoint, true
	}
	return oauth2.Endpoint{}, false
}

// expirySkew treats tokens about to expire as expired.
const expirySkew = 30 * time.Second

// Manager implements the token lifecycle over the store.
type Manager struct {
	store   *store.Store
	configs map[string]*oauth2.Config
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	flight  singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for refresh calls.
func WithHTTPClient(c *http.Client) Option { return func(m *Manager) { m.client = c } }

// WithTimeout bounds each refresh call. Default 15s.
func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager builds a Manager for the given providers. Providers without an
// entry can still serve non-expiring tokens but never refresh.
func NewManager(st *store.Store, creds map[string]Credentials, opts ...Option) *Manager {
	m := &Manager{
		store:   st,
		configs: make(map[string]*oauth2.Config),
		client:  http.DefaultClient,
		timeout: 15 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for name, c := range creds {
		ep, _ := Endpoint(name)
		if c.AuthURL != "" {
			ep.AuthURL = c.AuthURL
		}
		if c.TokenURL != "" {
			ep.TokenURL = c.TokenURL
		}
		if ep.TokenURL == "" {
			continue
		}
		m.configs[name] = &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Endpoint:     ep,
			RedirectURL:  c.RedirectURL,
		}
	}
	return m
}

// OAuthConfig returns the oauth2 configuration of a provider, for the
// authorization-code handshake collaborator.
func (m *Manager) OAuthConfig(provider string) (*oauth2.Config, bool) {
	c, ok := m.configs[provider]
	return c, ok
}

// GetValidAccessToken returns a usable access token for (userID, provider),
// refreshing and persisting it when expired.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	acc, err := m.store.GetAccount(ctx, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return "", &UnavailableError{UserID: userID, Provider: provider, Reason: "account lookup", Err: ErrNoAccount}
	}
	if err != nil {
		return "", err
	}
	if !m.expired(acc) {
		return acc.AccessToken, nil
	}
	if acc.RefreshToken == "" {
		return "", &UnavailableError{UserID: userID, Provider: provider, Reason: "token expired and no refresh token"}
	}

	v, err, _ := m.flight.Do(userID+"/"+provider, func() (any, error) {
		return m.refresh(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) expired(acc *store.ProviderAccount) bool {
	if acc.ExpiresAt == nil {
		return false
	}
	return !m.now().Add(expirySkew).Before(time.UnixMilli(*acc.ExpiresAt))
}

func (m *Manager) refresh(ctx context.Context, acc *store.ProviderAccount) (string, error) {
	conf, ok := m.configs[acc.Provider]
	if !ok {
		return "", &UnavailableError{UserID: acc.UserID, Provider: acc.Provider, Reason: "provider has no oauth client configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: acc.RefreshToken}).Token()
	if err != nil {
		m.logger.Warn("token: refresh failed",
			"user_id", acc.UserID, "provider", acc.Provider, "error", err)
		return "", &UnavailableError{UserID: acc.UserID, Provider: acc.Provider, Reason: "refresh failed", Err: err}
	}

	var expiresAt *int64
	if !tok.Expiry.IsZero() {
		ms := tok.Expiry.UnixMilli()
		expiresAt = &ms
	}
	if err := m.store.UpdateTokens(ctx, acc.UserID, acc.Provider, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("token: persist refreshed token: %w", err)
	}
	m.logger.Debug("token: refreshed", "user_id", acc.UserID, "provider", acc.Provider)
	return tok.AccessToken, nil
}

// Revoke deletes the account after the provider rejected its token.
// Later polls find no account and skip.
func (m *Manager) Revoke(ctx context.Context, userID, provider, reason string) error {
	if err := m.store.DeleteAccount(ctx, userID, provider); err != nil {
		return err
	}
	m.logger.Warn("token: account revoked",
		"user_id", userID, "provider", provider, "reason", reason)
	return nil
}
