package automation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/area/automation/internal/token"
	"github.com/hazyhaar/area/telemetry"
)

// Config configures the engine.
type Config struct {
	DBPath string `yaml:"db_path"`

	// PollInterval between ticks of each provider. Default: 30s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// TickTimeout bounds one provider tick. Default: 25s.
	TickTimeout time.Duration `yaml:"tick_timeout"`
	// HTTPTimeout bounds every outbound call. Default: 15s.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// GroupConcurrency is the number of resource groups fetched in
	// parallel within one tick. Default: 4.
	GroupConcurrency int `yaml:"group_concurrency"`
	// Pollers restricts the providers polled. Empty means all.
	Pollers []string `yaml:"pollers"`

	GitHub      OAuthProviderConfig `yaml:"github"`
	Spotify     OAuthProviderConfig `yaml:"spotify"`
	Discord     DiscordConfig       `yaml:"discord"`
	OpenWeather OpenWeatherConfig   `yaml:"openweather"`
	Letterboxd  LetterboxdConfig    `yaml:"letterboxd"`

	RateLimit RateLimitConfig `yaml:"ratelimit"`

	// RedisURL selects a Redis kvstore; empty uses process memory.
	RedisURL string `yaml:"redis_url"`
	// SealKey encrypts provider tokens at rest when set.
	SealKey string `yaml:"seal_key"`
	// OAuthStateTTL is the lifetime of an issued OAuth state. Default: 10m.
	OAuthStateTTL time.Duration `yaml:"oauth_state_ttl"`
	// AllowPrivateWebhooks disables the private-address check on
	// send_webhook targets.
	AllowPrivateWebhooks bool `yaml:"allow_private_webhooks"`

	OTel     telemetry.Config `yaml:"otel"`
	Ops      OpsConfig        `yaml:"ops"`
	LogLevel string           `yaml:"log_level"`
}

// OAuthProviderConfig is an API base URL plus OAuth client credentials.
type OAuthProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	OAuth   token.Credentials `yaml:"oauth"`
}

// DiscordConfig configures the Discord poller and reactions.
type DiscordConfig struct {
	BaseURL  string            `yaml:"base_url"`
	BotToken string            `yaml:"bot_token"`
	OAuth    token.Credentials `yaml:"oauth"`
}

// OpenWeatherConfig configures the OpenWeather poller.
type OpenWeatherConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// LetterboxdConfig configures the Letterboxd poller.
type LetterboxdConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RateLimitConfig configures quota observation.
type RateLimitConfig struct {
	// LowWater logs a warning when remaining quota drops below it.
	// Default: 10.
	LowWater int `yaml:"low_water"`
}

// OpsConfig configures the operator HTTP API.
type OpsConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "data/area.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 25 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.GroupConcurrency <= 0 {
		c.GroupConcurrency = 4
	}
	if c.RateLimit.LowWater <= 0 {
		c.RateLimit.LowWater = 10
	}
	if c.OAuthStateTTL <= 0 {
		c.OAuthStateTTL = 10 * time.Minute
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "areaengine"
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("automation: parse %s: %w", path, err)
	}
	cfg.defaults()
	return &cfg, nil
}

func (c *Config) credentials() map[string]token.Credentials {
	out := map[string]token.Credentials{}
	if c.GitHub.OAuth.ClientID != "" {
		out["github"] = c.GitHub.OAuth
	}
	if c.Spotify.OAuth.ClientID != "" {
		out["spotify"] = c.Spotify.OAuth
	}
	if c.Discord.OAuth.ClientID != "" {
		out["discord"] = c.Discord.OAuth
	}
	return out
}
