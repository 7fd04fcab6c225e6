// Entry point for the area engine: loads config, opens SQLite, starts the
// pollers and serves the ops API (or MCP over stdio).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/area/auth"
	"github.com/hazyhaar/area/automation"
	"github.com/hazyhaar/area/dbopen"
	"github.com/hazyhaar/area/opsapi"
	"github.com/hazyhaar/area/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("areaengine", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg := automation.DefaultConfig()
	if path := env("AREA_CONFIG", ""); path != "" {
		c, err := automation.LoadConfigFile(path)
		if err != nil {
			return err
		}
		cfg = c
	}
	applyEnv(cfg)
	mcpTransport := env("MCP_TRANSPORT", "")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg.OTel.ServiceVersion = version
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		tel.Shutdown(sctx)
	}()

	// stdout belongs to the MCP stream in stdio mode.
	var out io.Writer = os.Stdout
	if mcpTransport == "stdio" {
		out = os.Stderr
	}
	logger := telemetry.NewLogger(out, telemetry.ParseLevel(cfg.LogLevel), cfg.OTel)
	slog.SetDefault(logger)

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := automation.New(db, cfg, logger)
	if err != nil {
		return err
	}
	engine.Start(ctx)

	switch mcpTransport {
	case "stdio":
		srv := mcp.NewServer(&mcp.Implementation{Name: "areaengine", Version: version}, nil)
		engine.RegisterMCP(srv)
		logger.Info("mcp stdio serving")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			logger.Error("mcp stdio", "error", err)
		}
		cancel()
	case "":
		if err := serveOps(ctx, engine, cfg, logger); err != nil {
			cancel()
			engine.Wait()
			return err
		}
	default:
		cancel()
		engine.Wait()
		return fmt.Errorf("unknown MCP_TRANSPORT %q", mcpTransport)
	}

	logger.Info("shutting down")
	return engine.Wait()
}

// serveOps blocks until ctx is done. An empty ops address disables the API.
func serveOps(ctx context.Context, engine *automation.Engine, cfg *automation.Config, logger *slog.Logger) error {
	if cfg.Ops.Addr == "" {
		<-ctx.Done()
		return nil
	}
	var secret []byte
	if cfg.Ops.JWTSecret != "" {
		secret = []byte(cfg.Ops.JWTSecret)
		if err := auth.ValidateSecret(secret); err != nil {
			return err
		}
	} else {
		logger.Warn("ops api running without authentication", "addr", cfg.Ops.Addr)
	}

	srv := &http.Server{
		Addr:              cfg.Ops.Addr,
		Handler:           opsapi.Handler(engine, opsapi.Config{JWTSecret: secret, Logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("ops api starting", "addr", cfg.Ops.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("ops api: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// applyEnv overrides file config with environment variables.
func applyEnv(cfg *automation.Config) {
	cfg.DBPath = env("DB_PATH", cfg.DBPath)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.SealKey = env("TOKEN_SEAL_KEY", cfg.SealKey)
	cfg.LogLevel = env("LOG_LEVEL", cfg.LogLevel)
	cfg.PollInterval = envDuration("POLL_INTERVAL", cfg.PollInterval)
	if v := env("POLLERS", ""); v != "" {
		cfg.Pollers = strings.Split(v, ",")
	}

	cfg.GitHub.OAuth.ClientID = env("GITHUB_CLIENT_ID", cfg.GitHub.OAuth.ClientID)
	cfg.GitHub.OAuth.ClientSecret = env("GITHUB_CLIENT_SECRET", cfg.GitHub.OAuth.ClientSecret)
	cfg.Spotify.OAuth.ClientID = env("SPOTIFY_CLIENT_ID", cfg.Spotify.OAuth.ClientID)
	cfg.Spotify.OAuth.ClientSecret = env("SPOTIFY_CLIENT_SECRET", cfg.Spotify.OAuth.ClientSecret)
	cfg.Discord.OAuth.ClientID = env("DISCORD_CLIENT_ID", cfg.Discord.OAuth.ClientID)
	cfg.Discord.OAuth.ClientSecret = env("DISCORD_CLIENT_SECRET", cfg.Discord.OAuth.ClientSecret)
	cfg.Discord.BotToken = env("DISCORD_BOT_TOKEN", cfg.Discord.BotToken)
	cfg.OpenWeather.APIKey = env("OPENWEATHER_API_KEY", cfg.OpenWeather.APIKey)

	cfg.OTel.Endpoint = env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.Headers = env("OTEL_EXPORTER_OTLP_HEADERS", cfg.OTel.Headers)
	cfg.Ops.Addr = env("OPS_ADDR", cfg.Ops.Addr)
	cfg.Ops.JWTSecret = env("OPS_JWT_SECRET", cfg.Ops.JWTSecret)
	if v, err := strconv.ParseBool(env("ALLOW_PRIVATE_WEBHOOKS", "")); err == nil {
		cfg.AllowPrivateWebhooks = v
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
