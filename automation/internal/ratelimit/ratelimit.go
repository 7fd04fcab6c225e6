// Package ratelimit watches provider quota headers. It never throttles: it
// records the latest observation per provider and warns below a low-water
// mark.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/area/kvstore"
)

const keyPrefix = "ratelimit:"

// Observation is the last quota state seen for a provider.
type Observation struct {
	Provider   string    `json:"provider"`
	Remaining  int       `json:"remaining"`
	Limit      int       `json:"limit,omitempty"`
	ResetAt    time.Time `json:"reset_at,omitzero"`
	RetryAfter int       `json:"retry_after_s,omitempty"`
	Status     int       `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observer records quota headers into a kvstore.
type Observer struct {
	kv        kvstore.Store
	lowWater  int
	ttl       time.Duration
	providers []string
	now       func() time.Time
	logger    *slog.Logger
}

// NewObserver creates an Observer. lowWater <= 0 defaults to 10.
func NewObserver(kv kvstore.Store, lowWater int, providers []string, logger *slog.Logger) *Observer {
	if lowWater <= 0 {
		lowWater = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{kv: kv, lowWater: lowWater, ttl: time.Hour, providers: providers, now: time.Now, logger: logger}
}

// WithClock overrides time.Now.
func (o *Observer) WithClock(now func() time.Time) *Observer {
	o.now = now
	return o
}

// Observe inspects a provider response. Responses without quota headers and
// without a 429 are ignored.
func (o *Observer) Observe(ctx context.Context, provider string, resp *http.Response) {
	if o == nil || resp == nil {
		return
	}
	obs, ok := parse(resp.Header, resp.StatusCode, o.now())
	if !ok {
		return
	}
	obs.Provider = provider

	if obs.Status == http.StatusTooManyRequests {
		o.logger.Warn("ratelimit: provider returned 429",
			"provider", provider, "retry_after_s", obs.RetryAfter)
	} else if obs.Remaining < o.lowWater {
		o.logger.Warn("ratelimit: quota below low-water mark",
			"provider", provider, "remaining", obs.Remaining,
			"low_water", o.lowWater, "reset_at", obs.ResetAt)
	}

	b, _ := json.Marshal(obs)
	if err := o.kv.Set(ctx, keyPrefix+provider, string(b), o.ttl); err != nil {
		o.logger.Debug("ratelimit: store observation", "provider", provider, "error", err)
	}
}

// Snapshot returns the latest observation of every known provider that has
// one.
func (o *Observer) Snapshot(ctx context.Context) (map[string]Observation, error) {
	out := make(map[string]Observation)
	for _, p := range o.providers {
		v, ok, err := o.kv.Get(ctx, keyPrefix+p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var obs Observation
		if err := json.Unmarshal([]byte(v), &obs); err != nil {
			continue
		}
		out[p] = obs
	}
	return out, nil
}

func parse(h http.Header, status int, now time.Time) (Observation, bool) {
	obs := Observation{Status: status, ObservedAt: now, Remaining: -1}
	found := false

	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			obs.Remaining = int(n)
			found = true
		}
	}
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		obs.Limit, _ = strconv.Atoi(v)
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		// GitHub: epoch seconds. Discord: epoch seconds with fraction.
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			obs.ResetAt = time.Unix(int64(f), 0).UTC()
		}
	}
	if v := h.Get("X-RateLimit-Reset-After"); v != "" && obs.ResetAt.IsZero() {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			obs.ResetAt = now.Add(time.Duration(f * float64(time.Second))).UTC()
		}
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			obs.RetryAfter = n
		}
	}
	if status == http.StatusTooManyRequests {
		found = true
		if obs.Remaining < 0 {
			obs.Remaining = 0
		}
	}
	return obs, found
}
