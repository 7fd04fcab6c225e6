package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/store"
)

// OpenWeather action keys.
const (
	WeatherTemperatureBelow = "temperature_below_x"
	WeatherTemperatureAbove = "temperature_above_x"
	WeatherConditionIs      = "weather_condition_is"
)

type weatherConfig struct {
	City      string `json:"city"`
	Threshold number `json:"threshold"`
	Condition string `json:"condition"`
}

// OpenWeather polls current conditions per city with the shared API key.
// There is no natural event id: every fetch is a new snapshot keyed by the
// fetch time.
type OpenWeather struct {
	BaseURL string // default https://api.openweathermap.org
	APIKey  string
	HTTP    *HTTP
	Now     func() time.Time
}

func (o *OpenWeather) Slug() string { return "openweather" }

func (o *OpenWeather) GroupKey(a *store.Area) (string, error) {
	var cfg weatherConfig
	if err := decodeConfig(a.ActionConfig, &cfg); err != nil {
		return "", configErr(a.ID, "%v", err)
	}
	city := strings.ToLower(strings.TrimSpace(cfg.City))
	if city == "" {
		return "", configErr(a.ID, "city is required")
	}
	switch a.Action.Key {
	case WeatherTemperatureBelow, WeatherTemperatureAbove:
		if !cfg.Threshold.Set {
			return "", configErr(a.ID, "threshold is required")
		}
	case WeatherConditionIs:
		if strings.TrimSpace(cfg.Condition) == "" {
			return "", configErr(a.ID, "condition is required")
		}
	default:
		return "", configErr(a.ID, "unknown openweather action %q", a.Action.Key)
	}
	return city, nil
}

type weatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
	Dt int64 `json:"dt"`
}

func (o *OpenWeather) Fetch(ctx context.Context, grp *Group) ([]Observation, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("openweather: api key not configured")
	}
	base := o.BaseURL
	if base == "" {
		base = "https://api.openweathermap.org"
	}
	q := url.Values{}
	q.Set("q", grp.Key)
	q.Set("units", "metric")
	q.Set("appid", o.APIKey)

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	fetchedAt := now()

	body, _, err := o.HTTP.Get(ctx, "openweather", strings.TrimRight(base, "/")+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var w weatherResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("openweather: decode: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("openweather: decode: %w", err)
	}

	condition, description := "", ""
	if len(w.Weather) > 0 {
		condition, description = w.Weather[0].Main, w.Weather[0].Description
	}
	name := w.Name
	if name == "" {
		name = grp.Key
	}
	externalID := fmt.Sprintf("openweather:%s:%d", grp.Key, fetchedAt.UnixMilli())
	act := &activity.Activity{
		Provider:  "openweather",
		ID:        externalID,
		Title:     fmt.Sprintf("%s: %.1f°C, %s", name, w.Main.Temp, condition),
		URL:       "https://openweathermap.org/find?q=" + url.QueryEscape(grp.Key),
		CreatedAt: fetchedAt,
		Extra: map[string]any{
			"city":        name,
			"country":     w.Sys.Country,
			"temperature": w.Main.Temp,
			"feels_like":  w.Main.FeelsLike,
			"humidity":    w.Main.Humidity,
			"wind_speed":  w.Wind.Speed,
			"condition":   condition,
			"description": description,
		},
	}
	return []Observation{{ExternalID: externalID, Activity: act, Raw: raw}}, nil
}

// Matches compares the snapshot with the area's threshold or condition.
// Temperature comparisons are strict.
func (o *OpenWeather) Matches(act *activity.Activity, actionKey string, config json.RawMessage) bool {
	var cfg weatherConfig
	if decodeConfig(config, &cfg) != nil {
		return false
	}
	temp, ok := act.Extra["temperature"].(float64)
	switch actionKey {
	case WeatherTemperatureBelow:
		return ok && cfg.Threshold.Set && temp < cfg.Threshold.Value
	case WeatherTemperatureAbove:
		return ok && cfg.Threshold.Set && temp > cfg.Threshold.Value
	case WeatherConditionIs:
		want := strings.TrimSpace(cfg.Condition)
		return want != "" && strings.EqualFold(strings.TrimSpace(act.ExtraString("condition")), want)
	}
	return false
}
