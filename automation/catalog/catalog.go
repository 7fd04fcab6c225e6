// Package catalog holds the static service, action and reaction
// definitions with their JSON-Schema config schemas, seeds them into the
// store and validates area configs at creation time.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hazyhaar/area/automation/internal/store"
)

// ErrUnknown is returned for a service, action or reaction not in the catalog.
var ErrUnknown = errors.New("catalog: unknown definition")

// Def is one action or reaction.
type Def struct {
	Key         string          `json:"key"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"config_schema"`
}

// ServiceDef is one service and what it offers.
type ServiceDef struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Actions   []Def  `json:"actions"`
	Reactions []Def  `json:"reactions"`
}

const (
	webhookSchema = `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1, "description": "Target URL; Discord webhook URLs get Discord's message format"},
			"method": {"type": "string", "enum": ["POST", "PUT", "PATCH"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"message": {"type": "string"}
		},
		"required": ["url"]
	}`
	logSchema = `{
		"type": "object",
		"properties": {
			"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
			"message": {"type": "string"}
		}
	}`
	githubRepoSchema = `{
		"type": "object",
		"properties": {
			"owner": {"type": "string"},
			"repo": {"type": "string"},
			"repository": {"type": "string", "pattern": "^[^/]+/[^/]+$", "description": "owner/repo"}
		},
		"anyOf": [{"required": ["owner", "repo"]}, {"required": ["repository"]}]
	}`
	stringList    = `{"type": ["array", "string"], "items": {"type": "string"}}`
	discordCommon = `
			"channelId": {"type": ["string", "number"]},
			"guildId": {"type": ["string", "number"]},
			"allowBots": {"type": ["boolean", "string"]},
			"allowedUserIds": ` + stringList
	threshold = `{
		"type": "object",
		"properties": {
			"city": {"type": "string", "minLength": 1},
			"threshold": {"type": ["number", "string"]}
		},
		"required": ["city", "threshold"]
	}`
	letterboxdUser = `{
		"type": "object",
		"properties": {"username": {"type": "string", "minLength": 1}},
		"required": ["username"]
	}`
	empty = `{"type": "object"}`
)

var services = []ServiceDef{
	{
		Slug: "core", Name: "Core",
		Reactions: []Def{
			{Key: "send_webhook", Description: "POST the activity to a URL", Schema: json.RawMessage(webhookSchema)},
			{Key: "log_activity", Description: "Write the activity to the engine log", Schema: json.RawMessage(logSchema)},
		},
	},
	{
		Slug: "github", Name: "GitHub",
		Actions: []Def{
			{Key: "new_issue", Description: "A new issue is opened", Schema: json.RawMessage(githubRepoSchema)},
			{Key: "new_pull_request", Description: "A new pull request is opened", Schema: json.RawMessage(githubRepoSchema)},
			{Key: "new_release", Description: "A release is published", Schema: json.RawMessage(githubRepoSchema)},
		},
	},
	{
		Slug: "discord", Name: "Discord",
		Actions: []Def{
			{Key: "message_contains_keyword", Description: "A channel message contains a keyword", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {` + discordCommon + `, "keywords": ` + stringList + `},
				"required": ["channelId", "keywords"]
			}`)},
			{Key: "message_with_attachment", Description: "A channel message carries an attachment", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {` + discordCommon + `,
					"requireImage": {"type": ["boolean", "string"]},
					"allowedContentTypes": ` + stringList + `},
				"required": ["channelId"]
			}`)},
		},
		Reactions: []Def{
			{Key: "send_channel_message", Description: "Post a message in a channel", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"channelId": {"type": ["string", "number"]},
					"content": {"type": "string"},
					"embed": {"type": "object"}
				},
				"required": ["channelId"]
			}`)},
			{Key: "create_thread", Description: "Start a thread in a channel", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"channelId": {"type": ["string", "number"]},
					"name": {"type": "string"},
					"messageId": {"type": "string"},
					"autoArchiveDuration": {"type": "integer", "enum": [60, 1440, 4320, 10080]},
					"message": {"type": "string"}
				},
				"required": ["channelId"]
			}`)},
		},
	},
	{
		Slug: "spotify", Name: "Spotify",
		Actions: []Def{
			{Key: "new_saved_track", Description: "A track is saved to the library", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"artist": {"type": "string"}, "genre": {"type": "string"}}
			}`)},
			{Key: "new_playlist_track", Description: "A track is added to a playlist", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"playlistId": {"type": "string", "minLength": 1}, "artist": {"type": "string"}, "genre": {"type": "string"}},
				"required": ["playlistId"]
			}`)},
			{Key: "now_playing_changed", Description: "The playing track changes", Schema: json.RawMessage(empty)},
		},
		Reactions: []Def{
			{Key: "add_to_playlist", Description: "Add a track to a playlist", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"playlistId": {"type": "string", "minLength": 1}, "trackUri": {"type": "string"}},
				"required": ["playlistId"]
			}`)},
			{Key: "like_song", Description: "Save a track to the library", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"trackId": {"type": "string"}}
			}`)},
			{Key: "create_playlist", Description: "Create a playlist", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"name": {"type": "string", "minLength": 1}, "description": {"type": "string"}, "public": {"type": "boolean"}},
				"required": ["name"]
			}`)},
			{Key: "follow_artist", Description: "Follow an artist", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"artistId": {"type": "string"}}
			}`)},
		},
	},
	{
		Slug: "openweather", Name: "OpenWeather",
		Actions: []Def{
			{Key: "temperature_below_x", Description: "Temperature drops below a threshold (°C)", Schema: json.RawMessage(threshold)},
			{Key: "temperature_above_x", Description: "Temperature rises above a threshold (°C)", Schema: json.RawMessage(threshold)},
			{Key: "weather_condition_is", Description: "Current condition equals a value (Rain, Clear...)", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {"city": {"type": "string", "minLength": 1}, "condition": {"type": "string", "minLength": 1}},
				"required": ["city", "condition"]
			}`)},
		},
	},
	{
		Slug: "letterboxd", Name: "Letterboxd",
		Actions: []Def{
			{Key: "new_review", Description: "A review is posted", Schema: json.RawMessage(letterboxdUser)},
			{Key: "new_diary_entry", Description: "A diary entry is logged", Schema: json.RawMessage(letterboxdUser)},
			{Key: "film_watched", Description: "A film is marked watched", Schema: json.RawMessage(letterboxdUser)},
			{Key: "new_list", Description: "A list is published", Schema: json.RawMessage(letterboxdUser)},
			{Key: "film_rated", Description: "A film is rated at least minRating", Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"username": {"type": "string", "minLength": 1},
					"minRating": {"type": ["number", "string"]}
				},
				"required": ["username"]
			}`)},
		},
	},
}

// Services returns the catalog.
func Services() []ServiceDef { return services }

// Lookup returns an action (reaction=false) or reaction definition.
func Lookup(service, key string, reaction bool) (*Def, error) {
	for i := range services {
		if services[i].Slug != service {
			continue
		}
		defs := services[i].Actions
		if reaction {
			defs = services[i].Reactions
		}
		for j := range defs {
			if defs[j].Key == key {
				return &defs[j], nil
			}
		}
	}
	kind := "action"
	if reaction {
		kind = "reaction"
	}
	return nil, fmt.Errorf("%w: %s %s.%s", ErrUnknown, kind, service, key)
}

// Seed upserts every service, action and reaction. Existing rows keep their
// ids and enabled flag.
func Seed(ctx context.Context, st *store.Store) error {
	for _, sd := range services {
		svc := &store.Service{Slug: sd.Slug, Name: sd.Name, Enabled: true}
		if _, err := st.UpsertService(ctx, svc); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		for _, d := range sd.Actions {
			a := &store.Action{ServiceID: svc.ID, Key: d.Key, Description: d.Description, ConfigSchema: compact(d.Schema)}
			if _, err := st.UpsertAction(ctx, a); err != nil {
				return fmt.Errorf("catalog: %w", err)
			}
		}
		for _, d := range sd.Reactions {
			r := &store.Reaction{ServiceID: svc.ID, Key: d.Key, Description: d.Description, ConfigSchema: compact(d.Schema)}
			if _, err := st.UpsertReaction(ctx, r); err != nil {
				return fmt.Errorf("catalog: %w", err)
			}
		}
	}
	return nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// ValidationError lists why a config does not satisfy its schema.
type ValidationError struct {
	Cause error
}

func (e *ValidationError) Error() string { return "catalog: invalid config: " + e.Cause.Error() }
func (e *ValidationError) Unwrap() error { return e.Cause }

// ValidateConfig checks config against a JSON-Schema document. An empty
// config is validated as {}.
func ValidateConfig(schema, config json.RawMessage) error {
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("catalog: parse schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("catalog: resolve schema: %w", err)
	}
	if len(bytes.TrimSpace(config)) == 0 {
		config = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(config, &instance); err != nil {
		return &ValidationError{Cause: err}
	}
	if err := resolved.Validate(instance); err != nil {
		return &ValidationError{Cause: err}
	}
	return nil
}

// Validate checks an action (reaction=false) or reaction config against its
// catalog schema.
func Validate(service, key string, reaction bool, config json.RawMessage) error {
	def, err := Lookup(service, key, reaction)
	if err != nil {
		return err
	}
	return ValidateConfig(def.Schema, config)
}
