package store

import "encoding/json"

// Execution log statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// DedupProvider is the only supported dedup key strategy: the provider's own
// external id format.
const DedupProvider = "provider"

// Service is a catalog entry (github, discord, ...).
type Service struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Action is a trigger definition owned by a service.
type Action struct {
	ID           string          `json:"id"`
	ServiceID    string          `json:"service_id"`
	Key          string          `json:"key"`
	Description  string          `json:"description"`
	ConfigSchema json.RawMessage `json:"config_schema"`
}

// Reaction is an effect definition owned by a service.
type Reaction struct {
	ID           string          `json:"id"`
	ServiceID    string          `json:"service_id"`
	Key          string          `json:"key"`
	Description  string          `json:"description"`
	ConfigSchema json.RawMessage `json:"config_schema"`
}

// User owns areas and provider accounts.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Area binds an action and its config to a reaction and its config.
// Loaded eager-joined: Action, Reaction, ReactionService and User are filled.
type Area struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	ActionID         string          `json:"action_id"`
	ReactionID       string          `json:"reaction_id"`
	Enabled          bool            `json:"enabled"`
	ActionConfig     json.RawMessage `json:"action_config"`
	ReactionConfig   json.RawMessage `json:"reaction_config"`
	DedupKeyStrategy string          `json:"dedup_key_strategy"`
	CreatedAt        int64           `json:"created_at"`
	UpdatedAt        int64           `json:"updated_at"`

	Action          Action   `json:"action"`
	Reaction        Reaction `json:"reaction"`
	ReactionService Service  `json:"reaction_service"`
	User            User     `json:"user"`
}

// ProviderAccount holds one user's OAuth credentials for one provider.
// Tokens are plaintext in memory; sealing happens at the storage boundary.
type ProviderAccount struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	AccessToken    string `json:"-"`
	RefreshToken   string `json:"-"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"` // unix ms, nil = never
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// WebhookEvent is a dedup ledger row.
type WebhookEvent struct {
	ID         string          `json:"id"`
	ServiceID  string          `json:"service_id"`
	ExternalID string          `json:"external_id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt int64           `json:"received_at"`
}

// AreaLog is one execution log row.
type AreaLog struct {
	ID          string          `json:"id"`
	AreaID      string          `json:"area_id"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error,omitempty"`
	TriggeredAt int64           `json:"triggered_at"`
}
