// Package activity defines the provider-normalized event that flows from a
// poller's fetch to matching and reaction dispatch.
package activity

import (
	"encoding/json"
	"time"
)

// Activity is one external event observed during a poll tick. It is
// transient: it lives for one tick and is persisted only as JSON inside
// ledger and area-log rows.
type Activity struct {
	Provider  string         `json:"provider"`
	ActionKey string         `json:"action_key"`
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	URL       string         `json:"url,omitempty"`
	Author    string         `json:"author,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// JSON encodes the activity, falling back to its identity fields when Extra
// holds something unencodable.
func (a *Activity) JSON() json.RawMessage {
	b, err := json.Marshal(a)
	if err != nil {
		b, _ = json.Marshal(map[string]string{
			"provider":   a.Provider,
			"action_key": a.ActionKey,
			"id":         a.ID,
			"encode_err": err.Error(),
		})
	}
	return b
}

// ExtraString returns Extra[key] as a string, "" when absent or not a string.
func (a *Activity) ExtraString(key string) string {
	if a == nil || a.Extra == nil {
		return ""
	}
	s, _ := a.Extra[key].(string)
	return s
}

// Map converts the activity to a generic map for template lookups.
func (a *Activity) Map() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(a.JSON(), &m)
	return m
}
