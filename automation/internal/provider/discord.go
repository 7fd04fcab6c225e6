package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/kvstore"
)

// Discord action keys.
const (
	DiscordMessageContainsKeyword = "message_contains_keyword"
	DiscordMessageWithAttachment  = "message_with_attachment"
)

const guildCacheTTL = time.Hour

type discordConfig struct {
	ChannelID           id         `json:"channelId"`
	GuildID             id         `json:"guildId"`
	Keywords            stringList `json:"keywords"`
	AllowBots           flag       `json:"allowBots"`
	AllowedUserIDs      stringList `json:"allowedUserIds"`
	RequireImage        flag       `json:"requireImage"`
	AllowedContentTypes stringList `json:"allowedContentTypes"`
}

// DiscordAttachment is the part of a message attachment the predicates use.
type DiscordAttachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
}

// Discord polls channel messages with the shared bot token.
type Discord struct {
	BaseURL  string // default https://discord.com/api/v10
	BotToken string
	HTTP     *HTTP
	KV       kvstore.Store // channel → guild cache
}

func (d *Discord) Slug() string { return "discord" }

func (d *Discord) base() string {
	if d.BaseURL == "" {
		return "https://discord.com/api/v10"
	}
	return strings.TrimRight(d.BaseURL, "/")
}

func (d *Discord) GroupKey(a *store.Area) (string, error) {
	switch a.Action.Key {
	case DiscordMessageContainsKeyword, DiscordMessageWithAttachment:
	default:
		return "", configErr(a.ID, "unknown discord action %q", a.Action.Key)
	}
	var cfg discordConfig
	if err := decodeConfig(a.ActionConfig, &cfg); err != nil {
		return "", configErr(a.ID, "%v", err)
	}
	if cfg.ChannelID == "" {
		return "", configErr(a.ID, "channelId is required")
	}
	if a.Action.Key == DiscordMessageContainsKeyword && len(cfg.Keywords) == 0 {
		return "", configErr(a.ID, "keywords must not be empty")
	}
	return string(cfg.ChannelID), nil
}

type discordMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	GuildID   string    `json:"guild_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Attachments []DiscordAttachment `json:"attachments"`
}

func (d *Discord) Fetch(ctx context.Context, grp *Group) ([]Observation, error) {
	if d.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token not configured")
	}
	channelID := grp.Key
	auth := map[string]string{"Authorization": "Bot " + d.BotToken}

	body, _, err := d.HTTP.Get(ctx, "discord",
		d.base()+"/channels/"+url.PathEscape(channelID)+"/messages?limit=20", auth)
	if err != nil {
		return nil, err
	}
	var msgs []discordMessage
	var raws []map[string]any
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("discord: decode messages: %w", err)
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("discord: decode messages: %w", err)
	}

	guildID := d.guildOf(ctx, channelID, auth)
	keys := grp.ActionKeys()

	out := make([]Observation, 0, len(msgs)*len(keys))
	// Oldest first, so dispatch order follows the conversation.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.GuildID == "" {
			m.GuildID = guildID
		}
		var raw any
		if i < len(raws) {
			raw = raws[i]
		}
		for _, key := range keys {
			out = append(out, Observation{
				ExternalID: key + ":" + m.ID,
				Activity:   m.activity(key, channelID),
				Keys:       []string{key},
				Raw:        raw,
			})
		}
	}
	return out, nil
}

// guildOf resolves a channel's guild id, cached in the kvstore. Failures
// degrade to "" (guild filter then passes, as for DMs).
func (d *Discord) guildOf(ctx context.Context, channelID string, auth map[string]string) string {
	cacheKey := "discord:channel_guild:" + channelID
	if d.KV != nil {
		if v, ok, err := d.KV.Get(ctx, cacheKey); err == nil && ok {
			return v
		}
	}
	body, _, err := d.HTTP.Get(ctx, "discord", d.base()+"/channels/"+url.PathEscape(channelID), auth)
	if err != nil {
		return ""
	}
	var ch struct {
		GuildID string `json:"guild_id"`
	}
	if json.Unmarshal(body, &ch) != nil {
		return ""
	}
	if d.KV != nil {
		d.KV.Set(ctx, cacheKey, ch.GuildID, guildCacheTTL)
	}
	return ch.GuildID
}

func (m *discordMessage) activity(key, channelID string) *activity.Activity {
	title := m.Content
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if title == "" && len(m.Attachments) > 0 {
		title = m.Attachments[0].Filename
	}
	link := ""
	if m.GuildID != "" {
		link = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, channelID, m.ID)
	}
	return &activity.Activity{
		Provider:  "discord",
		ActionKey: key,
		ID:        m.ID,
		Title:     title,
		URL:       link,
		Author:    m.Author.Username,
		CreatedAt: m.Timestamp,
		Extra: map[string]any{
			"content":     m.Content,
			"body":        m.Content,
			"author_id":   m.Author.ID,
			"bot":         m.Author.Bot,
			"guild_id":    m.GuildID,
			"channel_id":  channelID,
			"attachments": m.Attachments,
		},
	}
}

// Matches applies, in order: the bot gate, the guild check, the author
// allow-list, then the kind-specific rule.
func (d *Discord) Matches(act *activity.Activity, actionKey string, config json.RawMessage) bool {
	var cfg discordConfig
	if decodeConfig(config, &cfg) != nil {
		return false
	}
	if bot, _ := act.Extra["bot"].(bool); bot && !bool(cfg.AllowBots) {
		return false
	}
	if g := act.ExtraString("guild_id"); cfg.GuildID != "" && g != "" && g != string(cfg.GuildID) {
		return false
	}
	if len(cfg.AllowedUserIDs) > 0 && !slices.Contains(cfg.AllowedUserIDs, act.ExtraString("author_id")) {
		return false
	}

	switch actionKey {
	case DiscordMessageContainsKeyword:
		content := strings.ToLower(act.ExtraString("content"))
		for _, kw := range cfg.Keywords {
			if strings.Contains(content, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case DiscordMessageWithAttachment:
		atts, _ := act.Extra["attachments"].([]DiscordAttachment)
		for _, att := range atts {
			if attachmentAllowed(att, cfg) {
				return true
			}
		}
		return false
	}
	return false
}

func attachmentAllowed(att DiscordAttachment, cfg discordConfig) bool {
	ct := strings.ToLower(strings.TrimSpace(att.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if bool(cfg.RequireImage) && !strings.HasPrefix(ct, "image/") {
		return false
	}
	if len(cfg.AllowedContentTypes) == 0 {
		return true
	}
	for _, allowed := range cfg.AllowedContentTypes {
		allowed = strings.ToLower(allowed)
		if allowed == ct {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(ct, prefix+"/") {
			return true
		}
	}
	return false
}
