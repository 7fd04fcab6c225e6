package reaction

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hazyhaar/area/automation/internal/template"
)

// discordExecutor calls Discord REST v10 with the shared bot token. It is
// the only executor for Discord-owned reactions, whichever provider
// triggered the area.
type discordExecutor struct {
	http     *httpCaller
	baseURL  string
	botToken string
}

func (d *discordExecutor) Execute(ctx context.Context, req *Request) error {
	if req.Ref.ServiceSlug != "discord" {
		return &ErrWrongExecutor{Executor: "discord", Ref: req.Ref}
	}
	if d.botToken == "" {
		return fmt.Errorf("discord: bot token not configured")
	}
	switch req.Kind {
	case KindDiscordSendMessage:
		return d.sendMessage(ctx, req)
	case KindDiscordCreateThread:
		return d.createThread(ctx, req)
	}
	return &ErrWrongExecutor{Executor: "discord", Ref: req.Ref}
}

// sendMessage: {"channelId": "...", "content": "...", "embed": {...}}
func (d *discordExecutor) sendMessage(ctx context.Context, req *Request) error {
	channelID, err := require(req.Kind, req.Config, "channelId")
	if err != nil {
		return err
	}
	content := str(req.Config, "content")
	if content == "" {
		content = str(req.Config, "message")
	}
	if content == "" {
		content = req.defaultMessage()
	}
	body := map[string]any{"content": template.Truncate(content, discordContentMax)}
	if e, ok := req.Config["embed"].(map[string]any); ok {
		body["embeds"] = []any{clampEmbed(e)}
	}
	return d.post(ctx, "/channels/"+url.PathEscape(channelID)+"/messages", body, nil)
}

// createThread: {"channelId": "...", "name": "...", "messageId": "...",
// "autoArchiveDuration": 1440, "message": "..."}
func (d *discordExecutor) createThread(ctx context.Context, req *Request) error {
	channelID, err := require(req.Kind, req.Config, "channelId")
	if err != nil {
		return err
	}
	name := str(req.Config, "name")
	if name == "" && req.Ctx.Activity != nil {
		name = req.Ctx.Activity.Title
	}
	if name == "" {
		name = "New thread"
	}
	body := map[string]any{
		"name":                  template.Truncate(name, discordThreadNameMax),
		"auto_archive_duration": archiveDuration(req.Config["autoArchiveDuration"]),
	}

	path := "/channels/" + url.PathEscape(channelID) + "/threads"
	if mid := str(req.Config, "messageId"); mid != "" {
		path = "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(mid) + "/threads"
	} else {
		body["type"] = 11 // public thread
	}

	var thread struct {
		ID string `json:"id"`
	}
	if err := d.post(ctx, path, body, &thread); err != nil {
		return err
	}

	msg := str(req.Config, "message")
	if msg == "" || thread.ID == "" {
		return nil
	}
	return d.post(ctx, "/channels/"+url.PathEscape(thread.ID)+"/messages",
		map[string]any{"content": template.Truncate(msg, discordContentMax)}, nil)
}

func (d *discordExecutor) post(ctx context.Context, path string, body, out any) error {
	return d.http.do(ctx, call{
		provider: "discord",
		target:   "discord",
		method:   http.MethodPost,
		url:      d.baseURL + path,
		headers:  map[string]string{"Authorization": "Bot " + d.botToken},
		body:     body,
		out:      out,
	})
}

// archiveDuration accepts Discord's allowed values (minutes), default 1440.
func archiveDuration(v any) int {
	n, _ := v.(float64)
	switch int(n) {
	case 60, 1440, 4320, 10080:
		return int(n)
	}
	return 1440
}

func clampEmbed(e map[string]any) map[string]any {
	out := make(map[string]any, len(e))
	for k, v := range e {
		out[k] = v
	}
	if s, ok := out["title"].(string); ok {
		out["title"] = template.Truncate(s, discordEmbedTitleMax)
	}
	if s, ok := out["description"].(string); ok {
		out["description"] = template.Truncate(s, discordEmbedDescMax)
	}
	return out
}
