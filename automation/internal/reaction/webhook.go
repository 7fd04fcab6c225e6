package reaction

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/template"
	"github.com/hazyhaar/area/netguard"
)

const maxWebhookRedirects = 5

// webhookClient copies base with a redirect policy that re-validates every
// hop, so a public webhook cannot bounce the call to a private address.
func webhookClient(base *http.Client, validate netguard.URLValidator) *http.Client {
	c := *base
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxWebhookRedirects {
			return fmt.Errorf("webhook: too many redirects (%d)", len(via))
		}
		if err := validate(req.URL.String()); err != nil {
			return fmt.Errorf("webhook redirect blocked: %w", err)
		}
		return nil
	}
	return &c
}

// Discord length limits.
const (
	discordContentMax    = 2000
	discordEmbedTitleMax = 256
	discordEmbedDescMax  = 4096
	discordThreadNameMax = 100
)

var discordWebhookURL = regexp.MustCompile(`^https://(?:(?:canary|ptb)\.)?discord(?:app)?\.com/api/webhooks/`)

// IsDiscordWebhook reports whether url is a Discord incoming webhook.
func IsDiscordWebhook(url string) bool { return discordWebhookURL.MatchString(url) }

// webhookExecutor implements send_webhook:
//
//	{"url": "...", "method": "POST", "headers": {"X-Key": "v"}, "message": "{{activity.title}}"}
type webhookExecutor struct {
	http     *httpCaller
	validate netguard.URLValidator
}

func (w *webhookExecutor) Execute(ctx context.Context, req *Request) error {
	url, err := require(req.Kind, req.Config, "url")
	if err != nil {
		return err
	}
	if err := w.validate(url); err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}

	method := strings.ToUpper(str(req.Config, "method"))
	if method == "" {
		method = http.MethodPost
	}
	headers := map[string]string{}
	if h, ok := req.Config["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	message := str(req.Config, "message")
	if message == "" {
		message = req.defaultMessage()
	}

	var body any
	if IsDiscordWebhook(url) {
		body = discordWebhookBody(req, message)
	} else {
		body = map[string]any{
			"source":       req.Ctx.Source,
			"area_id":      req.Ctx.AreaID,
			"action_key":   req.Ctx.ActionKey,
			"message":      message,
			"activity":     req.Ctx.Activity,
			"triggered_at": req.Ctx.Now.UTC().Format(time.RFC3339),
		}
	}
	return w.http.do(ctx, call{
		target:  "webhook",
		method:  method,
		url:     url,
		headers: headers,
		body:    body,
	})
}

func discordWebhookBody(req *Request, message string) map[string]any {
	body := map[string]any{
		"content": template.Truncate(message, discordContentMax),
	}
	a := req.Ctx.Activity
	if a == nil {
		return body
	}
	desc := str(req.Config, "description")
	if desc == "" {
		desc = a.ExtraString("body")
	}
	embed := map[string]any{
		"title":       template.Truncate(a.Title, discordEmbedTitleMax),
		"description": template.Truncate(desc, discordEmbedDescMax),
		"footer":      map[string]any{"text": req.Ctx.Source + " · " + req.Ctx.ActionKey},
	}
	if a.URL != "" {
		embed["url"] = a.URL
	}
	if a.Author != "" {
		embed["author"] = map[string]any{"name": template.Truncate(a.Author, discordEmbedTitleMax)}
	}
	if !a.CreatedAt.IsZero() {
		embed["timestamp"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if img := a.ExtraString("image_url"); img != "" {
		embed["thumbnail"] = map[string]any{"url": img}
	}
	body["embeds"] = []any{embed}
	return body
}
