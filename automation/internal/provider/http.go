package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/template"
	"github.com/hazyhaar/area/netguard"
)

// QuotaObserver receives provider responses for rate-limit tracking.
type QuotaObserver interface {
	Observe(ctx context.Context, provider string, resp *http.Response)
}

// HTTP performs provider GETs with a per-call timeout and a capped body.
type HTTP struct {
	Client  *http.Client
	Timeout time.Duration
	Quota   QuotaObserver
}

func (h *HTTP) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

// Get fetches url. Non-2xx responses return *StatusError. A 204 returns a
// nil body and status 204.
func (h *HTTP) Get(ctx context.Context, provider, rawURL string, header map[string]string) ([]byte, int, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", provider, redactErr(err))
	}
	req.Header.Set("User-Agent", "area-engine/1.0")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", provider, redactErr(err))
	}
	defer resp.Body.Close()
	if h.Quota != nil {
		h.Quota.Observe(ctx, provider, resp)
	}

	body, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: read body: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &StatusError{
			Provider: provider,
			URL:      redact(rawURL),
			Status:   resp.StatusCode,
			Body:     template.Truncate(strings.TrimSpace(string(body)), 200),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, nil
	}
	return body, resp.StatusCode, nil
}

// redact drops the query string, which may carry an API key.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// redactErr strips the query string from the URL a transport error quotes.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redact(ue.URL)
	}
	return err
}
