package reaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/template"
	"github.com/hazyhaar/area/netguard"
)

type httpCaller struct {
	client  *http.Client
	timeout time.Duration
	quota   QuotaObserver
}

type call struct {
	provider string // for quota observation, "" for user webhooks
	target   string // error label
	method   string
	url      string
	headers  map[string]string
	body     any
	out      any
}

func (h *httpCaller) do(ctx context.Context, c call) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.target, err)
	}
	defer resp.Body.Close()
	if c.provider != "" && h.quota != nil {
		h.quota.Observe(ctx, c.provider, resp)
	}

	data, err := netguard.LimitedReadAll(resp.Body, netguard.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ErrHTTPStatus{
			Target: c.target,
			Status: resp.StatusCode,
			Body:   template.Truncate(strings.TrimSpace(string(data)), 300),
		}
	}
	if c.out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, c.out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.target, err)
		}
	}
	return nil
}
