package automation

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/area/automation/catalog"
	"github.com/hazyhaar/area/kit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultListLimit = 50

// RegisterMCP registers the engine's ops tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerAreaLogs(srv)
	e.registerEvents(srv)
	e.registerPollNow(srv)
	e.registerQuota(srv)
	e.registerValidate(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (e *Engine) tool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(e.logger, tool.Name)(endpoint), decode)
}

func (e *Engine) registerAreaLogs(srv *mcp.Server) {
	type req struct {
		AreaID string `json:"area_id"`
		Limit  int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "area_logs",
		Description: "List the most recent execution log rows of an area",
		InputSchema: inputSchema(map[string]any{
			"area_id": map[string]any{"type": "string", "description": "Area ID"},
			"limit":   map[string]any{"type": "integer", "description": "Max rows (default 50)"},
		}, []string{"area_id"}),
	}

	e.tool(srv, tool, func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 {
			p.Limit = defaultListLimit
		}
		return e.AreaLogs(ctx, p.AreaID, p.Limit)
	}, kit.DecodeArgs[req]())
}

func (e *Engine) registerEvents(srv *mcp.Server) {
	type req struct {
		Service string `json:"service"`
		Limit   int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "area_events",
		Description: "List the most recent deduplication ledger rows of a provider",
		InputSchema: inputSchema(map[string]any{
			"service": map[string]any{"type": "string", "description": "Provider slug: github, discord, spotify, openweather, letterboxd"},
			"limit":   map[string]any{"type": "integer", "description": "Max rows (default 50)"},
		}, []string{"service"}),
	}

	e.tool(srv, tool, func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 {
			p.Limit = defaultListLimit
		}
		return e.Events(ctx, p.Service, p.Limit)
	}, kit.DecodeArgs[req]())
}

func (e *Engine) registerPollNow(srv *mcp.Server) {
	type req struct {
		Service string `json:"service"`
	}

	tool := &mcp.Tool{
		Name:        "area_poll_now",
		Description: "Run one polling tick of a provider immediately",
		InputSchema: inputSchema(map[string]any{
			"service": map[string]any{"type": "string", "description": "Provider slug"},
		}, []string{"service"}),
	}

	e.tool(srv, tool, func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := e.PollNow(ctx, p.Service); err != nil {
			return nil, err
		}
		return map[string]any{"service": p.Service, "stats": e.PollerStats()[p.Service]}, nil
	}, kit.DecodeArgs[req]())
}

func (e *Engine) registerQuota(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "area_quota",
		Description: "Show the latest observed rate-limit state per provider",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	e.tool(srv, tool, func(ctx context.Context, _ any) (any, error) {
		return e.Quota(ctx)
	}, kit.DecodeArgs[struct{}]())
}

func (e *Engine) registerValidate(srv *mcp.Server) {
	type req struct {
		Service  string          `json:"service"`
		Key      string          `json:"key"`
		Reaction bool            `json:"reaction"`
		Config   json.RawMessage `json:"config"`
	}

	tool := &mcp.Tool{
		Name:        "area_validate_config",
		Description: "Validate an action or reaction config against its catalog schema",
		InputSchema: inputSchema(map[string]any{
			"service":  map[string]any{"type": "string", "description": "Service slug (core for generic reactions)"},
			"key":      map[string]any{"type": "string", "description": "Action or reaction key"},
			"reaction": map[string]any{"type": "boolean", "description": "True when key names a reaction"},
			"config":   map[string]any{"type": "object", "description": "Config to validate"},
		}, []string{"service", "key"}),
	}

	e.tool(srv, tool, func(_ context.Context, r any) (any, error) {
		p := r.(*req)
		if err := catalog.Validate(p.Service, p.Key, p.Reaction, p.Config); err != nil {
			return nil, err
		}
		return map[string]any{"valid": true}, nil
	}, kit.DecodeArgs[req]())
}
