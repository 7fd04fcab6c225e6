package automation

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func mcpSession(t *testing.T, e *Engine) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := mcp.NewServer(&mcp.Implementation{Name: "areaengine", Version: "test"}, nil)
	e.RegisterMCP(srv)

	st, ct := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, st, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	return tc.Text
}

func TestMCP_Tools(t *testing.T) {
	// WHAT: The ops tools are reachable over MCP; engine errors come back
	// as tool errors, not protocol errors.
	// WHY: Agents drive the engine through these tools.
	e, _ := newTestEngine(t, &Config{})
	cs := mcpSession(t, e)
	ctx := context.Background()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"area_logs", "area_events", "area_poll_now", "area_quota", "area_validate_config"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name: "area_validate_config",
		Arguments: map[string]any{
			"service": "github", "key": "new_issue",
			"config": map[string]any{"owner": "golang", "repo": "go"},
		},
	})
	if err != nil || res.IsError {
		t.Fatalf("validate: %v %+v", err, res)
	}
	if got := toolText(t, res); !strings.Contains(got, `"valid":true`) {
		t.Fatalf("validate result: %s", got)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "area_poll_now",
		Arguments: map[string]any{"service": "openweather"},
	})
	if err != nil {
		t.Fatalf("poll_now: %v", err)
	}
	if !res.IsError || !strings.Contains(toolText(t, res), "unknown poller") {
		t.Fatalf("poll_now on a disabled poller: %+v", res)
	}
}
