package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetUserID(ctx) != "" || GetRole(ctx) != "" || GetRequestID(ctx) != "" {
		t.Fatal("empty context should yield empty values")
	}
	if GetTransport(ctx) != "http" {
		t.Fatalf("default transport: got %q", GetTransport(ctx))
	}

	ctx = WithUserID(ctx, "usr_123")
	ctx = WithRole(ctx, "admin")
	ctx = WithRequestID(ctx, "req_abc")
	ctx = WithTransport(ctx, "mcp")
	if GetUserID(ctx) != "usr_123" || GetRole(ctx) != "admin" || GetRequestID(ctx) != "req_abc" || GetTransport(ctx) != "mcp" {
		t.Fatal("values not propagated")
	}
}

func TestLogging_RecordsFailures(t *testing.T) {
	// WHAT: The logging middleware reports failed calls at warn level.
	// WHY: Ops tool failures must be visible without debug logs.
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ep := Logging(logger, "area_poll_now")(func(context.Context, any) (any, error) {
		return nil, errors.New("busy")
	})
	if _, err := ep(WithUserID(context.Background(), "u1"), nil); err == nil {
		t.Fatal("error swallowed")
	}
	out := buf.String()
	if !strings.Contains(out, "endpoint=area_poll_now") || !strings.Contains(out, "error=busy") || !strings.Contains(out, "user_id=u1") {
		t.Fatalf("log: %s", out)
	}
}
