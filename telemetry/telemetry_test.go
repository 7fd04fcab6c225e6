package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceHandler_AddsSpanIDs(t *testing.T) {
	// WHAT: Records logged under a span carry its trace and span ids.
	// WHY: Poller logs are correlated with poller.tick spans.
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, Config{})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))
	logger.With("component", "test").InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() || rec["component"] != "test" {
		t.Fatalf("record: %v", rec)
	}
}

func TestTraceHandler_NoSpan(t *testing.T) {
	// WHAT: Without a span no ids are added.
	// WHY: Startup logs have no trace.
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, Config{}).Info("hello")
	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Fatalf("unexpected trace_id: %s", buf.String())
	}
}

func TestSetupDisabled(t *testing.T) {
	// WHAT: No endpoint means no providers and a nil-safe Shutdown.
	// WHY: Tests and local runs export nothing.
	tel, err := Setup(context.Background(), Config{})
	if err != nil || tel != nil {
		t.Fatalf("got %v, %v", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestParseLevelAndHeaders(t *testing.T) {
	// WHAT: Level names and header lists parse leniently.
	// WHY: Both come from environment variables.
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatal("ParseLevel")
	}
	h := parseHeaders("a=1, b = 2,broken,")
	if len(h) != 2 || h["a"] != "1" || h["b"] != "2" {
		t.Fatalf("headers: %v", h)
	}
}
