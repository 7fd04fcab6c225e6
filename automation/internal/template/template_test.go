package template

import (
	"testing"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
)

func testRoot() map[string]any {
	act := &activity.Activity{
		Provider:  "github",
		ActionKey: "new_issue",
		ID:        "42",
		Title:     "Crash on start",
		URL:       "https://github.com/acme/w/issues/42",
		CreatedAt: time.Unix(0, 0).UTC(),
		Extra: map[string]any{
			"labels": []string{"bug", "p1"},
			"number": 42,
		},
	}
	return Root(act, map[string]any{"channel": "general"}, map[string]any{"state": "open"}, map[string]any{"area_id": "a1"})
}

func TestRender(t *testing.T) {
	root := testRoot()
	cases := []struct {
		name, tmpl, want string
	}{
		{"plain", "no placeholders", "no placeholders"},
		{"title", "New: {{activity.title}}", "New: Crash on start"},
		{"spaces", "{{ activity.id }}", "42"},
		{"number", "#{{activity.extra.number}}", "#42"},
		{"index", "{{activity.extra.labels.1}}", "p1"},
		{"defaults", "{{defaults.channel}}", "general"},
		{"raw", "{{raw.state}}", "open"},
		{"context", "{{context.area_id}}", "a1"},
		{"object", "{{raw}}", `{"state":"open"}`},
		{"missing path", "[{{activity.missing.path}}]", "[]"},
		{"missing root", "[{{nope}}]", "[]"},
		{"index out of range", "[{{activity.extra.labels.9}}]", "[]"},
		{"descend into string", "[{{activity.title.x}}]", "[]"},
		{"unclosed", "{{activity.title", "{{activity.title"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.tmpl, root); got != tc.want {
				t.Errorf("Render(%q) = %q, want %q", tc.tmpl, got, tc.want)
			}
		})
	}
}

func TestRender_MissingPathNeverPanics(t *testing.T) {
	// WHAT: Unresolvable paths render as "" with a nil root, empty root and
	// null leaves.
	// WHY: A user typo in a template must never crash a poll tick.
	for _, root := range []map[string]any{nil, {}, {"activity": nil}, Root(nil, nil, nil, nil)} {
		if got := Render("{{activity.missing.path}}", root); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	}
}

func TestRenderValue(t *testing.T) {
	root := testRoot()
	in := map[string]any{
		"content": "{{activity.title}}",
		"embed":   map[string]any{"fields": []any{"{{activity.id}}", 3.0}},
		"tts":     false,
	}
	out := RenderValue(in, root).(map[string]any)
	if out["content"] != "Crash on start" {
		t.Errorf("content: %v", out["content"])
	}
	fields := out["embed"].(map[string]any)["fields"].([]any)
	if fields[0] != "42" || fields[1] != 3.0 {
		t.Errorf("fields: %v", fields)
	}
	if out["tts"] != false {
		t.Errorf("tts: %v", out["tts"])
	}
	if in["content"] != "{{activity.title}}" {
		t.Error("input mutated")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Errorf("got %q", got)
	}
}
