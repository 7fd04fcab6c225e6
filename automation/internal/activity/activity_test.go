package activity

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSON_FallsBackOnUnencodableExtra(t *testing.T) {
	// WHAT: An Extra value json cannot encode still yields a payload that
	// identifies the activity.
	// WHY: Ledger and log rows must never be written empty.
	a := &Activity{Provider: "github", ActionKey: "new_issue", ID: "7", Extra: map[string]any{"bad": make(chan int)}}

	var m map[string]any
	if err := json.Unmarshal(a.JSON(), &m); err != nil {
		t.Fatalf("fallback is not JSON: %v", err)
	}
	if m["id"] != "7" || m["provider"] != "github" || m["encode_err"] == "" {
		t.Fatalf("fallback payload: %v", m)
	}
}

func TestMapAndExtraString(t *testing.T) {
	a := &Activity{
		Provider:  "letterboxd",
		ID:        "x",
		Title:     "Heat",
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Extra:     map[string]any{"film_year": "1995", "rewatch": true},
	}
	if got := a.ExtraString("film_year"); got != "1995" {
		t.Fatalf("ExtraString: %q", got)
	}
	if got := a.ExtraString("rewatch"); got != "" {
		t.Fatalf("non-string extra: %q", got)
	}
	var nilAct *Activity
	if nilAct.ExtraString("x") != "" {
		t.Fatal("nil activity")
	}

	m := a.Map()
	extra, _ := m["extra"].(map[string]any)
	if m["title"] != "Heat" || extra["rewatch"] != true || m["created_at"] != "2024-05-01T00:00:00Z" {
		t.Fatalf("Map: %v", m)
	}
}
