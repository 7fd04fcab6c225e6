package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := New()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: got %d, want 7", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("log_", Default)()
	if !strings.HasPrefix(id, "log_") {
		t.Fatalf("missing prefix: %q", id)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("a")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("unique ids: got %d, want 50", len(seen))
	}
	if !seen["a1"] || !seen["a50"] {
		t.Fatalf("sequence bounds missing: %v", seen)
	}
}
