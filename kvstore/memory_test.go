package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemory_TTL(t *testing.T) {
	// WHAT: A key set with a TTL disappears once the clock passes it.
	// WHY: Quota observations and OAuth state rely on expiry, not cleanup jobs.
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute)
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("before expiry: got %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("key should be expired")
	}
}

func TestMemory_NoTTL(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()
	m.Set(ctx, "k", "v", 0)
	now = now.Add(1000 * time.Hour)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("key without ttl expired")
	}
}

func TestMemory_TakeIsSingleUse(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "state", "user-1", time.Minute)

	v, ok, _ := m.Take(ctx, "state")
	if !ok || v != "user-1" {
		t.Fatalf("first take: got %q, %v", v, ok)
	}
	if _, ok, _ := m.Take(ctx, "state"); ok {
		t.Fatal("second take should miss")
	}
}

func TestMemory_Sweep(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()
	m.Set(ctx, "a", "1", time.Second)
	m.Set(ctx, "b", "2", time.Hour)
	now = now.Add(time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("swept: got %d, want 1", n)
	}
	m.Delete(ctx, "b")
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Fatal("deleted key still present")
	}
}
