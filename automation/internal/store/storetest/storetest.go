// Package storetest builds in-memory engine databases and fixtures for tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/dbopen"
	"github.com/hazyhaar/area/idgen"
)

// Open returns a Store over a fresh in-memory database with the schema
// applied and sequential ids.
func Open(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	opts = append([]store.Option{store.WithIDGenerator(idgen.Sequence("id"))}, opts...)
	return store.NewStore(db, opts...)
}

// Service creates a service with the given slug, plus the named actions and
// reactions.
func Service(t testing.TB, s *store.Store, slug string, actions, reactions []string) *store.Service {
	t.Helper()
	ctx := context.Background()
	svc := &store.Service{Slug: slug, Name: slug, Enabled: true}
	if _, err := s.UpsertService(ctx, svc); err != nil {
		t.Fatalf("seed service %s: %v", slug, err)
	}
	for _, k := range actions {
		if _, err := s.UpsertAction(ctx, &store.Action{ServiceID: svc.ID, Key: k}); err != nil {
			t.Fatalf("seed action %s.%s: %v", slug, k, err)
		}
	}
	for _, k := range reactions {
		if _, err := s.UpsertReaction(ctx, &store.Reaction{ServiceID: svc.ID, Key: k}); err != nil {
			t.Fatalf("seed reaction %s.%s: %v", slug, k, err)
		}
	}
	return svc
}

// User creates a user.
func User(t testing.TB, s *store.Store, email string) *store.User {
	t.Helper()
	u := &store.User{Email: email, Name: email}
	if err := s.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

// AreaSpec describes an area fixture by catalog keys.
type AreaSpec struct {
	UserID         string
	ActionService  string
	ActionKey      string
	ActionConfig   any
	ReactionSvc    string
	ReactionKey    string
	ReactionConfig any
	Disabled       bool
	DedupStrategy  string
}

// Area creates an area from spec. Configs are JSON-encoded unless already
// a string or json.RawMessage.
func Area(t testing.TB, s *store.Store, spec AreaSpec) *store.Area {
	t.Helper()
	ctx := context.Background()
	act, err := s.ActionByKey(ctx, spec.ActionService, spec.ActionKey)
	if err != nil {
		t.Fatalf("area fixture: %v", err)
	}
	react, err := s.ReactionByKey(ctx, spec.ReactionSvc, spec.ReactionKey)
	if err != nil {
		t.Fatalf("area fixture: %v", err)
	}
	a := &store.Area{
		UserID:           spec.UserID,
		ActionID:         act.ID,
		ReactionID:       react.ID,
		Enabled:          !spec.Disabled,
		ActionConfig:     raw(t, spec.ActionConfig),
		ReactionConfig:   raw(t, spec.ReactionConfig),
		DedupKeyStrategy: spec.DedupStrategy,
	}
	if err := s.InsertArea(ctx, a); err != nil {
		t.Fatalf("area fixture: %v", err)
	}
	got, err := s.GetArea(ctx, a.ID)
	if err != nil {
		t.Fatalf("area fixture reload: %v", err)
	}
	return got
}

// Account links a provider account to a user. A nil expiresAt never expires.
func Account(t testing.TB, s *store.Store, userID, provider, access, refresh string, expiresAt *time.Time) *store.ProviderAccount {
	t.Helper()
	acc := &store.ProviderAccount{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: provider + "-" + userID,
		AccessToken:    access,
		RefreshToken:   refresh,
	}
	if expiresAt != nil {
		ms := expiresAt.UnixMilli()
		acc.ExpiresAt = &ms
	}
	if err := s.UpsertAccount(context.Background(), acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acc
}

// Logs returns every area log of an area, newest first.
func Logs(t testing.TB, s *store.Store, areaID string) []*store.AreaLog {
	t.Helper()
	logs, err := s.ListLogs(context.Background(), areaID, 1000)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logs
}

// EventCount returns the ledger size of a service.
func EventCount(t testing.TB, s *store.Store, serviceID string) int {
	t.Helper()
	n, err := s.CountEvents(context.Background(), serviceID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func raw(t testing.TB, v any) json.RawMessage {
	switch x := v.(type) {
	case nil:
		return json.RawMessage(`{}`)
	case json.RawMessage:
		return x
	case string:
		return json.RawMessage(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode fixture config: %v", err)
	}
	return b
}
