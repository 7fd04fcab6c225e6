package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/area/automation/internal/provider"
	"github.com/hazyhaar/area/automation/internal/reaction"
	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/automation/internal/store/storetest"
)

// recorder is a Dispatcher that remembers every call and can fail per area.
type recorder struct {
	mu    sync.Mutex
	calls []reaction.Context
	fail  map[string]error
}

func (r *recorder) Execute(_ context.Context, _ reaction.Ref, _ json.RawMessage, rc reaction.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, rc)
	return r.fail[rc.AreaID]
}

func (r *recorder) count(areaID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.AreaID == areaID {
			n++
		}
	}
	return n
}

// staticTokens hands out a fixed token per user.
type staticTokens map[string]string

func (s staticTokens) GetValidAccessToken(_ context.Context, userID, _ string) (string, error) {
	tok, ok := s[userID]
	if !ok {
		return "", errors.New("no token")
	}
	return tok, nil
}

type revocation struct{ userID, provider string }

type fakeRevoker struct {
	mu   sync.Mutex
	done []revocation
}

func (f *fakeRevoker) Revoke(_ context.Context, userID, provider, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, revocation{userID, provider})
	return nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func logStatuses(t *testing.T, s *store.Store, areaID string) []string {
	t.Helper()
	var out []string
	for _, l := range storetest.Logs(t, s, areaID) {
		out = append(out, l.Status)
	}
	return out
}

func poll(t *testing.T, p *provider.Poller) {
	t.Helper()
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
}
