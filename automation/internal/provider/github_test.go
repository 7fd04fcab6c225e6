package provider_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/area/automation/internal/provider"
	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/automation/internal/store/storetest"
)

type githubAPI struct {
	mu     sync.Mutex
	hits   map[string]int
	tokens []string
	issues []map[string]any
	pulls  []map[string]any
	status int
	body   string
}

func (g *githubAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	g.hits = map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.hits[r.URL.Path]++
		g.tokens = append(g.tokens, r.Header.Get("Authorization"))
		g.mu.Unlock()
		if g.status != 0 {
			http.Error(w, `{"message":"Bad credentials"}`, g.status)
			return
		}
		if g.body != "" {
			w.Write([]byte(g.body))
			return
		}
		if r.URL.Query().Get("per_page") != "20" {
			http.Error(w, "per_page", http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/repos/octo/hello/issues":
			json.NewEncoder(w).Encode(g.issues)
		case "/repos/octo/hello/pulls":
			json.NewEncoder(w).Encode(g.pulls)
		case "/repos/octo/hello/releases":
			w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (g *githubAPI) hitCount(path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[path]
}

func issue(id int64, created time.Time, isPR bool) map[string]any {
	m := map[string]any{
		"id":         id,
		"number":     id,
		"title":      "issue title",
		"html_url":   "https://github.com/octo/hello/issues/1",
		"state":      "open",
		"created_at": created.UTC().Format(time.RFC3339),
		"user":       map[string]any{"login": "mona"},
	}
	if isPR {
		m["pull_request"] = map[string]any{"url": "https://api.github.com/repos/octo/hello/pulls/1"}
	}
	return m
}

func githubFixture(t *testing.T) (*store.Store, *store.Service, *store.User) {
	t.Helper()
	s := storetest.Open(t)
	svc := storetest.Service(t, s, "github",
		[]string{provider.GitHubNewIssue, provider.GitHubNewPullRequest, provider.GitHubNewRelease},
		[]string{"log_activity"})
	return s, svc, storetest.User(t, s, "mona@example.com")
}

func TestGitHub_GroupsAreasPerRepo(t *testing.T) {
	// WHAT: Areas of one user on the same repository share one request per
	// action kind.
	// WHY: Grouping bounds API usage to one call per resource and kind.
	s, _, u := githubFixture(t)
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	a1 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	a2 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"repository": "Octo/Hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	a3 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewPullRequest,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})

	api := &githubAPI{
		issues: []map[string]any{issue(1, now.Add(-time.Minute), false)},
		pulls:  []map[string]any{issue(2, now.Add(-time.Minute), false)},
	}
	srv := api.server(t)
	rec := &recorder{}
	p := provider.NewPoller(
		&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "gho_x"}, Now: fixedClock(now)},
		provider.Deps{Store: s, Dispatcher: rec},
	)
	poll(t, p)

	if n := api.hitCount("/repos/octo/hello/issues"); n != 1 {
		t.Fatalf("issue fetches: got %d, want 1", n)
	}
	if n := api.hitCount("/repos/octo/hello/pulls"); n != 1 {
		t.Fatalf("pull fetches: got %d, want 1", n)
	}
	if n := api.hitCount("/repos/octo/hello/releases"); n != 0 {
		t.Fatalf("release fetches: got %d, want 0", n)
	}
	if rec.count(a1.ID) != 1 || rec.count(a2.ID) != 1 || rec.count(a3.ID) != 1 {
		t.Fatalf("dispatches: %d %d %d", rec.count(a1.ID), rec.count(a2.ID), rec.count(a3.ID))
	}
	for _, tok := range api.tokens {
		if tok != "Bearer gho_x" {
			t.Fatalf("authorization: %q", tok)
		}
	}
}

func TestGitHub_RecencyAndPullRequestFilter(t *testing.T) {
	// WHAT: Old issues are recorded but not dispatched; pull requests in the
	// issues listing are ignored.
	// WHY: The first poll of a repository must not replay its backlog.
	s, svc, u := githubFixture(t)
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	a := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	api := &githubAPI{issues: []map[string]any{
		issue(10, now.Add(-2*time.Minute), false),
		issue(11, now.Add(-time.Hour), false),
		issue(12, now.Add(-time.Minute), true),
	}}
	srv := api.server(t)
	rec := &recorder{}
	p := provider.NewPoller(
		&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "t"}, Now: fixedClock(now)},
		provider.Deps{Store: s, Dispatcher: rec},
	)
	poll(t, p)
	poll(t, p)

	if n := storetest.EventCount(t, s, svc.ID); n != 2 {
		t.Fatalf("events: got %d, want 2", n)
	}
	if rec.count(a.ID) != 1 || rec.calls[0].Activity.ID != "10" {
		t.Fatalf("dispatches: %+v", rec.calls)
	}
	seen, err := s.Seen(t.Context(), svc.ID, "github:octo/hello:issue:11")
	if err != nil || !seen {
		t.Fatalf("old issue not recorded: %v %v", seen, err)
	}
}

func TestGitHub_LedgerKeyIsLowerCased(t *testing.T) {
	// WHAT: Areas naming the same repository with different casing produce
	// one lower-cased ledger key.
	// WHY: The group key folds case, so the ledger key must too or the same
	// issue is recorded twice.
	s, svc, u := githubFixture(t)
	other := storetest.User(t, s, "hubot@example.com")
	now := time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)
	a1 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "Octo", "repo": "Hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	a2 := storetest.Area(t, s, storetest.AreaSpec{
		UserID: other.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"repository": "octo/hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	api := &githubAPI{issues: []map[string]any{issue(7, now.Add(-time.Minute), false)}}
	srv := api.server(t)
	rec := &recorder{}
	p := provider.NewPoller(
		&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "t", other.ID: "t2"}, Now: fixedClock(now)},
		provider.Deps{Store: s, Dispatcher: rec},
	)
	poll(t, p)

	if n := api.hitCount("/repos/octo/hello/issues"); n != 2 {
		t.Fatalf("lower-cased fetches: got %d, want 2", n)
	}
	if n := storetest.EventCount(t, s, svc.ID); n != 1 {
		t.Fatalf("events: got %d, want 1", n)
	}
	if got := rec.count(a1.ID) + rec.count(a2.ID); got != 1 {
		t.Fatalf("dispatches: got %d, want 1", got)
	}
	seen, err := s.Seen(t.Context(), svc.ID, "github:octo/hello:issue:7")
	if err != nil || !seen {
		t.Fatalf("canonical key not recorded: %v %v", seen, err)
	}
	seen, err = s.Seen(t.Context(), svc.ID, "github:Octo/Hello:issue:7")
	if err != nil || seen {
		t.Fatalf("mixed-case key recorded: %v %v", seen, err)
	}
}

func TestGitHub_MalformedListingFailsGroup(t *testing.T) {
	// WHAT: A listing that is not a JSON array of objects logs a failure and
	// dispatches nothing.
	// WHY: A half-decoded item must never reach the ledger.
	s, svc, u := githubFixture(t)
	a := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	for _, body := range []string{`{"message":"moved"}`, `[{"id":1},"oops"]`} {
		api := &githubAPI{body: body}
		srv := api.server(t)
		rec := &recorder{}
		p := provider.NewPoller(
			&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "t"}},
			provider.Deps{Store: s, Dispatcher: rec},
		)
		poll(t, p)
		if rec.count(a.ID) != 0 {
			t.Fatalf("%s: unexpected dispatch", body)
		}
	}
	if got := logStatuses(t, s, a.ID); len(got) != 2 || got[0] != store.StatusFailure || got[1] != store.StatusFailure {
		t.Fatalf("logs: %v", got)
	}
	if n := storetest.EventCount(t, s, svc.ID); n != 0 {
		t.Fatalf("events: got %d, want 0", n)
	}
}

func TestGitHub_UnauthorizedRevokesAccount(t *testing.T) {
	// WHAT: A 401 logs a failure for the group's areas and revokes the
	// owner's GitHub account.
	// WHY: A rejected token will not recover on its own.
	s, _, u := githubFixture(t)
	a := storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	api := &githubAPI{status: http.StatusUnauthorized}
	srv := api.server(t)
	rev := &fakeRevoker{}
	p := provider.NewPoller(
		&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "expired"}},
		provider.Deps{Store: s, Dispatcher: &recorder{}, Revoker: rev},
	)
	poll(t, p)

	if got := logStatuses(t, s, a.ID); len(got) != 1 || got[0] != store.StatusFailure {
		t.Fatalf("logs: %v", got)
	}
	if len(rev.done) != 1 || rev.done[0] != (revocation{u.ID, "github"}) {
		t.Fatalf("revocations: %+v", rev.done)
	}
}

func TestGitHub_ServerErrorDoesNotRevoke(t *testing.T) {
	// WHAT: Non-401 failures are logged without touching the account.
	// WHY: Only an explicit rejection proves the token is dead.
	s, _, u := githubFixture(t)
	storetest.Area(t, s, storetest.AreaSpec{
		UserID: u.ID, ActionService: "github", ActionKey: provider.GitHubNewIssue,
		ActionConfig: map[string]any{"owner": "octo", "repo": "hello"},
		ReactionSvc:  "github", ReactionKey: "log_activity",
	})
	api := &githubAPI{status: http.StatusInternalServerError}
	srv := api.server(t)
	rev := &fakeRevoker{}
	p := provider.NewPoller(
		&provider.GitHub{BaseURL: srv.URL, HTTP: &provider.HTTP{}, Tokens: staticTokens{u.ID: "t"}},
		provider.Deps{Store: s, Dispatcher: &recorder{}, Revoker: rev},
	)
	poll(t, p)
	if len(rev.done) != 0 {
		t.Fatalf("unexpected revocation: %+v", rev.done)
	}
}

func TestGitHub_GroupKeyValidation(t *testing.T) {
	// WHAT: owner/repo may come as two fields or one "owner/repo" string.
	// WHY: Both shapes exist in stored configs.
	src := &provider.GitHub{}
	cases := []struct {
		cfg string
		key string
	}{
		{`{"owner":"Octo","repo":"Hello"}`, "u1|octo/hello"},
		{`{"repository":"/octo/hello/"}`, "u1|octo/hello"},
		{`{"owner":"octo"}`, ""},
		{`{"repository":"octo"}`, ""},
		{`{"repository":"a/b/c"}`, ""},
	}
	for _, tc := range cases {
		a := &store.Area{ID: "a", UserID: "u1", ActionConfig: json.RawMessage(tc.cfg), Action: store.Action{Key: provider.GitHubNewIssue}}
		got, err := src.GroupKey(a)
		if tc.key == "" {
			if err == nil {
				t.Errorf("%s: expected config error, got key %q", tc.cfg, got)
			}
			continue
		}
		if err != nil || got != tc.key {
			t.Errorf("%s: got %q, %v", tc.cfg, got, err)
		}
	}
}
