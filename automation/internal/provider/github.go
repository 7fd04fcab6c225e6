package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/store"
)

// GitHub action keys.
const (
	GitHubNewIssue       = "new_issue"
	GitHubNewPullRequest = "new_pull_request"
	GitHubNewRelease     = "new_release"
)

// GitHubRecency is how old an item may be and still be dispatched. Older
// items are recorded in the ledger only.
const GitHubRecency = 10 * time.Minute

// TokenSource hands out a user's provider token.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID, provider string) (string, error)
}

type githubKind struct {
	path   string // repos/{o}/{r}/<path>
	ledger string // dedup key segment
	query  string
}

var githubKinds = map[string]githubKind{
	GitHubNewIssue:       {path: "issues", ledger: "issue", query: "state=open&sort=created&direction=desc&per_page=20"},
	GitHubNewPullRequest: {path: "pulls", ledger: "pull", query: "state=open&sort=created&direction=desc&per_page=20"},
	GitHubNewRelease:     {path: "releases", ledger: "release", query: "per_page=20"},
}

type githubConfig struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Repository string `json:"repository"`
}

func (c *githubConfig) ownerRepo() (string, string, bool) {
	owner, repo := strings.TrimSpace(c.Owner), strings.TrimSpace(c.Repo)
	if (owner == "" || repo == "") && c.Repository != "" {
		o, r, ok := strings.Cut(strings.Trim(strings.TrimSpace(c.Repository), "/"), "/")
		if ok {
			owner, repo = strings.TrimSpace(o), strings.TrimSpace(r)
		}
	}
	if owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

// GitHub polls issues, pull requests and releases of watched repositories
// with each area owner's token.
type GitHub struct {
	BaseURL string // default https://api.github.com
	HTTP    *HTTP
	Tokens  TokenSource
	Now     func() time.Time
}

func (g *GitHub) Slug() string  { return "github" }
func (g *GitHub) PerUser() bool { return true }

func (g *GitHub) GroupKey(a *store.Area) (string, error) {
	if _, ok := githubKinds[a.Action.Key]; !ok {
		return "", configErr(a.ID, "unknown github action %q", a.Action.Key)
	}
	var cfg githubConfig
	if err := decodeConfig(a.ActionConfig, &cfg); err != nil {
		return "", configErr(a.ID, "%v", err)
	}
	owner, repo, ok := cfg.ownerRepo()
	if !ok {
		return "", configErr(a.ID, "owner and repo (or repository \"owner/repo\") are required")
	}
	return a.UserID + "|" + strings.ToLower(owner+"/"+repo), nil
}

func (g *GitHub) Fetch(ctx context.Context, grp *Group) ([]Observation, error) {
	var cfg githubConfig
	if err := decodeConfig(grp.Areas[0].ActionConfig, &cfg); err != nil {
		return nil, err
	}
	owner, repo, _ := cfg.ownerRepo()
	// Repository names are case-insensitive; requests and ledger keys use
	// the same lower-cased form as GroupKey.
	owner, repo = strings.ToLower(owner), strings.ToLower(repo)

	tok, err := g.Tokens.GetValidAccessToken(ctx, grp.UserID, "github")
	if err != nil {
		return nil, err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	cutoff := now().Add(-GitHubRecency)

	var out []Observation
	// One request per action kind present in the group.
	for _, key := range grp.ActionKeys() {
		kind := githubKinds[key]
		items, err := g.list(ctx, tok, owner, repo, kind, grp.UserID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if key == GitHubNewIssue && it.PullRequest != nil {
				continue
			}
			act := it.activity(key, owner, repo)
			out = append(out, Observation{
				ExternalID: fmt.Sprintf("github:%s/%s:%s:%d", owner, repo, kind.ledger, it.ID),
				Activity:   act,
				Keys:       []string{key},
				RecordOnly: act.CreatedAt.Before(cutoff),
				Raw:        it.raw,
			})
		}
	}
	return out, nil
}

func (g *GitHub) list(ctx context.Context, tok, owner, repo string, kind githubKind, userID string) ([]githubItem, error) {
	base := g.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	u := fmt.Sprintf("%s/repos/%s/%s/%s?%s", strings.TrimRight(base, "/"),
		url.PathEscape(owner), url.PathEscape(repo), kind.path, kind.query)

	body, _, err := g.HTTP.Get(ctx, "github", u, map[string]string{
		"Authorization":        "Bearer " + tok,
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	})
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		return nil, &AuthError{Provider: "github", UserID: userID, Cause: err}
	}
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("github: decode %s: %w", kind.path, err)
	}
	items := make([]githubItem, 0, len(raws))
	for _, r := range raws {
		var it githubItem
		if err := json.Unmarshal(r, &it); err != nil {
			return nil, fmt.Errorf("github: decode %s item: %w", kind.path, err)
		}
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, fmt.Errorf("github: decode %s item: %w", kind.path, err)
		}
		it.raw = m
		items = append(items, it)
	}
	return items, nil
}

type githubItem struct {
	ID          int64     `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Name        string    `json:"name"` // releases
	TagName     string    `json:"tag_name"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	User        struct {
		Login string `json:"login"`
	} `json:"user"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`

	raw map[string]any
}

func (it *githubItem) activity(key, owner, repo string) *activity.Activity {
	a := &activity.Activity{
		Provider:  "github",
		ActionKey: key,
		ID:        strconv.FormatInt(it.ID, 10),
		Title:     it.Title,
		URL:       it.HTMLURL,
		Author:    it.User.Login,
		CreatedAt: it.CreatedAt,
		Extra: map[string]any{
			"repository": owner + "/" + repo,
			"body":       it.Body,
		},
	}
	switch key {
	case GitHubNewRelease:
		a.Title = it.Name
		if a.Title == "" {
			a.Title = it.TagName
		}
		a.Author = it.Author.Login
		if !it.PublishedAt.IsZero() {
			a.CreatedAt = it.PublishedAt
		}
		a.Extra["tag"] = it.TagName
		a.Extra["prerelease"] = it.Prerelease
		a.Extra["draft"] = it.Draft
	default:
		labels := make([]string, 0, len(it.Labels))
		for _, l := range it.Labels {
			labels = append(labels, l.Name)
		}
		a.Extra["number"] = it.Number
		a.Extra["state"] = it.State
		a.Extra["labels"] = labels
		if key == GitHubNewPullRequest {
			a.Extra["head"] = it.Head.Ref
			a.Extra["base"] = it.Base.Ref
		}
	}
	return a
}

// Matches is unconditional: the fetch is already scoped to the action kind.
func (g *GitHub) Matches(_ *activity.Activity, actionKey string, _ json.RawMessage) bool {
	_, ok := githubKinds[actionKey]
	return ok
}
