// Package provider implements the per-provider pollers: fetch external
// state, normalize it into activities, deduplicate against the ledger,
// match each area's predicate and dispatch its reaction.
//
// The pipeline is shared (Poller); each provider contributes a Source that
// knows how to group areas, fetch a group and evaluate its predicates.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/area/automation/internal/activity"
	"github.com/hazyhaar/area/automation/internal/reaction"
	"github.com/hazyhaar/area/automation/internal/store"
	"github.com/hazyhaar/area/automation/internal/token"
)

// Group is the set of areas watching one external resource.
type Group struct {
	Key    string
	UserID string // set for per-user providers
	Areas  []*store.Area
}

// ActionKeys returns the distinct action keys of the group, in area order.
func (g *Group) ActionKeys() []string {
	var keys []string
	for _, a := range g.Areas {
		if !slices.Contains(keys, a.Action.Key) {
			keys = append(keys, a.Action.Key)
		}
	}
	return keys
}

// Observation is one normalized external event with its ledger key.
type Observation struct {
	ExternalID string
	Activity   *activity.Activity
	// Keys restricts the action keys this observation can trigger; nil
	// means any key of the group.
	Keys []string
	// RecordOnly observations are written to the ledger but never
	// dispatched (GitHub items older than the recency window).
	RecordOnly bool
	Raw        any
}

// Source is the provider-specific half of a poller.
type Source interface {
	Slug() string
	// GroupKey validates an area's action config and returns the key of
	// the resource it watches. A *ConfigError skips the area.
	GroupKey(a *store.Area) (key string, err error)
	Fetch(ctx context.Context, g *Group) ([]Observation, error)
	Matches(act *activity.Activity, actionKey string, config json.RawMessage) bool
}

// perUser is implemented by sources whose groups are scoped to one user.
type perUser interface {
	PerUser() bool
}

// Dispatcher runs reactions.
type Dispatcher interface {
	Execute(ctx context.Context, ref reaction.Ref, config json.RawMessage, rc reaction.Context) error
}

// Revoker deletes an account the provider rejected.
type Revoker interface {
	Revoke(ctx context.Context, userID, provider, reason string) error
}

// Poller runs the fetch→dedup→match→dispatch pipeline for one provider.
type Poller struct {
	source      Source
	store       *store.Store
	dispatcher  Dispatcher
	revoker     Revoker
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// Deps are the collaborators shared by every poller.
type Deps struct {
	Store       *store.Store
	Dispatcher  Dispatcher
	Revoker     Revoker
	Concurrency int // groups processed in parallel, default 4
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewPoller creates a Poller for src.
func NewPoller(src Source, deps Deps) *Poller {
	p := &Poller{
		source:      src,
		store:       deps.Store,
		dispatcher:  deps.Dispatcher,
		revoker:     deps.Revoker,
		concurrency: deps.Concurrency,
		logger:      deps.Logger,
		now:         deps.Now,
		tracer:      otel.Tracer("github.com/hazyhaar/area/automation/internal/provider"),
	}
	if p.concurrency <= 0 {
		p.concurrency = 4
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.logger = p.logger.With("provider", src.Slug())
	return p
}

// Slug returns the provider slug.
func (p *Poller) Slug() string { return p.source.Slug() }

// Poll runs one tick. Only a failure to load the service or its areas is
// returned; group and area failures end up in the execution log.
func (p *Poller) Poll(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "poller.tick",
		trace.WithAttributes(attribute.String("provider", p.Slug())))
	defer span.End()

	svc, err := p.store.ServiceBySlug(ctx, p.Slug())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "service lookup")
		return fmt.Errorf("poller %s: %w", p.Slug(), err)
	}
	if !svc.Enabled {
		p.logger.Debug("poller: service disabled")
		return nil
	}
	areas, err := p.store.EnabledAreas(ctx, svc.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load areas")
		return fmt.Errorf("poller %s: %w", p.Slug(), err)
	}

	groups := p.group(areas)
	span.SetAttributes(attribute.Int("areas", len(areas)), attribute.Int("groups", len(groups)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, grp := range groups {
		g.Go(func() error {
			p.processGroup(gctx, svc, grp)
			return nil
		})
	}
	return g.Wait()
}

// group partitions areas by resource key, skipping unusable configs.
func (p *Poller) group(areas []*store.Area) []*Group {
	_, scoped := p.source.(perUser)
	byKey := make(map[string]*Group)
	var out []*Group
	for _, a := range areas {
		if s := a.DedupKeyStrategy; s != "" && s != store.DedupProvider {
			p.logger.Warn("poller: skipping area with unsupported dedup strategy",
				"area_id", a.ID, "strategy", s)
			continue
		}
		if _, err := reaction.ParseConfig(a.ReactionConfig); err != nil {
			p.logger.Warn("poller: skipping area with invalid reaction config",
				"area_id", a.ID, "error", err)
			continue
		}
		key, err := p.source.GroupKey(a)
		if err != nil {
			p.logger.Warn("poller: skipping area with invalid action config",
				"area_id", a.ID, "action", a.Action.Key, "error", err)
			continue
		}
		grp, ok := byKey[key]
		if !ok {
			grp = &Group{Key: key}
			if scoped {
				grp.UserID = a.UserID
			}
			byKey[key] = grp
			out = append(out, grp)
		}
		grp.Areas = append(grp.Areas, a)
	}
	return out
}

func (p *Poller) processGroup(ctx context.Context, svc *store.Service, g *Group) {
	ctx, span := p.tracer.Start(ctx, "poller.group",
		trace.WithAttributes(
			attribute.String("provider", p.Slug()),
			attribute.String("group", g.Key),
			attribute.Int("areas", len(g.Areas)),
		))
	defer span.End()

	obs, err := p.fetch(ctx, g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch")
		p.fetchFailed(ctx, g, err)
		return
	}
	span.SetAttributes(attribute.Int("observations", len(obs)))

	for i := range obs {
		if ctx.Err() != nil {
			return
		}
		p.handle(ctx, svc, g, &obs[i])
	}
}

func (p *Poller) fetch(ctx context.Context, g *Group) (obs []Observation, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller: panic in fetch", "group", g.Key, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.source.Fetch(ctx, g)
}

func (p *Poller) fetchFailed(ctx context.Context, g *Group, err error) {
	if errors.Is(err, token.ErrNoAccount) {
		p.logger.Debug("poller: no linked account, skipping group", "group", g.Key, "user_id", g.UserID)
		return
	}

	p.logger.Warn("poller: fetch failed", "group", g.Key, "areas", len(g.Areas), "error", err)
	ferr := &FetchError{Provider: p.Slug(), Group: g.Key, Cause: err}
	payload, _ := json.Marshal(map[string]string{"provider": p.Slug(), "group": g.Key})
	for _, a := range g.Areas {
		p.appendLog(ctx, &store.AreaLog{
			AreaID:  a.ID,
			Status:  store.StatusFailure,
			Payload: payload,
			Error:   ferr.Error(),
		})
	}

	var auth *AuthError
	if errors.As(err, &auth) && p.revoker != nil {
		if rerr := p.revoker.Revoke(ctx, auth.UserID, p.Slug(), auth.Error()); rerr != nil {
			p.logger.Error("poller: revoke account", "user_id", auth.UserID, "error", rerr)
		}
	}
}

func (p *Poller) handle(ctx context.Context, svc *store.Service, g *Group, o *Observation) {
	payload := o.Activity.JSON()
	seen, err := p.store.Seen(ctx, svc.ID, o.ExternalID)
	if err != nil {
		p.logger.Error("poller: ledger lookup", "external_id", o.ExternalID, "error", err)
		return
	}
	if seen {
		return
	}
	inserted, err := p.store.Record(ctx, svc.ID, o.ExternalID, payload)
	if err != nil {
		p.logger.Error("poller: ledger record", "external_id", o.ExternalID, "error", err)
		return
	}
	if !inserted || o.RecordOnly {
		return
	}

	for _, a := range g.Areas {
		key := a.Action.Key
		if o.Keys != nil && !slices.Contains(o.Keys, key) {
			continue
		}
		if !p.matches(o.Activity, key, a) {
			continue
		}
		p.dispatch(ctx, a, o)
	}
}

func (p *Poller) matches(act *activity.Activity, key string, a *store.Area) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller: panic in predicate", "area_id", a.ID, "panic", r)
			ok = false
		}
	}()
	return p.source.Matches(act, key, a.ActionConfig)
}

// dispatch runs one area's reaction. Errors and panics stay inside this
// area and become its log row.
func (p *Poller) dispatch(ctx context.Context, a *store.Area, o *Observation) {
	act := *o.Activity
	act.ActionKey = a.Action.Key
	payload := act.JSON()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("poller: panic in reaction", "area_id", a.ID, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return p.dispatcher.Execute(ctx,
			reaction.Ref{ServiceSlug: a.ReactionService.Slug, Key: a.Reaction.Key},
			a.ReactionConfig,
			reaction.Context{
				Source:    p.Slug(),
				AreaID:    a.ID,
				UserID:    a.UserID,
				ActionKey: a.Action.Key,
				Activity:  &act,
				Raw:       o.Raw,
				Now:       p.now(),
			})
	}()

	entry := &store.AreaLog{AreaID: a.ID, Payload: payload, TriggeredAt: p.now().UnixMilli()}
	switch {
	case err == nil:
		entry.Status = store.StatusSuccess
		p.logger.Info("poller: reaction dispatched", "area_id", a.ID, "external_id", o.ExternalID,
			"reaction", a.ReactionService.Slug+"."+a.Reaction.Key)
	case errors.Is(err, reaction.ErrSkipped):
		entry.Status = store.StatusSkipped
		entry.Error = err.Error()
		p.logger.Info("poller: reaction skipped", "area_id", a.ID, "reason", err)
	default:
		entry.Status = store.StatusFailure
		entry.Error = err.Error()
		p.logger.Warn("poller: reaction failed", "area_id", a.ID, "external_id", o.ExternalID, "error", err)
	}
	p.appendLog(ctx, entry)
}

func (p *Poller) appendLog(ctx context.Context, l *store.AreaLog) {
	if err := p.store.AppendLog(ctx, l); err != nil {
		p.logger.Error("poller: append area log", "area_id", l.AreaID, "error", err)
	}
}
