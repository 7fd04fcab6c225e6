// Package scheduler drives the provider pollers: one independent ticker per
// poller, never two ticks of the same poller at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBusy is returned by TriggerNow while a tick of that poller runs.
	ErrBusy = errors.New("scheduler: poller busy")
	// ErrUnknownPoller is returned by TriggerNow for an unregistered slug.
	ErrUnknownPoller = errors.New("scheduler: unknown poller")
)

// Job is one poller.
type Job interface {
	Slug() string
	Poll(ctx context.Context) error
}

// Config configures the scheduler.
type Config struct {
	// Interval between ticks of each poller. Default: 30s.
	Interval time.Duration
	// TickTimeout bounds one tick, including the drain after shutdown.
	// Default: 25s.
	TickTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 25 * time.Second
	}
}

// Stats are per-poller counters.
type Stats struct {
	Ticks        int64  `json:"ticks"`
	Skipped      int64  `json:"skipped"`
	Errors       int64  `json:"errors"`
	LastRunAt    int64  `json:"last_run_at,omitempty"` // unix ms
	LastDuration int64  `json:"last_duration_ms"`
	LastError    string `json:"last_error,omitempty"`
	Running      bool   `json:"running"`
}

type entry struct {
	job     Job
	running atomic.Bool
	ticks   atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64

	mu        sync.Mutex
	lastRunAt time.Time
	lastDur   time.Duration
	lastErr   string
}

// Scheduler runs every registered Job on its own ticker.
type Scheduler struct {
	entries map[string]*entry
	config  Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Scheduler. Slugs must be unique.
func New(jobs []Job, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{entries: make(map[string]*entry, len(jobs)), config: cfg, logger: logger}
	for _, j := range jobs {
		if _, dup := s.entries[j.Slug()]; dup {
			return nil, fmt.Errorf("scheduler: duplicate poller %q", j.Slug())
		}
		s.entries[j.Slug()] = &entry{job: j}
	}
	return s, nil
}

// Run starts one loop per poller and blocks until ctx is cancelled and every
// in-flight tick has finished.
func (s *Scheduler) Run(ctx context.Context) {
	for _, e := range s.entries {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, e)
		}()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on start.
	s.tick(ctx, e)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx, e)
		}
	}
}

// tick runs one Poll unless one is already running. The Poll context is
// detached from ctx so a shutdown lets the tick finish, bounded by
// TickTimeout.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	if err := s.run(ctx, e); errors.Is(err, ErrBusy) {
		e.skipped.Add(1)
		s.logger.Debug("scheduler: tick skipped, previous still running", "poller", e.job.Slug())
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.running.Store(false)

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.TickTimeout)
	defer cancel()

	start := time.Now()
	err := e.job.Poll(tctx)
	dur := time.Since(start)

	e.ticks.Add(1)
	e.mu.Lock()
	e.lastRunAt, e.lastDur = start, dur
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	if err != nil {
		e.errors.Add(1)
		s.logger.Error("scheduler: poll failed", "poller", e.job.Slug(), "duration", dur, "error", err)
		return err
	}
	s.logger.Debug("scheduler: poll done", "poller", e.job.Slug(), "duration", dur)
	return nil
}

// TriggerNow runs one tick of the named poller synchronously, under the same
// non-overlap guard as the ticker.
func (s *Scheduler) TriggerNow(ctx context.Context, slug string) error {
	e, ok := s.entries[slug]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPoller, slug)
	}
	return s.run(ctx, e)
}

// Slugs returns the registered poller slugs, sorted.
func (s *Scheduler) Slugs() []string {
	out := make([]string, 0, len(s.entries))
	for slug := range s.entries {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Stats returns the counters of every poller.
func (s *Scheduler) Stats() map[string]Stats {
	out := make(map[string]Stats, len(s.entries))
	for slug, e := range s.entries {
		e.mu.Lock()
		st := Stats{
			Ticks:        e.ticks.Load(),
			Skipped:      e.skipped.Load(),
			Errors:       e.errors.Load(),
			LastDuration: e.lastDur.Milliseconds(),
			LastError:    e.lastErr,
			Running:      e.running.Load(),
		}
		if !e.lastRunAt.IsZero() {
			st.LastRunAt = e.lastRunAt.UnixMilli()
		}
		e.mu.Unlock()
		out[slug] = st
	}
	return out
}
