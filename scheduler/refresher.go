// Package scheduler keeps the context snapshot warm with a periodic refresh,
// so turn latency never includes a cold context fetch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
)

// Source produces a fresh context snapshot on demand.
type Source interface {
	Snapshot(ctx context.Context) (models.ContextSnapshot, error)
}

const (
	// DefaultSchedule refreshes every five minutes.
	DefaultSchedule = "@every 5m"
	// DefaultMaxAge is how old a cached snapshot may be before Snapshot
	// refreshes inline instead of serving the cache.
	DefaultMaxAge = 15 * time.Minute

	refreshTimeout = 10 * time.Second
)

// Refresher caches the latest snapshot from a Source and refreshes it on a
// cron schedule. It satisfies the orchestrator's context provider contract:
// a read serves the cache when fresh and falls back to an inline fetch when
// stale. Refresh failures keep the last good snapshot.
type Refresher struct {
	source   Source
	schedule string
	maxAge   time.Duration
	logger   zerolog.Logger

	cron *cron.Cron

	mu     sync.RWMutex
	cached models.ContextSnapshot
	fresh  bool
}

type Option func(*Refresher)

func WithSchedule(spec string) Option {
	return func(r *Refresher) { r.schedule = spec }
}

func WithMaxAge(d time.Duration) Option {
	return func(r *Refresher) { r.maxAge = d }
}

func New(source Source, logger zerolog.Logger, opts ...Option) *Refresher {
	r := &Refresher{
		source:   source,
		schedule: DefaultSchedule,
		maxAge:   DefaultMaxAge,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start primes the cache and begins the refresh schedule.
func (r *Refresher) Start() error {
	r.refresh()

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.refresh); err != nil {
		return coacherr.Wrap(coacherr.KindInvariantViolation, "invalid refresh schedule", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info().Str("schedule", r.schedule).Msg("context refresh scheduled")
	return nil
}

// Stop halts the refresh schedule. Cached data stays readable.
func (r *Refresher) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Snapshot serves the cached snapshot when fresh enough, refreshing inline
// otherwise. An inline refresh failure with a usable cache degrades to the
// stale cache with a warning.
func (r *Refresher) Snapshot(ctx context.Context) (models.ContextSnapshot, error) {
	r.mu.RLock()
	cached := r.cached
	fresh := r.fresh
	r.mu.RUnlock()

	now := time.Now()
	if fresh && cached.Age(now) <= r.maxAge {
		return cached, nil
	}

	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		if fresh {
			r.logger.Warn().Err(err).Dur("age", cached.Age(now)).Msg("inline refresh failed, serving stale snapshot")
			return cached, nil
		}
		return models.ContextSnapshot{}, coacherr.Wrap(coacherr.KindContextUnavailable, "context snapshot unavailable", err)
	}

	r.store(snapshot)
	return snapshot, nil
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	snapshot, err := r.source.Snapshot(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("scheduled context refresh failed")
		return
	}
	r.store(snapshot)
}

func (r *Refresher) store(snapshot models.ContextSnapshot) {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.cached = snapshot
	r.fresh = true
	r.mu.Unlock()
}
