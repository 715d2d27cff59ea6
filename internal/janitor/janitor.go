// Package janitor runs periodic housekeeping over the artifact cache and
// staging area: stale cache entries and orphaned staging directories are
// removed on a fixed interval.
package janitor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/wasmforge/internal/artifactcache"
	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/workspace"
)

// Janitor wraps a gocron scheduler around cache and staging pruning.
type Janitor struct {
	scheduler gocron.Scheduler
	cache     *artifactcache.Cache
	spaces    *workspace.Manager
	maxAge    time.Duration
	active    func(jobID string) bool
}

// New creates a janitor. active reports whether a staging directory is still
// owned by a running job; nil means no staging directory is active.
func New(cache *artifactcache.Cache, spaces *workspace.Manager, maxAge time.Duration, active func(jobID string) bool) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if active == nil {
		active = func(string) bool { return false }
	}
	return &Janitor{
		scheduler: s,
		cache:     cache,
		spaces:    spaces,
		maxAge:    maxAge,
		active:    active,
	}, nil
}

// Start schedules the sweep at the given interval and begins the scheduler.
func (j *Janitor) Start(interval time.Duration) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.Sweep),
		gocron.WithName("cache-janitor"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule janitor sweep: %w", err)
	}

	slog.Info("Starting janitor",
		slog.Duration("interval", interval),
		slog.Duration("max_age", j.maxAge))
	j.scheduler.Start()
	return nil
}

// Sweep runs one housekeeping pass.
func (j *Janitor) Sweep() {
	start := time.Now()

	pruned := j.cache.Prune(j.maxAge)
	outputs := j.cache.PruneOutput(j.maxAge)
	orphans := j.spaces.PruneOrphans(j.active)

	slog.Info("Janitor sweep complete",
		slog.Int("cache_pruned", pruned),
		slog.Int("output_pruned", outputs),
		slog.Int("staging_pruned", orphans),
		logfields.Duration(time.Since(start)))
}

// Stop shuts the scheduler down.
func (j *Janitor) Stop() error {
	slog.Info("Stopping janitor")
	return j.scheduler.Shutdown()
}
