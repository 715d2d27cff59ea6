// Package compile orchestrates the build pipeline: sources are validated,
// staged, patched against known-bad dependency pins, compiled by the external
// toolchain, repaired and retried once on a known defect, and harvested into
// an artifact directory that outlives the staging tree.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/wasmforge/internal/artifactcache"
	"git.home.luguber.info/inful/wasmforge/internal/config"
	"git.home.luguber.info/inful/wasmforge/internal/events"
	"git.home.luguber.info/inful/wasmforge/internal/history"
	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/manifest"
	"git.home.luguber.info/inful/wasmforge/internal/metrics"
	"git.home.luguber.info/inful/wasmforge/internal/workspace"
)

// Service runs compile jobs. Safe for concurrent use; per-key cache access is
// serialized inside the artifact cache.
type Service struct {
	cfg       *config.Config
	cache     *artifactcache.Cache
	spaces    *workspace.Manager
	rules     manifest.RuleSet
	recorder  metrics.Recorder
	ledger    *history.Store
	publisher events.Publisher
}

// Options carries optional service collaborators. Zero values select no-op
// implementations.
type Options struct {
	Recorder  metrics.Recorder
	Ledger    *history.Store
	Publisher events.Publisher
}

// NewService wires a compile service from configuration.
func NewService(cfg *config.Config, opts Options) (*Service, error) {
	cache, err := artifactcache.New(cfg.Cache.Root)
	if err != nil {
		return nil, fmt.Errorf("initialize artifact cache: %w", err)
	}

	rules := manifest.DefaultRuleSet()
	if cfg.Rules.File != "" {
		rules, err = manifest.LoadRuleSet(cfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("load patch rules: %w", err)
		}
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		cfg:       cfg,
		cache:     cache,
		spaces:    workspace.NewManager(cfg.Cache.Root),
		rules:     rules,
		recorder:  recorder,
		ledger:    opts.Ledger,
		publisher: publisher,
	}, nil
}

// Cache exposes the artifact cache for the janitor.
func (s *Service) Cache() *artifactcache.Cache { return s.cache }

// Workspaces exposes the staging manager for the janitor.
func (s *Service) Workspaces() *workspace.Manager { return s.spaces }

// Rules returns the active patch rule set.
func (s *Service) Rules() manifest.RuleSet { return s.rules }

// Compile runs one job end to end. The returned Result always carries the
// report; artifact fields are populated only on success. Staging is removed
// unconditionally, success or failure.
func (s *Service) Compile(ctx context.Context, req CompileRequest) (*Result, error) {
	jobID := workspace.NewJobID()
	bs := &BuildState{
		JobID:   jobID,
		Request: req,
		Config:  s.cfg,
		Rules:   s.rules,
		Report:  NewCompileReport(jobID),
	}

	slog.Info("compile job started", logfields.JobID(jobID))

	err := runStages(ctx, bs, []StageDef{
		{StageValidate, s.validate},
		{StageSources, s.stageSources},
		{StageCacheWarm, s.cacheWarm},
		{StagePrePatch, s.prePatch},
		{StageBuild, s.build},
		{StageHarvest, s.harvest},
		{StageCacheUpdate, s.cacheUpdate},
	}, s.recorder)

	s.cleanup(bs)
	s.finish(ctx, bs)

	result := &Result{
		JobID:  jobID,
		Report: bs.Report,
	}
	if err != nil {
		return result, err
	}
	result.ArtifactDir = bs.ArtifactDir
	result.WasmFiles = bs.WasmFiles
	return result, nil
}

// cleanup removes the staging tree and records it as a pipeline stage.
func (s *Service) cleanup(bs *BuildState) {
	t0 := time.Now()
	if bs.StagingDir != "" {
		if err := s.spaces.RemoveStaging(bs.StagingDir); err != nil {
			slog.Warn("staging cleanup failed",
				logfields.JobID(bs.JobID),
				logfields.Path(bs.StagingDir),
				logfields.Error(err))
		}
	}
	dur := time.Since(t0)
	bs.Report.StageDurations[StageCleanup] = dur
	bs.Report.RecordStageResult(StageCleanup, StageResultSuccess, dur, s.recorder)
}

// finish derives the outcome and fans it out to metrics, the job ledger and
// the event stream.
func (s *Service) finish(ctx context.Context, bs *BuildState) {
	r := bs.Report
	r.Finish()
	r.DeriveOutcome()

	s.recorder.ObserveCompileDuration(r.Duration())
	s.recorder.IncCompileOutcome(string(r.Outcome))

	slog.Info("compile job finished",
		logfields.JobID(bs.JobID),
		logfields.CacheKey(r.CacheKey),
		logfields.Attempt(r.Attempts),
		logfields.Duration(r.Duration()),
		slog.String("outcome", string(r.Outcome)))

	if s.ledger != nil {
		rec := history.Record{
			JobID:      r.JobID,
			CacheKey:   r.CacheKey,
			Outcome:    string(r.Outcome),
			Attempts:   r.Attempts,
			Signature:  r.MatchedSignature,
			Duration:   r.Duration(),
			FinishedAt: r.End,
		}
		if len(r.Errors) > 0 {
			rec.Message = r.Errors[0].Error()
		}
		if err := s.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
			slog.Warn("job ledger append failed", logfields.JobID(r.JobID), logfields.Error(err))
		}
	}

	event := events.CompileEvent{
		JobID:      r.JobID,
		CacheKey:   r.CacheKey,
		Outcome:    string(r.Outcome),
		Attempts:   r.Attempts,
		Signature:  r.MatchedSignature,
		DurationMS: r.Duration().Milliseconds(),
		FinishedAt: r.End,
	}
	if err := s.publisher.PublishCompileEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("compile event publish failed", logfields.JobID(r.JobID), logfields.Error(err))
	}
}
