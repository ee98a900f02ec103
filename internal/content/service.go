// Package content serves CMS projects and filter data through the cache
// regions, keeping them fresh with background reconciliation.
package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.trai.ch/zerr"

	"github.com/Sternrassler/cms-cache/internal/config"
	"github.com/Sternrassler/cms-cache/pkg/batch"
	"github.com/Sternrassler/cms-cache/pkg/cache"
	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/orchestrator"
	"github.com/Sternrassler/cms-cache/pkg/reconcile"
	"github.com/Sternrassler/cms-cache/pkg/refdata"
	"github.com/Sternrassler/cms-cache/pkg/scheduler"
)

// Region names.
const (
	RegionProjects = "projects"
	RegionProject  = "project"
	RegionFilters  = "filters"
)

const (
	projectsResource = "/api/projects"
	projectResource  = "/api/projects/by-id"
)

var (
	// ErrProjectNotFound is returned when neither the cache nor the CMS knows an id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("content service closed")
)

// projectsBaseKey groups the DE and EN variants of the complete collection.
var projectsBaseKey = cache.BuildBaseKey(projectsResource, cache.Params{cache.P("limit", -1)})

// ProjectsKey is the cache key of the complete project collection in lang.
func ProjectsKey(lang cache.Language) string {
	return cache.LanguageKey(projectsBaseKey, lang)
}

// ProjectKey is the cache key of a single project in lang.
func ProjectKey(id string, lang cache.Language) string {
	return cache.BuildKey(projectResource, cache.Params{cache.P("id", id)}, lang)
}

// Remote is the subset of the CMS API the service needs. *cms.Client
// implements it.
type Remote interface {
	refdata.Source
	FetchProjects(ctx context.Context, lang cache.Language) ([]cms.Project, error)
	FetchModifiedIndex(ctx context.Context) ([]reconcile.IndexEntry, error)
	FetchProjectsByID(ctx context.Context, ids []string, lang cache.Language) ([]cms.Project, error)
}

var _ Remote = (*cms.Client)(nil)

// Config configures a Service.
type Config struct {
	Enabled bool

	Projects orchestrator.RegionConfig
	Project  orchestrator.RegionConfig
	Filters  orchestrator.RegionConfig

	// CleanupInterval between expired-entry sweeps (0 disables the sweep).
	CleanupInterval time.Duration

	// Refresh schedules one reconciliation task per language when
	// RefreshEnabled is set.
	RefreshEnabled bool
	Refresh        scheduler.TaskConfig

	Reconcile reconcile.Config
	Batch     batch.Config
	Refdata   refdata.Config

	// Warmup loads both language collections and the filters on Start.
	Warmup      bool
	WarmupDelay time.Duration
}

// ConfigFrom maps the file configuration onto a service Config.
func ConfigFrom(c *config.Config) Config {
	region := func(name string, r config.RegionConfig) orchestrator.RegionConfig {
		return orchestrator.RegionConfig{
			Name:       name,
			MaxEntries: r.MaxEntries,
			DefaultTTL: r.DefaultTTL,
			Disabled:   !r.Enabled,
			Sliding:    r.Sliding,
		}
	}

	return Config{
		Enabled:         c.Cache.Enabled,
		Projects:        region(RegionProjects, c.Cache.Regions.Projects),
		Project:         region(RegionProject, c.Cache.Regions.Project),
		Filters:         region(RegionFilters, c.Cache.Regions.Filters),
		CleanupInterval: c.Cache.CleanupInterval,
		RefreshEnabled:  c.Refresh.Projects.Enabled,
		Refresh: scheduler.TaskConfig{
			Interval: c.Refresh.Projects.Interval,
			TTL:      c.Refresh.Projects.TTL,
			Timeout:  c.Refresh.Projects.Timeout,
		},
		Reconcile: reconcile.Config{
			IncludeNew:  c.Reconcile.IncludeNew,
			MinInterval: c.Reconcile.MinInterval,
		},
		Batch: batch.Config{
			ChunkSize:      c.CMS.Batch.ChunkSize,
			MaxConcurrency: c.CMS.Batch.MaxConcurrency,
			Timeout:        c.CMS.Batch.Timeout,
		},
		Refdata:     refdata.Config{RefreshInterval: c.Refdata.RefreshInterval},
		Warmup:      c.Warmup.Enabled,
		WarmupDelay: c.Warmup.Delay,
	}
}

// Service composes the cache regions, the reconciliation engine, the refresh
// scheduler and the reference data service.
type Service struct {
	cfg    Config
	remote Remote
	logger zerolog.Logger

	orch     *orchestrator.Orchestrator
	projects *orchestrator.Region[[]cms.Project]
	project  *orchestrator.Region[cms.Project]
	filters  *orchestrator.Region[any]

	engine  *reconcile.Engine[cms.Project]
	sched   *scheduler.Scheduler
	refdata *refdata.Service

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a service. Nothing is fetched until Start or the first request.
func New(remote Remote, cfg Config, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		remote:   remote,
		logger:   logger,
		orch:     orchestrator.New(logger.With().Str("component", "orchestrator").Logger()),
		projects: orchestrator.NewRegion[[]cms.Project](cfg.Projects),
		project:  orchestrator.NewRegion[cms.Project](cfg.Project),
		filters:  orchestrator.NewRegion[any](cfg.Filters),
		engine:   reconcile.New(cms.IdentifyProject, cfg.Reconcile, logger.With().Str("component", "reconcile").Logger()),
		sched:    scheduler.New(logger.With().Str("component", "scheduler").Logger()),
		refdata:  refdata.New(remote, cfg.Refdata, logger.With().Str("component", "refdata").Logger()),
	}

	if err := s.orch.Register(s.projects, s.project, s.filters); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		s.SetEnabled(false)
	}
	return s, nil
}

// Start loads reference data, schedules the background reconciliation and
// optionally warms the cache. A failed reference data load is logged; the
// service keeps running and becomes ready with the next successful refresh.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.refdata.Initialize(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Starting without reference data")
	}

	if s.cfg.RefreshEnabled {
		for _, lang := range cache.Languages {
			if err := s.scheduleProjects(lang); err != nil {
				return err
			}
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orch.RunMaintenance(runCtx, s.cfg.CleanupInterval)
	}()

	if s.cfg.Warmup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.warmUp(runCtx)
		}()
	}

	s.logger.Info().
		Bool("enabled", s.cfg.Enabled).
		Bool("refresh", s.cfg.RefreshEnabled).
		Bool("warmup", s.cfg.Warmup).
		Msg("Content service started")
	return nil
}

func (s *Service) scheduleProjects(lang cache.Language) error {
	key := ProjectsKey(lang)
	refresh := s.engine.RefreshFunc(s.projects, key, s.fullFetch(lang), s.remote.FetchModifiedIndex, s.fetchByID(lang))

	_, err := scheduler.Schedule[[]cms.Project](s.sched, s.projects, key, refresh, s.cfg.Refresh)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "schedule projects refresh"), "lang", string(lang))
	}
	return nil
}

// warmUp fills both language collections and the filter region.
func (s *Service) warmUp(ctx context.Context) {
	if s.cfg.WarmupDelay > 0 {
		select {
		case <-time.After(s.cfg.WarmupDelay):
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	if _, err := s.ProjectsBothLanguages(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Project warm-up incomplete")
	}

	keys := make([]string, 0, len(FilterKinds))
	for _, kind := range FilterKinds {
		keys = append(keys, filterKey(kind))
	}
	res := orchestrator.WarmUp(ctx, s.filters, keys, func(ctx context.Context, key string) (any, error) {
		return s.loadFilter(ctx, kindOfKey(key))
	}, 0)

	s.logger.Info().
		Int("filters_loaded", res.Loaded).
		Int("filters_failed", res.Failed).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up finished")
}

// fullFetch loads the complete collection in lang.
func (s *Service) fullFetch(lang cache.Language) orchestrator.Producer[[]cms.Project] {
	return func(ctx context.Context) ([]cms.Project, error) {
		return s.remote.FetchProjects(ctx, lang)
	}
}

// fetchByID returns a record fetcher that loads ids in parallel chunks.
func (s *Service) fetchByID(lang cache.Language) reconcile.RecordFetcher[cms.Project] {
	fetcher := batch.New(func(ctx context.Context, ids []string) ([]cms.Project, error) {
		return s.remote.FetchProjectsByID(ctx, ids, lang)
	}, s.cfg.Batch)
	return fetcher.Fetch
}

// Projects returns the complete collection in lang, reconciling a cached copy
// against the modified index when due.
func (s *Service) Projects(ctx context.Context, lang cache.Language) ([]cms.Project, error) {
	return s.engine.GetOrSetTracked(ctx, s.projects, ProjectsKey(lang),
		s.fullFetch(lang), s.remote.FetchModifiedIndex, s.fetchByID(lang), s.cfg.Refresh.TTL)
}

// ProjectsBothLanguages returns both collections, fetching only the missing ones.
func (s *Service) ProjectsBothLanguages(ctx context.Context) (orchestrator.Bilingual[[]cms.Project], error) {
	return orchestrator.PreloadBothLanguages(ctx, s.projects, projectsBaseKey,
		func(ctx context.Context, lang cache.Language) ([]cms.Project, error) {
			return s.remote.FetchProjects(ctx, lang)
		}, s.cfg.Refresh.TTL)
}

// Project returns one project. A cached collection in the same language is
// searched before the CMS is asked.
func (s *Service) Project(ctx context.Context, id string, lang cache.Language) (cms.Project, error) {
	if id == "" {
		return cms.Project{}, ErrProjectNotFound
	}

	return orchestrator.GetOrSet(ctx, s.project, ProjectKey(id, lang), func(ctx context.Context) (cms.Project, error) {
		if p, ok := s.findCached(id, lang); ok {
			return p, nil
		}

		found, err := s.remote.FetchProjectsByID(ctx, []string{id}, lang)
		if err != nil {
			return cms.Project{}, fmt.Errorf("fetch project %s: %w", id, err)
		}
		for _, p := range found {
			if p.UUID == id {
				return p, nil
			}
		}
		return cms.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}, 0)
}

func (s *Service) findCached(id string, lang cache.Language) (cms.Project, bool) {
	entry, ok := s.projects.Peek(ProjectsKey(lang))
	if !ok {
		return cms.Project{}, false
	}
	for _, p := range entry.Value {
		if p.UUID == id {
			return p, true
		}
	}
	return cms.Project{}, false
}

// InvalidateProjects drops every cached entry that mentions one of ids, in
// its key or in its records.
func (s *Service) InvalidateProjects(ids ...string) int {
	return s.orch.InvalidateRecords(ids, projectIDs, RegionProjects, RegionProject)
}

// InvalidatePattern drops every entry whose key matches pattern.
func (s *Service) InvalidatePattern(pattern string, regions ...string) (int, error) {
	return s.orch.InvalidateRelatedString(pattern, regions...)
}

// InvalidateLanguage drops the lang variant of the project collection.
func (s *Service) InvalidateLanguage(lang cache.Language) int {
	return s.orch.InvalidateLanguageVersion(projectsBaseKey, lang, RegionProjects)
}

// projectIDs extracts record ids from project region values.
func projectIDs(value any) []string {
	switch v := value.(type) {
	case []cms.Project:
		ids := make([]string, len(v))
		for i, p := range v {
			ids[i] = p.UUID
		}
		return ids
	case cms.Project:
		return []string{v.UUID}
	default:
		return nil
	}
}

// SetEnabled toggles the cache bypass. Regions disabled in their own config
// stay disabled.
func (s *Service) SetEnabled(enabled bool) {
	s.projects.SetEnabled(enabled && !s.cfg.Projects.Disabled)
	s.project.SetEnabled(enabled && !s.cfg.Project.Disabled)
	s.filters.SetEnabled(enabled && !s.cfg.Filters.Disabled)
	s.logger.Info().Bool("enabled", enabled).Msg("Cache enabled flag changed")
}

// Ready reports whether reference data has been loaded.
func (s *Service) Ready() bool {
	return s.refdata.IsReady()
}

// Stats is a diagnostic view of the service.
type Stats struct {
	Regions   map[string]cache.RegionStats  `json:"regions"`
	Tasks     []scheduler.TaskInfo          `json:"tasks"`
	Languages orchestrator.LanguagePresence `json:"languages"`
	Refdata   RefdataStats                  `json:"refdata"`
}

// RefdataStats describes the reference data snapshot.
type RefdataStats struct {
	Ready       bool          `json:"ready"`
	Age         time.Duration `json:"age"`
	Locations   int           `json:"locations"`
	Formats     int           `json:"formats"`
	Contexts    int           `json:"contexts"`
	Fingerprint uint64        `json:"fingerprint"`
}

// Stats returns diagnostics. The result is informational only.
func (s *Service) Stats() Stats {
	stats := Stats{
		Regions:   s.orch.Stats(),
		Tasks:     s.sched.Tasks(),
		Languages: orchestrator.HasBothLanguages(s.projects, projectsBaseKey),
		Refdata:   RefdataStats{Ready: s.refdata.IsReady()},
	}
	if snap, ok := s.refdata.Snapshot(); ok {
		stats.Refdata.Locations = len(snap.Locations)
		stats.Refdata.Formats = len(snap.Formats)
		stats.Refdata.Contexts = len(snap.Contexts)
		stats.Refdata.Fingerprint = snap.Fingerprint
	}
	if age, ok := s.refdata.Age(); ok {
		stats.Refdata.Age = age
	}
	return stats
}

// Close cancels every refresh task, stops background work and drops the
// reference data. It waits for in-flight work until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	err := s.sched.Shutdown(ctx)
	s.refdata.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.logger.Info().Msg("Content service closed")
	return err
}
