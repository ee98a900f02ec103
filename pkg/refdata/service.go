// Package refdata holds the small, wholesale-refreshed reference dataset
// (locations, formats and the context hierarchy) used to enrich CMS records.
package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/cms-cache/pkg/cache"
)

// DefaultRefreshInterval is used when Config.RefreshInterval is not positive.
const DefaultRefreshInterval = time.Hour

const snapshotKey = "snapshot"

var (
	// ErrRefreshFailed marks a failed refresh; the previous snapshot stays in place.
	ErrRefreshFailed = errors.New("reference data refresh failed")

	// ErrClosed is returned by Refresh after Close.
	ErrClosed = errors.New("reference data service closed")
)

// Config configures a Service.
type Config struct {
	// RefreshInterval between background refreshes (default: 1h).
	RefreshInterval time.Duration

	// Now overrides the clock (default: time.Now).
	Now func() time.Time
}

// Service serves the current reference Snapshot and refreshes it on a timer.
//
// Reads never block on a refresh: a new snapshot is built off to the side and
// swapped in with a single store write. A failed refresh keeps the previous
// snapshot.
type Service struct {
	src    Source
	cfg    Config
	logger zerolog.Logger

	store *cache.Store[*Snapshot]
	ready atomic.Bool

	// refreshMu serializes refreshes and guards closed.
	refreshMu sync.Mutex
	closed    bool

	timerMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a service. Nothing is fetched until Initialize.
func New(src Source, cfg Config, logger zerolog.Logger) *Service {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		src:    src,
		cfg:    cfg,
		logger: logger,
		store: cache.NewStore[*Snapshot](cache.Options{
			Name:       "refdata",
			MaxEntries: 1,
			Now:        cfg.Now,
		}),
	}
}

// Initialize performs one synchronous load and then starts the background
// refresh timer. The timer is started even when the initial load fails, so
// the service becomes ready with the first successful refresh.
func (s *Service) Initialize(ctx context.Context) error {
	err := s.Refresh(ctx)
	s.startTimer()

	if err != nil {
		s.logger.Error().Err(err).Msg("Initial reference data load failed, service not ready")
		return err
	}
	s.logger.Info().Dur("interval", s.cfg.RefreshInterval).Msg("Reference data service initialized")
	return nil
}

// Refresh fetches all three collections in parallel, rebuilds the context
// index and swaps in the new snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.closed {
		return ErrClosed
	}

	start := time.Now()

	var (
		locations []Location
		formats   []Format
		root      *RawContext
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		locations, err = s.src.FetchLocations(gctx)
		return zerr.Wrap(err, "fetch locations")
	})
	g.Go(func() error {
		var err error
		formats, err = s.src.FetchFormats(gctx)
		return zerr.Wrap(err, "fetch formats")
	})
	g.Go(func() error {
		var err error
		root, err = s.src.FetchContexts(gctx)
		return zerr.Wrap(err, "fetch contexts")
	})

	if err := g.Wait(); err != nil {
		RefreshTotal.WithLabelValues("failure").Inc()
		err = zerr.With(fmt.Errorf("%w: %w", ErrRefreshFailed, err), "ready", s.ready.Load())
		s.logger.Warn().Err(err).Msg("Reference data refresh failed, keeping previous snapshot")
		return err
	}

	if locations == nil {
		locations = []Location{}
	}
	if formats == nil {
		formats = []Format{}
	}

	snap := &Snapshot{
		Locations:   locations,
		Formats:     formats,
		Contexts:    BuildContextIndex(root),
		LastUpdated: s.cfg.Now(),
	}
	snap.Fingerprint = fingerprint(snap)

	previous, hadPrevious := s.Snapshot()
	s.store.Set(snapshotKey, snap, 0)
	s.ready.Store(true)

	RefreshTotal.WithLabelValues("success").Inc()
	LastSuccess.Set(float64(snap.LastUpdated.Unix()))

	s.logger.Info().
		Int("locations", len(snap.Locations)).
		Int("formats", len(snap.Formats)).
		Int("contexts", len(snap.Contexts)).
		Bool("changed", !hadPrevious || previous.Fingerprint != snap.Fingerprint).
		Dur("duration", time.Since(start)).
		Msg("Reference data refreshed")

	return nil
}

// ForceRefresh refreshes immediately, outside the timer schedule.
func (s *Service) ForceRefresh(ctx context.Context) error {
	return s.Refresh(ctx)
}

// IsReady reports whether a snapshot has ever been loaded (and the service
// has not been closed since).
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// Snapshot returns the current snapshot.
func (s *Service) Snapshot() (*Snapshot, bool) {
	e, ok := s.store.Peek(snapshotKey)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Locations returns the current locations, or an empty slice when not ready.
func (s *Service) Locations() []Location {
	if snap, ok := s.Snapshot(); ok {
		return snap.Locations
	}
	return []Location{}
}

// Formats returns the current formats, or an empty slice when not ready.
func (s *Service) Formats() []Format {
	if snap, ok := s.Snapshot(); ok {
		return snap.Formats
	}
	return []Format{}
}

// Contexts returns the current context index, or an empty map when not ready.
// The map must not be modified.
func (s *Service) Contexts() map[string]ContextNode {
	if snap, ok := s.Snapshot(); ok {
		return snap.Contexts
	}
	return map[string]ContextNode{}
}

// Context looks up a single context node.
func (s *Service) Context(id string) (ContextNode, bool) {
	snap, ok := s.Snapshot()
	if !ok {
		return ContextNode{}, false
	}
	node, ok := snap.Contexts[id]
	return node, ok
}

// Age returns how old the current snapshot is.
func (s *Service) Age() (time.Duration, bool) {
	snap, ok := s.Snapshot()
	if !ok {
		return 0, false
	}
	return s.cfg.Now().Sub(snap.LastUpdated), true
}

// Close stops the refresh timer and drops the snapshot.
func (s *Service) Close() {
	s.stopTimer()

	s.refreshMu.Lock()
	s.closed = true
	s.store.Clear()
	s.ready.Store(false)
	s.refreshMu.Unlock()

	s.logger.Info().Msg("Reference data service closed")
}

func (s *Service) startTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Errors are logged by Refresh.
				_ = s.Refresh(ctx)
			}
		}
	}()
}

func (s *Service) stopTimer() {
	s.timerMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.timerMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// fingerprint hashes the canonical JSON of the three collections.
// encoding/json sorts map keys, so equal data always hashes equally.
func fingerprint(snap *Snapshot) uint64 {
	b, err := json.Marshal(struct {
		Locations []Location             `json:"locations"`
		Formats   []Format               `json:"formats"`
		Contexts  map[string]ContextNode `json:"contexts"`
	}{snap.Locations, snap.Formats, snap.Contexts})
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
