// Package scheduler keeps cache keys warm by running refresh functions on a
// fixed interval, independent of request traffic.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.trai.ch/zerr"
)

var (
	// ErrInvalidInterval is returned for non-positive refresh intervals.
	ErrInvalidInterval = errors.New("refresh interval must be positive")

	// ErrSchedulerClosed is returned by Schedule after Shutdown.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// TaskState is the lifecycle state of a scheduled task.
type TaskState int

const (
	// Idle tasks wait for their next tick.
	Idle TaskState = iota

	// Running tasks have a refresh in flight.
	Running

	// Stopped tasks were cancelled and never run again.
	Stopped
)

// String returns the state name.
func (s TaskState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target receives refreshed values. *orchestrator.Region[T] implements it.
type Target[T any] interface {
	Name() string
	Set(key string, value T, ttl time.Duration)
}

// RefreshFunc produces the fresh value for a task's key.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	// Interval between ticks. Must be positive.
	Interval time.Duration

	// TTL passed to Target.Set (<= 0 uses the region default).
	TTL time.Duration

	// Timeout bounds a single refresh run (0 = no limit beyond cancellation).
	Timeout time.Duration

	// RunImmediately triggers a run right after scheduling instead of
	// waiting for the first tick.
	RunImmediately bool
}

// TaskID identifies a task by region and key.
type TaskID struct {
	Region string `json:"region"`
	Key    string `json:"key"`
}

// String returns "region:key".
func (id TaskID) String() string {
	return id.Region + ":" + id.Key
}

// TaskInfo is a diagnostic snapshot of a task.
type TaskInfo struct {
	ID        TaskID        `json:"id"`
	State     TaskState     `json:"state"`
	Interval  time.Duration `json:"interval"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	Skipped   int           `json:"skipped"`
}

// Scheduler owns a set of recurring refresh tasks.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[TaskID]*task
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[TaskID]*task),
		logger: logger,
	}
}

// task is the type-erased state of one scheduled refresh.
//
// mu guards state and the counters. The final Target.Set happens while mu is
// held and only if the task is not Stopped, so once stop has returned no
// further Set can happen.
type task struct {
	id       TaskID
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	// refresh runs the user function and returns a commit closure that
	// writes the result to the target.
	refresh func(ctx context.Context) (commit func(), err error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    TaskState
	lastRun  time.Time
	lastErr  error
	runs     int
	failures int
	skipped  int
}

// Schedule registers refresh to keep key in target fresh every cfg.Interval.
// Scheduling the same region and key again replaces the previous task.
func Schedule[T any](s *Scheduler, target Target[T], key string, refresh RefreshFunc[T], cfg TaskConfig) (TaskID, error) {
	id := TaskID{Region: target.Name(), Key: key}

	if cfg.Interval <= 0 {
		return id, zerr.With(zerr.With(ErrInvalidInterval, "task", id.String()), "interval", cfg.Interval.String())
	}

	t := &task{
		id:       id,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   s.logger.With().Str("task", id.String()).Logger(),
		done:     make(chan struct{}),
		refresh: func(ctx context.Context) (func(), error) {
			v, err := refresh(ctx)
			if err != nil {
				return nil, err
			}
			return func() { target.Set(key, v, cfg.TTL) }, nil
		},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return id, zerr.With(ErrSchedulerClosed, "task", id.String())
	}
	previous := s.tasks[id]
	t.ctx, t.cancel = context.WithCancel(context.Background())
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	if previous != nil {
		previous.stop()
		t.logger.Info().Msg("Replaced existing refresh task")
	}

	go func() {
		defer s.wg.Done()
		t.loop(&s.wg, cfg.RunImmediately)
	}()

	t.logger.Info().Dur("interval", cfg.Interval).Dur("ttl", cfg.TTL).Msg("Refresh task scheduled")
	return id, nil
}

// Cancel stops the task for region and key. It reports whether a running
// task was found. After Cancel returns no further Set happens for the task;
// an in-flight refresh has its context cancelled and its result discarded.
func (s *Scheduler) Cancel(region, key string) bool {
	s.mu.Lock()
	t, ok := s.tasks[TaskID{Region: region, Key: key}]
	s.mu.Unlock()

	if !ok {
		return false
	}
	return t.stop()
}

// CancelAll stops every task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
	s.logger.Info().Int("tasks", len(tasks)).Msg("All refresh tasks cancelled")
}

// Shutdown cancels every task, rejects new ones and waits until all task
// goroutines (including in-flight refreshes) have returned or ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the state of the task for region and key.
func (s *Scheduler) State(region, key string) (TaskState, bool) {
	s.mu.Lock()
	t, ok := s.tasks[TaskID{Region: region, Key: key}]
	s.mu.Unlock()

	if !ok {
		return Stopped, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, true
}

// Tasks returns a snapshot of all known tasks sorted by id.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID.String() < infos[j].ID.String()
	})
	return infos
}

func (t *task) loop(wg *sync.WaitGroup, runImmediately bool) {
	defer close(t.done)

	if runImmediately {
		t.launch(wg)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.launch(wg)
		}
	}
}

// launch starts a refresh unless one is still in flight.
func (t *task) launch(wg *sync.WaitGroup) {
	t.mu.Lock()
	switch t.state {
	case Stopped:
		t.mu.Unlock()
		return
	case Running:
		t.skipped++
		t.mu.Unlock()
		RefreshSkipped.WithLabelValues(t.id.String()).Inc()
		t.logger.Warn().Msg("Previous refresh still running, tick skipped")
		return
	}
	t.state = Running
	wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer wg.Done()
		t.run()
	}()
}

func (t *task) run() {
	ctx := t.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	commit, err := t.refresh(ctx)
	RefreshDuration.WithLabelValues(t.id.String()).Observe(time.Since(start).Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Stopped {
		RefreshRuns.WithLabelValues(t.id.String(), "discarded").Inc()
		t.logger.Debug().Msg("Task cancelled during refresh, result discarded")
		return
	}

	t.state = Idle
	t.lastRun = start
	t.runs++

	if err != nil {
		t.failures++
		t.lastErr = err
		RefreshRuns.WithLabelValues(t.id.String(), "failure").Inc()
		t.logger.Warn().Err(err).Msg("Background refresh failed, keeping cached value")
		return
	}

	t.lastErr = nil
	commit()
	RefreshRuns.WithLabelValues(t.id.String(), "success").Inc()
	t.logger.Debug().Dur("duration", time.Since(start)).Msg("Background refresh completed")
}

// stop moves the task to Stopped and cancels its context. It reports whether
// the task was still active.
func (t *task) stop() bool {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return false
	}
	t.state = Stopped
	t.mu.Unlock()

	t.cancel()
	<-t.done

	t.logger.Info().Msg("Refresh task cancelled")
	return true
}

func (t *task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := TaskInfo{
		ID:       t.id,
		State:    t.state,
		Interval: t.interval,
		LastRun:  t.lastRun,
		Runs:     t.runs,
		Failures: t.failures,
		Skipped:  t.skipped,
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	return info
}
