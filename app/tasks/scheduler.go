package tasks

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/search"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultRetentionDays   = 30
	DefaultCleanupInterval = 24 * time.Hour
)

type Options struct {
	SkipInitialRun bool
	RetentionDays  int
}

// Status is a snapshot of the scheduler. NextRuns are estimated when a search
// is scheduled and are not updated after each run.
type Status struct {
	Running   bool
	Scheduled []string
	NextRuns  map[string]time.Time
}

// Scheduler runs every enabled search on its own timer and sweeps the
// listing history once a day.
type Scheduler struct {
	searches SearchSource
	runner   SearchRunner
	cleaner  HistoryCleaner
	logger   *slog.Logger
	opts     Options

	intervalFunc    func(def *search.Definition) time.Duration
	jitterFunc      func(lo, hi time.Duration) time.Duration
	cleanupInterval time.Duration

	mu       sync.Mutex
	running  bool
	nextRuns map[string]time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduler(searches SearchSource, runner SearchRunner, cleaner HistoryCleaner, opts Options, logger *slog.Logger) *Scheduler {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}

	return &Scheduler{
		searches:        searches,
		runner:          runner,
		cleaner:         cleaner,
		logger:          logger,
		opts:            opts,
		intervalFunc:    (*search.Definition).Interval,
		jitterFunc:      randomJitter,
		cleanupInterval: DefaultCleanupInterval,
		nextRuns:        make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	defs := s.searches.GetEnabledSearches()
	for _, def := range defs {
		s.schedule(def)
	}

	if s.cleaner != nil {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	s.logger.Info("Scheduler started", "searches", len(defs), "skip_initial_run", s.opts.SkipInitialRun)
}

// Stop cancels all pending waits and blocks until running searches finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.nextRuns = make(map[string]time.Time)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// Reload reschedules all searches from the current configuration.
func (s *Scheduler) Reload() {
	s.Stop()
	s.Start()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:   s.running,
		Scheduled: make([]string, 0, len(s.nextRuns)),
		NextRuns:  make(map[string]time.Time, len(s.nextRuns)),
	}
	for name, next := range s.nextRuns {
		status.Scheduled = append(status.Scheduled, name)
		status.NextRuns[name] = next
	}
	slices.Sort(status.Scheduled)
	return status
}

// schedule must be called with s.mu held.
func (s *Scheduler) schedule(def *search.Definition) {
	interval := s.intervalFunc(def)
	ctx := s.ctx

	next := time.Now()
	if s.opts.SkipInitialRun {
		next = next.Add(interval)
	}
	s.nextRuns[def.Name] = next

	s.logger.Debug("Search scheduled", "search", def.Name, "frequency", def.Frequency, "interval", interval, "next_run", next)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if !s.opts.SkipInitialRun {
			s.execute(ctx, NewRunSearchTask(def.Name, s.runner, s.logger))
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lo, hi := def.JitterBounds()
				if !sleep(ctx, s.jitterFunc(lo, hi)) {
					return
				}
				s.execute(ctx, NewRunSearchTask(def.Name, s.runner, s.logger))
			}
		}
	}()
}

func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ctx := s.ctx
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, NewCleanupHistoryTask(s.cleaner, s.opts.RetentionDays, s.logger))
		}
	}
}

// execute runs a task to completion even if the scheduler is stopped meanwhile.
func (s *Scheduler) execute(ctx context.Context, task TaskInterface) {
	task.Start()

	if err := task.Execute(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("Task execution failed",
			"type", string(task.GetType()),
			"id", task.GetID(),
			"search", task.GetSearchName(),
			"duration", task.GetDuration(),
			"error", err)
	}
}

func randomJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
