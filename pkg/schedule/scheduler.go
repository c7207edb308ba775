package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/speakbill/pkg/logger"
)

// JobFunc is the unit of work run by the Scheduler.
type JobFunc func(ctx context.Context) error

// Scheduler runs registered jobs in-process when their schedule comes due.
// A job never overlaps with itself: if a run is still in flight when the next
// tick fires, that tick is skipped for the job.
type Scheduler struct {
	jobs     map[string]*job
	mu       sync.Mutex
	wg       sync.WaitGroup
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc
	nextRun  time.Time
	running  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often the scheduler checks for due jobs.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a new job scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a periodic job. The first run is the schedule's next
// occurrence after registration.
func (s *Scheduler) AddJob(name string, sched Schedule, fn JobFunc) error {
	if name == "" || sched == nil || fn == nil {
		return ErrInvalidJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}

	j := &job{name: name, schedule: sched, fn: fn, nextRun: sched.Next(s.now())}
	s.jobs[name] = j

	s.logger.Info("registered periodic job",
		slog.String("job", name),
		slog.String("schedule", sched.String()),
		slog.Time("next_run", j.nextRun))

	return nil
}

// Start checks for due jobs until ctx is canceled, then waits for in-flight
// runs to return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()

	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick launches every job that is due and not already running.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.running || j.nextRun.After(now) {
			continue
		}

		j.running = true
		for !j.nextRun.After(now) {
			j.nextRun = j.schedule.Next(j.nextRun)
		}

		s.wg.Add(1)
		go s.run(ctx, j)
	}
}

// Wait blocks until all in-flight runs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "periodic job panicked",
				slog.String("job", j.name),
				slog.Any("panic", r))
		}
	}()

	start := s.now()
	if err := j.fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "periodic job failed",
			slog.String("job", j.name),
			logger.Error(err),
			logger.Duration(s.now().Sub(start)))
		return
	}

	s.logger.InfoContext(ctx, "periodic job completed",
		slog.String("job", j.name),
		logger.Duration(s.now().Sub(start)))
}
