// Package maintenance runs periodic housekeeping for a running proxy:
// sweeping stale files out of the temp directory, pruning old journal
// flows and forgetting idle rate-limited clients.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mitmgate-hq/mitmgate/pkg/journal"
	"mitmgate-hq/mitmgate/pkg/ratelimit"
	"mitmgate-hq/mitmgate/pkg/workdir"
)

// RateLimitEvictSchedule is how often idle client limits are dropped.
const RateLimitEvictSchedule = "*/5 * * * *"

// ErrUnknownJob is returned by RunNow for a name that was never added.
var ErrUnknownJob = errors.New("maintenance: unknown job")

// Job is a named unit of housekeeping run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs Jobs on their cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	jobs    map[string]Job
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.With("component", "maintenance"),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job. Jobs with an empty schedule are skipped. Jobs must be
// added before Start.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Schedule == "" {
		s.logger.Info("job schedule not configured, skipping", "job", job.Name)
		return nil
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start schedules every registered job. The scheduler stops when ctx is
// cancelled. Starting with no jobs is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || len(s.jobs) == 0 {
		return nil
	}

	for name, job := range s.jobs {
		job := job
		id, err := s.cron.AddFunc(job.Schedule, func() {
			s.run(ctx, job)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		s.entries[name] = id
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("maintenance scheduler started", "jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunNow runs the named job immediately on the calling goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("maintenance job failed", "job", job.Name, "error", err)
		return err
	}
	s.logger.Debug("maintenance job completed", "job", job.Name, "duration", time.Since(start))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("maintenance scheduler stopped")
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run of the named job, or nil if it is
// not scheduled.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	return &next
}

// TmpSweepJob removes files older than maxAge from the temp directory.
func TmpSweepJob(dirs workdir.Dirs, maxAge time.Duration, schedule string, logger *slog.Logger) Job {
	return Job{
		Name:     "tmp-sweep",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			removed, err := dirs.Sweep(maxAge, time.Now())
			if err != nil {
				return err
			}
			if removed > 0 {
				logger.Info("swept temp directory", "removed", removed, "dir", dirs.Tmp)
			}
			return nil
		},
	}
}

// JournalPruneJob deletes journal flows older than retention.
func JournalPruneJob(store journal.Store, retention time.Duration, schedule string, logger *slog.Logger) Job {
	return Job{
		Name:     "journal-prune",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			deleted, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("pruned journal", "deleted_count", deleted)
			}
			return nil
		},
	}
}

// RateLimitEvictJob drops per-client limiter state that has gone idle.
func RateLimitEvictJob(limiter *ratelimit.Limiter, logger *slog.Logger) Job {
	return Job{
		Name:     "ratelimit-evict",
		Schedule: RateLimitEvictSchedule,
		Run: func(context.Context) error {
			if n := limiter.Evict(); n > 0 {
				logger.Debug("evicted idle clients", "removed", n, "remaining", limiter.Clients())
			}
			return nil
		},
	}
}
