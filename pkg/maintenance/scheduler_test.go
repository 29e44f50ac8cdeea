package maintenance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"mitmgate-hq/mitmgate/pkg/journal"
	"mitmgate-hq/mitmgate/pkg/ratelimit"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/workdir"
)

func noop(context.Context) error { return nil }

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{name: "valid daily schedule", schedule: "0 3 * * *", wantRunning: true},
		{name: "valid every-30-minutes schedule", schedule: "*/30 * * * *", wantRunning: true},
		{name: "empty schedule - skipped, not running", schedule: ""},
		{name: "invalid schedule", schedule: "invalid cron", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(logging.Discard())

			err := s.Add(Job{Name: "job", Schedule: tt.schedule, Run: noop})
			if (err != nil) != tt.wantError {
				t.Fatalf("Add() error = %v, wantError %v", err, tt.wantError)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := s.Start(ctx); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning {
				if next := s.NextRun("job"); next == nil || next.IsZero() {
					t.Error("NextRun() returned no time for a scheduled job")
				}
			}

			s.Stop()
			if s.IsRunning() {
				t.Error("scheduler still running after Stop()")
			}
		})
	}
}

func TestScheduler_DuplicateJob(t *testing.T) {
	s := NewScheduler(logging.Discard())
	if err := s.Add(Job{Name: "a", Schedule: "@hourly", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Job{Name: "a", Schedule: "@daily", Run: noop}); err == nil {
		t.Error("duplicate job name should be rejected")
	}
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := NewScheduler(logging.Discard())

	var runs atomic.Int32
	err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("job never ran")
	}

	cancel()
	deadline = time.Now().Add(5 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("scheduler did not stop after context cancellation")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(logging.Discard())
	boom := errors.New("boom")
	_ = s.Add(Job{Name: "fail", Schedule: "@daily", Run: func(context.Context) error { return boom }})

	if err := s.RunNow(context.Background(), "fail"); !errors.Is(err, boom) {
		t.Errorf("RunNow() error = %v, want boom", err)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("RunNow(missing) error = %v, want ErrUnknownJob", err)
	}
}

func TestTmpSweepJob(t *testing.T) {
	dirs := workdir.Dirs{Log: t.TempDir(), Tmp: t.TempDir()}
	old := filepath.Join(dirs.Tmp, "old.tmp")
	if err := os.WriteFile(old, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(logging.Discard())
	if err := s.Add(TmpSweepJob(dirs, time.Hour, "@hourly", logging.Discard())); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "tmp-sweep"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale temp file not removed")
	}
}

func TestJournalPruneJob(t *testing.T) {
	store := journal.NewMemoryStore()
	ctx := context.Background()
	_ = store.Record(ctx, &journal.Flow{ID: "old", StartedAt: time.Now().Add(-48 * time.Hour)})
	_ = store.Record(ctx, &journal.Flow{ID: "new", StartedAt: time.Now()})

	job := JournalPruneJob(store, 24*time.Hour, "@hourly", logging.Discard())
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	flows, _ := store.Query(ctx, journal.Query{})
	if len(flows) != 1 || flows[0].ID != "new" {
		t.Errorf("remaining flows = %v, want [new]", flows)
	}
}

func TestRateLimitEvictJob(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxConcurrent: 1, IdleTTL: time.Millisecond})
	res := limiter.Acquire("10.0.0.1")
	res.Release()
	time.Sleep(5 * time.Millisecond)

	job := RateLimitEvictJob(limiter, logging.Discard())
	if job.Schedule != RateLimitEvictSchedule {
		t.Errorf("Schedule = %q, want %q", job.Schedule, RateLimitEvictSchedule)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := limiter.Clients(); got != 0 {
		t.Errorf("Clients() = %d after eviction, want 0", got)
	}
}
