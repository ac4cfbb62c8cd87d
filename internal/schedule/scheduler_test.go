package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"TourCheckin/config"
	"TourCheckin/internal/service"
)

var testLoc = time.FixedZone("ICT", 7*60*60)

func TestNextDailyRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2024, 1, 11, 0, 30, 0, 0, testLoc), time.Date(2024, 1, 11, 1, 0, 0, 0, testLoc)},
		{"exactly now moves to tomorrow", time.Date(2024, 1, 11, 1, 0, 0, 0, testLoc), time.Date(2024, 1, 12, 1, 0, 0, 0, testLoc)},
		{"already passed", time.Date(2024, 1, 11, 13, 0, 0, 0, testLoc), time.Date(2024, 1, 12, 1, 0, 0, 0, testLoc)},
		// UTC 18:30 已是本地次日 01:30
		{"other zone input", time.Date(2024, 1, 10, 18, 30, 0, 0, time.UTC), time.Date(2024, 1, 12, 1, 0, 0, 0, testLoc)},
		{"month end", time.Date(2024, 1, 31, 23, 0, 0, 0, testLoc), time.Date(2024, 2, 1, 1, 0, 0, 0, testLoc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextDailyRun(tt.now, 1, 0, testLoc); !got.Equal(tt.want) {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunJobIsFailureBoundary(t *testing.T) {
	fixed := time.Date(2024, 1, 11, 9, 20, 0, 0, time.UTC)
	var seen time.Time
	s := New(zap.NewNop(), testLoc,
		Job{Name: "ok", Interval: time.Minute, Run: func(_ context.Context, now time.Time) error {
			seen = now
			return nil
		}},
		Job{Name: "fails", Interval: time.Minute, Run: func(context.Context, time.Time) error {
			return errors.New("db down")
		}},
		Job{Name: "panics", Interval: time.Minute, Run: func(context.Context, time.Time) error {
			panic("nil map")
		}},
	)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	if err := s.Trigger(ctx, "ok"); err != nil {
		t.Fatal(err)
	}
	if !seen.Equal(fixed) || seen.Location() != testLoc {
		t.Fatalf("job should see now in the business zone, got %s", seen)
	}
	if err := s.Trigger(ctx, "fails"); err == nil {
		t.Fatal("expected job error")
	}
	if err := s.Trigger(ctx, "panics"); err == nil {
		t.Fatal("panic should be converted to an error")
	}
	if err := s.Trigger(ctx, "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
}

func TestRunJobAppliesTimeout(t *testing.T) {
	s := New(zap.NewNop(), testLoc, Job{
		Name:     "slow",
		Interval: time.Minute,
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context, _ time.Time) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err := s.Trigger(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStartStop(t *testing.T) {
	var runs int32
	s := New(zap.NewNop(), testLoc, Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context, time.Time) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("keeps failing")
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&runs) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if n := atomic.LoadInt32(&runs); n < 3 {
		t.Fatalf("failing job should keep running, runs=%d", n)
	}
	after := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&runs) != after {
		t.Fatal("job ran after Stop")
	}
	s.Stop()
}

func TestStartRejectsInvalidJobs(t *testing.T) {
	if err := New(zap.NewNop(), testLoc, Job{Name: "empty", Interval: time.Minute}).Start(context.Background()); err == nil {
		t.Fatal("job without body should be rejected")
	}
	noop := func(context.Context, time.Time) error { return nil }
	if err := New(zap.NewNop(), testLoc, Job{Name: "never", Run: noop}).Start(context.Background()); err == nil {
		t.Fatal("job without schedule should be rejected")
	}
}

type fakeBodies struct {
	calls []string
}

func (f *fakeBodies) AutoCheckIn(context.Context, time.Time) (*service.SweepResult, error) {
	f.calls = append(f.calls, service.JobAutoCheckIn)
	return &service.SweepResult{}, nil
}

func (f *fakeBodies) AutoMarkMissed(context.Context, time.Time) (*service.SweepResult, error) {
	f.calls = append(f.calls, service.JobAutoMarkMissed)
	return &service.SweepResult{}, nil
}

func (f *fakeBodies) RefreshInFlight(context.Context, time.Time) (*service.InFlightRefreshResult, error) {
	f.calls = append(f.calls, JobActivityStatusRefresh)
	return &service.InFlightRefreshResult{}, nil
}

func (f *fakeBodies) DailyRollup(context.Context, time.Time) (*service.RollupResult, error) {
	f.calls = append(f.calls, service.JobDailyRollup)
	return &service.RollupResult{}, errors.New("publish failed")
}

func TestJobsFromConfig(t *testing.T) {
	cfg := config.Config{
		Environment:             "production",
		AutoCheckInInterval:     5 * time.Minute,
		AutoMissedInterval:      10 * time.Minute,
		ActivityRefreshInterval: 5 * time.Minute,
		DailyRollupHour:         1,
		JobTimeout:              2 * time.Minute,
	}
	bodies := &fakeBodies{}
	jobs := Jobs(cfg, bodies, bodies, bodies)
	if len(jobs) != 4 {
		t.Fatalf("expected 4 jobs, got %d", len(jobs))
	}

	byName := map[string]Job{}
	for _, job := range jobs {
		byName[job.Name] = job
	}
	if byName[service.JobAutoCheckIn].Interval != 5*time.Minute || byName[service.JobAutoMarkMissed].Interval != 10*time.Minute {
		t.Fatal("intervals should follow config")
	}
	if rollup := byName[service.JobDailyRollup]; rollup.DailyAt == nil || rollup.DailyAt.Hour != 1 {
		t.Fatalf("rollup should run daily at 01:00, got %+v", rollup.DailyAt)
	}

	s := New(zap.NewNop(), testLoc, jobs...)
	for _, name := range []string{service.JobAutoCheckIn, service.JobAutoMarkMissed, JobActivityStatusRefresh} {
		if err := s.Trigger(context.Background(), name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if err := s.Trigger(context.Background(), service.JobDailyRollup); err == nil {
		t.Fatal("rollup error should surface from Trigger")
	}
	if len(bodies.calls) != 4 {
		t.Fatalf("expected every body to run once, got %v", bodies.calls)
	}

	cfg.Environment = "development"
	for _, job := range Jobs(cfg, bodies, bodies, bodies) {
		if job.Interval != time.Minute || job.DailyAt != nil {
			t.Fatalf("development job %s should run every minute, got %+v", job.Name, job)
		}
	}
}
