package schedule

import (
	"context"
	"time"

	"TourCheckin/config"
	"TourCheckin/internal/service"
)

const JobActivityStatusRefresh = "activity_status_refresh"

// developmentInterval 本地调试时所有周期任务都缩短为 1 分钟
const developmentInterval = 1 * time.Minute

type CheckinSweeper interface {
	AutoCheckIn(ctx context.Context, now time.Time) (*service.SweepResult, error)
	AutoMarkMissed(ctx context.Context, now time.Time) (*service.SweepResult, error)
}

type ActivityRefresher interface {
	RefreshInFlight(ctx context.Context, now time.Time) (*service.InFlightRefreshResult, error)
}

type DailyRollup interface {
	DailyRollup(ctx context.Context, now time.Time) (*service.RollupResult, error)
}

// Jobs 按配置组装四个任务
func Jobs(cfg config.Config, checkins CheckinSweeper, activities ActivityRefresher, rollups DailyRollup) []Job {
	autoCheckIn := cfg.AutoCheckInInterval
	autoMissed := cfg.AutoMissedInterval
	refresh := cfg.ActivityRefreshInterval
	if cfg.IsDevelopment() {
		autoCheckIn, autoMissed, refresh = developmentInterval, developmentInterval, developmentInterval
	}

	rollupJob := Job{
		Name:    service.JobDailyRollup,
		DailyAt: &ClockTime{Hour: cfg.DailyRollupHour},
		Timeout: cfg.JobTimeout,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := rollups.DailyRollup(ctx, now)
			return err
		},
	}
	if cfg.IsDevelopment() {
		rollupJob.DailyAt = nil
		rollupJob.Interval = developmentInterval
	}

	return []Job{
		{
			Name:     service.JobAutoCheckIn,
			Interval: autoCheckIn,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := checkins.AutoCheckIn(ctx, now)
				return err
			},
		},
		{
			Name:     service.JobAutoMarkMissed,
			Interval: autoMissed,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := checkins.AutoMarkMissed(ctx, now)
				return err
			},
		},
		{
			Name:     JobActivityStatusRefresh,
			Interval: refresh,
			Timeout:  cfg.JobTimeout,
			Run: func(ctx context.Context, now time.Time) error {
				_, err := activities.RefreshInFlight(ctx, now)
				return err
			},
		},
		rollupJob,
	}
}
