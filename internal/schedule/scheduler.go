package schedule

// 定时任务调度器：每个任务一个循环，按固定间隔或每天固定时间触发

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"TourCheckin/pkg/metrics"
	"TourCheckin/pkg/snowflake"
)

// ErrUnknownJob 手动触发了未注册的任务
var ErrUnknownJob = errors.New("unknown job")

// RunFunc 任务主体，只依赖当前时间，可重复执行
type RunFunc func(ctx context.Context, now time.Time) error

// Job 一个定时任务，Interval 与 DailyAt 二选一
type Job struct {
	Name     string
	Interval time.Duration
	DailyAt  *ClockTime
	Timeout  time.Duration
	Run      RunFunc
}

// ClockTime 每天触发的时刻
type ClockTime struct {
	Hour   int
	Minute int
}

type Scheduler struct {
	jobs   []Job
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(logger *zap.Logger, loc *time.Location, jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Start 为每个任务启动一个循环，立即返回；ctx 结束或调用 Stop 后所有循环退出
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	for _, job := range s.jobs {
		if job.Run == nil {
			return fmt.Errorf("job %s has no body", job.Name)
		}
		if job.Interval <= 0 && job.DailyAt == nil {
			return fmt.Errorf("job %s has neither interval nor daily time", job.Name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			if job.DailyAt != nil {
				s.runDailyLoop(ctx, job)
				return
			}
			s.runIntervalLoop(ctx, job)
		}(job)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop 停止所有循环并等待正在执行的任务返回
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// Trigger 立即执行一次指定任务，返回任务本身的错误
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, job)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) runIntervalLoop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info("Job loop started",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runDailyLoop(ctx context.Context, job Job) {
	for {
		now := s.now()
		next := nextDailyRun(now, job.DailyAt.Hour, job.DailyAt.Minute, s.loc)
		delay := next.Sub(now)

		s.logger.Info("Scheduled next daily run",
			zap.String("job", job.Name),
			zap.Time("next_run", next),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = s.runJob(ctx, job)
		}
	}
}

// runJob 单次执行的失败边界：超时、panic 与错误都只记录，不影响下一次执行
func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 生成器未初始化时 run_id 为空
	runID, _ := snowflake.NextMessageID("run")

	now := s.now()
	start := time.Now()
	log := s.logger.With(zap.String("job", job.Name), zap.String("run_id", runID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			log.Error("Job panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}

		status := "success"
		if err != nil {
			status = "failed"
		}
		elapsed := time.Since(start)
		metrics.RecordJobRun(ctx, job.Name, status, elapsed.Seconds())

		if err != nil {
			log.Error("Job run failed", zap.Duration("duration", elapsed), zap.Error(err))
			return
		}
		log.Info("Job run completed", zap.Duration("duration", elapsed))
	}()

	return job.Run(runCtx, now.In(s.loc))
}

// nextDailyRun 下一次 hour:minute，已过则顺延到明天
func nextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
