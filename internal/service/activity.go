package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/metrics"
	"TourCheckin/utils"
)

// InFlightStatuses 需要自动化任务关注的团期状态
var InFlightStatuses = []model.DepartureStatus{
	model.DepartureStatusConfirmed,
	model.DepartureStatusInProgress,
}

// ActivityStatusChange 一次活动状态变化
type ActivityStatusChange struct {
	ActivityID int64                `json:"activity_id"`
	From       model.ActivityStatus `json:"from"`
	To         model.ActivityStatus `json:"to"`
}

// RefreshResult 单个团期刷新结果
type RefreshResult struct {
	DepartureID int64                  `json:"departure_id"`
	Checked     int                    `json:"checked"`
	Updated     []ActivityStatusChange `json:"updated"`
}

// InFlightRefreshResult 在途团期批量刷新结果
type InFlightRefreshResult struct {
	Departures int `json:"departures"`
	Updated    int `json:"updated"`
	Failed     int `json:"failed"`
}

// ActivityService 活动状态引擎，状态按团期分别推进
type ActivityService struct {
	directory repository.DirectoryRepository
	statuses  repository.ActivityStatusRepository
	loc       *time.Location
	logger    *zap.Logger
}

func NewActivityService(
	directory repository.DirectoryRepository,
	statuses repository.ActivityStatusRepository,
	loc *time.Location,
	logger *zap.Logger,
) *ActivityService {
	return &ActivityService{
		directory: directory,
		statuses:  statuses,
		loc:       loc,
		logger:    logger,
	}
}

// DeriveActivityStatus 根据时间推导活动状态，只前进不回退，cancelled 保持不变
func DeriveActivityStatus(current model.ActivityStatus, startsAt time.Time, endsAt *time.Time, now time.Time) model.ActivityStatus {
	if current.IsFinal() {
		return current
	}

	if endsAt != nil && now.After(*endsAt) {
		return model.ActivityStatusClosed
	}

	if current == model.ActivityStatusNotStarted && !now.Before(startsAt) {
		return model.ActivityStatusInProgress
	}

	return current
}

// RefreshActivityStatuses 刷新团期下所有活动的状态，可重入
func (s *ActivityService) RefreshActivityStatuses(ctx context.Context, departureID int64, now time.Time) (*RefreshResult, error) {
	departure, err := s.directory.GetDeparture(ctx, departureID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.DepartureNotFound
		}
		return nil, fmt.Errorf("failed to load departure %d: %w", departureID, err)
	}
	result, _, err := s.refreshDeparture(ctx, departure, now)
	return result, err
}

// StatusesOn 活动在团期上的当前状态，按活动 ID 索引
func (s *ActivityService) StatusesOn(
	ctx context.Context,
	departureID int64,
	activities []*model.ItineraryActivity,
) (map[int64]model.ActivityStatus, error) {
	stored, err := s.statuses.ListByDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}
	statuses := make(map[int64]model.ActivityStatus, len(activities))
	for _, activity := range activities {
		statuses[activity.ID] = activity.StatusOn(stored)
	}
	return statuses, nil
}

// refreshDeparture 推进团期上的活动状态，返回刷新后的状态供调用方直接使用
func (s *ActivityService) refreshDeparture(
	ctx context.Context,
	departure *model.Departure,
	now time.Time,
) (*RefreshResult, map[int64]model.ActivityStatus, error) {
	activities, err := s.directory.ListActivities(ctx, departure.TourVersionID, false)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := s.StatusesOn(ctx, departure.ID, activities)
	if err != nil {
		return nil, nil, err
	}

	result := &RefreshResult{DepartureID: departure.ID, Updated: []ActivityStatusChange{}}
	for _, activity := range activities {
		current := statuses[activity.ID]
		if current.IsFinal() {
			continue
		}
		result.Checked++

		schedule, err := activity.ScheduleFor(departure.StartDate, s.loc)
		if err != nil {
			s.logger.Warn("Skipping activity with invalid schedule",
				zap.Int64("departure_id", departure.ID),
				zap.Int64("activity_id", activity.ID),
				zap.Error(err),
			)
			continue
		}

		next := DeriveActivityStatus(current, schedule.StartsAt, schedule.EndsAt, now)
		if next == current {
			continue
		}

		// 条件更新，并发刷新时只有一个生效
		updated, err := s.statuses.Advance(ctx, departure.ID, activity.ID, current, next)
		if err != nil {
			return nil, nil, err
		}
		if !updated {
			continue
		}

		metrics.RecordActivityStatusUpdate(ctx, string(current), string(next))
		result.Updated = append(result.Updated, ActivityStatusChange{
			ActivityID: activity.ID,
			From:       current,
			To:         next,
		})
		statuses[activity.ID] = next
	}

	if len(result.Updated) > 0 {
		s.logger.Info("Activity statuses refreshed",
			zap.Int64("departure_id", departure.ID),
			zap.Int("checked", result.Checked),
			zap.Int("updated", len(result.Updated)),
		)
	}
	return result, statuses, nil
}

// RefreshInFlight 刷新今天在途的所有团期，单个团期失败不影响其它团期
// 同时处理的团期数与签到扫描相同
func (s *ActivityService) RefreshInFlight(ctx context.Context, now time.Time) (*InFlightRefreshResult, error) {
	today := utils.StartOfDay(now, s.loc)
	departures, err := s.directory.ListDeparturesCovering(ctx, today, InFlightStatuses)
	if err != nil {
		return nil, err
	}

	result := &InFlightRefreshResult{Departures: len(departures)}
	if len(departures) == 0 {
		return result, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, 0)
	sem := make(chan struct{}, sweepConcurrency)

	for _, departure := range departures {
		wg.Add(1)
		sem <- struct{}{}
		go func(departure *model.Departure) {
			defer wg.Done()
			defer func() { <-sem }()

			refreshed, _, err := s.refreshDeparture(ctx, departure, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				s.logger.Error("Failed to refresh departure activities",
					zap.Int64("departure_id", departure.ID),
					zap.Error(err),
				)
				return
			}
			result.Updated += len(refreshed.Updated)
		}(departure)
	}

	wg.Wait()

	result.Failed = len(errs)
	if len(errs) > 0 {
		return result, fmt.Errorf("activity refresh completed with %d errors", len(errs))
	}
	return result, nil
}
