package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/metrics"
)

// PairFailure 单个 (客人, 活动) 插入失败
type PairFailure struct {
	GuestID    int64  `json:"guest_id"`
	ActivityID int64  `json:"activity_id"`
	Error      string `json:"error"`
}

// InitializeResult 初始化结果，Required = Guests × Activities
type InitializeResult struct {
	DepartureID int64         `json:"departure_id"`
	Guests      int           `json:"guests"`
	Activities  int           `json:"activities"`
	Required    int           `json:"required"`
	Existing    int           `json:"existing"`
	Created     int           `json:"created"`
	Failed      []PairFailure `json:"failed"`
}

// RosterNotifier 把初始化交给 worker 异步执行
type RosterNotifier interface {
	PublishRosterChanged(ctx context.Context, msg model.RosterChangedMessage) error
}

// ReasonManualRequest 通过接口请求的异步初始化
const ReasonManualRequest = "manual_request"

// InitializerService 为团期批量生成签到记录
type InitializerService struct {
	directory repository.DirectoryRepository
	checkins  repository.CheckinRepository
	notifier  RosterNotifier
	loc       *time.Location
	logger    *zap.Logger
}

func NewInitializerService(
	directory repository.DirectoryRepository,
	checkins repository.CheckinRepository,
	notifier RosterNotifier,
	loc *time.Location,
	logger *zap.Logger,
) *InitializerService {
	return &InitializerService{
		directory: directory,
		checkins:  checkins,
		notifier:  notifier,
		loc:       loc,
		logger:    logger,
	}
}

// InitializeFromRoster 供名单变更消费者使用：有组合插入失败时返回错误，让消息重新投递
// 初始化可重复执行，重投只会补上缺失的组合
func (s *InitializerService) InitializeFromRoster(ctx context.Context, departureID int64) error {
	result, err := s.InitializeCheckins(ctx, departureID)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("departure %d: %d of %d check-in pairs failed, first: %s",
			departureID, len(result.Failed), result.Required, result.Failed[0].Error)
	}
	return nil
}

// RequestInitialize 校验团期存在后发布名单变更消息，由 worker 完成初始化
func (s *InitializerService) RequestInitialize(ctx context.Context, departureID int64) error {
	if s.notifier == nil {
		return pkgerrors.QueueUnavailable
	}
	if _, err := s.directory.GetDeparture(ctx, departureID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.DepartureNotFound
		}
		return fmt.Errorf("failed to load departure %d: %w", departureID, err)
	}
	return s.notifier.PublishRosterChanged(ctx, model.RosterChangedMessage{
		DepartureID: departureID,
		Reason:      ReasonManualRequest,
	})
}

// InitializeCheckins 为 客人 × 需签到活动 中尚不存在的组合插入 pending 记录，可重复执行
func (s *InitializerService) InitializeCheckins(ctx context.Context, departureID int64) (*InitializeResult, error) {
	departure, err := s.directory.GetDeparture(ctx, departureID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.DepartureNotFound
		}
		return nil, fmt.Errorf("failed to load departure %d: %w", departureID, err)
	}

	guests, err := s.directory.ListGuests(ctx, departure.ID)
	if err != nil {
		return nil, err
	}

	all, err := s.directory.ListActivities(ctx, departure.TourVersionID, false)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, pkgerrors.ItineraryNotFound
	}

	type plannedActivity struct {
		activity *model.ItineraryActivity
		schedule model.ActivitySchedule
	}
	activities := make([]plannedActivity, 0, len(all))
	for _, activity := range all {
		// 已取消的活动照常生成，窗口结束后由 AutoMarkMissed 结清
		if !activity.RequiresCheckIn {
			continue
		}
		schedule, err := activity.ScheduleFor(departure.StartDate, s.loc)
		if err != nil {
			return nil, err
		}
		activities = append(activities, plannedActivity{activity: activity, schedule: schedule})
	}

	result := &InitializeResult{
		DepartureID: departure.ID,
		Guests:      len(guests),
		Activities:  len(activities),
		Required:    len(guests) * len(activities),
		Failed:      []PairFailure{},
	}
	if result.Required == 0 {
		return result, nil
	}

	existingPairs, err := s.checkins.ExistingPairs(ctx, departure.ID)
	if err != nil {
		return nil, err
	}
	existing := make(map[model.CheckinPair]struct{}, len(existingPairs))
	for _, pair := range existingPairs {
		existing[pair] = struct{}{}
	}

	// 差集：只插入缺失的组合
	missing := make([]*model.GuestActivityCheckin, 0, result.Required)
	for _, guest := range guests {
		for _, planned := range activities {
			pair := model.CheckinPair{DepartureGuestID: guest.ID, ActivityID: planned.activity.ID}
			if _, ok := existing[pair]; ok {
				result.Existing++
				continue
			}
			missing = append(missing, &model.GuestActivityCheckin{
				DepartureID:      departure.ID,
				DepartureGuestID: guest.ID,
				ActivityID:       planned.activity.ID,
				ActivityDate:     planned.schedule.Date,
				ScheduledTime:    planned.schedule.StartsAt.Format(model.TimeOfDayLayout),
				ScheduledAt:      planned.schedule.StartsAt,
				Status:           model.CheckinStatusPending,
			})
		}
	}

	if len(missing) > 0 {
		created, err := s.checkins.CreateBatch(ctx, missing)
		if err != nil {
			// 批量失败时逐条插入，各组合互不影响
			s.logger.Warn("Batch insert failed, falling back to per-pair inserts",
				zap.Int64("departure_id", departure.ID),
				zap.Int("missing", len(missing)),
				zap.Error(err),
			)
			created = 0
			for _, record := range missing {
				ok, err := s.checkins.Create(ctx, record)
				if err != nil {
					result.Failed = append(result.Failed, PairFailure{
						GuestID:    record.DepartureGuestID,
						ActivityID: record.ActivityID,
						Error:      err.Error(),
					})
					continue
				}
				if ok {
					created++
				}
			}
		}
		result.Created = int(created)
		metrics.RecordCheckinRecordsCreated(ctx, created)
	}

	guestIDs := make([]int64, 0, len(guests))
	for _, guest := range guests {
		guestIDs = append(guestIDs, guest.ID)
	}
	if err := s.checkins.RecomputeGuestCounters(ctx, guestIDs); err != nil {
		return nil, err
	}

	s.logger.Info("Check-ins initialized",
		zap.Int64("departure_id", departure.ID),
		zap.Int("guests", result.Guests),
		zap.Int("activities", result.Activities),
		zap.Int("existing", result.Existing),
		zap.Int("created", result.Created),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}
