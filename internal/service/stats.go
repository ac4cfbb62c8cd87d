package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/utils"
)

// StatusCounts 各状态计数与出勤率
type StatusCounts struct {
	Total          int64   `json:"total"`
	Pending        int64   `json:"pending"`
	CheckedIn      int64   `json:"checked_in"`
	AutoChecked    int64   `json:"auto_checked"`
	Missed         int64   `json:"missed"`
	Excused        int64   `json:"excused"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// NewStatusCounts 由分组计数构造，未知状态只计入 Total
func NewStatusCounts(counts repository.StatusCount) StatusCounts {
	var sc StatusCounts
	for status, n := range counts {
		sc.Total += n
		switch status {
		case model.CheckinStatusPending:
			sc.Pending = n
		case model.CheckinStatusCheckedIn:
			sc.CheckedIn = n
		case model.CheckinStatusAutoChecked:
			sc.AutoChecked = n
		case model.CheckinStatusMissed:
			sc.Missed = n
		case model.CheckinStatusExcused:
			sc.Excused = n
		}
	}
	sc.AttendanceRate = AttendanceRate(sc.Attended(), sc.Total)
	return sc
}

// Attended checked_in + auto_checked
func (sc StatusCounts) Attended() int64 {
	return sc.CheckedIn + sc.AutoChecked
}

// AsMap 按状态名输出，用于事件与快照
func (sc StatusCounts) AsMap() map[string]int64 {
	return map[string]int64{
		string(model.CheckinStatusPending):     sc.Pending,
		string(model.CheckinStatusCheckedIn):   sc.CheckedIn,
		string(model.CheckinStatusAutoChecked): sc.AutoChecked,
		string(model.CheckinStatusMissed):      sc.Missed,
		string(model.CheckinStatusExcused):     sc.Excused,
	}
}

// AttendanceRate 百分比保留两位小数，total 为 0 时返回 0
func AttendanceRate(attended, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*100*100) / 100
}

type DepartureStats struct {
	DepartureID int64                 `json:"departure_id"`
	Code        string                `json:"code"`
	Status      model.DepartureStatus `json:"status"`
	StatusCounts
}

type ActivityStats struct {
	DepartureID  int64                `json:"departure_id"`
	ActivityID   int64                `json:"activity_id"`
	Name         string               `json:"name"`
	ActivityDate string               `json:"activity_date"`
	Status       model.ActivityStatus `json:"activity_status"`
	StatusCounts
}

// ActiveActivity 正处于签到窗口内且仍有客人未签到的活动
type ActiveActivity struct {
	DepartureID       int64     `json:"departure_id"`
	ActivityID        int64     `json:"activity_id"`
	Name              string    `json:"name"`
	Location          string    `json:"location"`
	ActivityDate      string    `json:"activity_date"`
	ScheduledTime     string    `json:"scheduled_time"`
	ScheduledAt       time.Time `json:"scheduled_at"`
	WindowOpens       time.Time `json:"window_opens"`
	WindowCloses      time.Time `json:"window_closes"`
	Pending           int64     `json:"pending"`
	Total             int64     `json:"total"`
	MinutesUntilStart int       `json:"minutes_until_start"` // 已开始则为负数
}

// TodayActivity 团期今天需要签到的活动
type TodayActivity struct {
	ActivityID     int64                `json:"activity_id"`
	Name           string               `json:"name"`
	ActivityType   string               `json:"activity_type"`
	Location       string               `json:"location"`
	StartTime      string               `json:"start_time"`
	EndTime        *string              `json:"end_time,omitempty"`
	ActivityStatus model.ActivityStatus `json:"activity_status"`
	WindowOpens    time.Time            `json:"window_opens"`
	WindowCloses   time.Time            `json:"window_closes"`
	Counts         StatusCounts         `json:"counts"`
}

// StatsService 只读聚合，不做缓存
type StatsService struct {
	directory  repository.DirectoryRepository
	checkins   repository.CheckinRepository
	activities *ActivityService
	loc        *time.Location
	logger     *zap.Logger
}

func NewStatsService(
	directory repository.DirectoryRepository,
	checkins repository.CheckinRepository,
	activities *ActivityService,
	loc *time.Location,
	logger *zap.Logger,
) *StatsService {
	return &StatsService{
		directory:  directory,
		checkins:   checkins,
		activities: activities,
		loc:        loc,
		logger:     logger,
	}
}

func (s *StatsService) DepartureStats(ctx context.Context, departureID int64) (*DepartureStats, error) {
	departure, err := s.loadDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}

	counts, err := s.checkins.CountByStatus(ctx, departure.ID, nil)
	if err != nil {
		return nil, err
	}

	return &DepartureStats{
		DepartureID:  departure.ID,
		Code:         departure.Code,
		Status:       departure.Status,
		StatusCounts: NewStatusCounts(counts),
	}, nil
}

func (s *StatsService) ActivityStats(ctx context.Context, departureID, activityID int64) (*ActivityStats, error) {
	departure, err := s.loadDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}

	activity, err := s.directory.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ActivityNotFound
		}
		return nil, fmt.Errorf("failed to load activity %d: %w", activityID, err)
	}
	if activity.TourVersionID != departure.TourVersionID {
		return nil, pkgerrors.ActivityNotFound
	}

	counts, err := s.checkins.CountByStatus(ctx, departure.ID, &activity.ID)
	if err != nil {
		return nil, err
	}
	statuses, err := s.activities.StatusesOn(ctx, departure.ID, []*model.ItineraryActivity{activity})
	if err != nil {
		return nil, err
	}

	return &ActivityStats{
		DepartureID:  departure.ID,
		ActivityID:   activity.ID,
		Name:         activity.Name,
		ActivityDate: activity.ActivityDate(departure.StartDate, s.loc).Format(model.DateLayout),
		Status:       statuses[activity.ID],
		StatusCounts: NewStatusCounts(counts),
	}, nil
}

// ActiveNow 当前窗口内仍有 pending 客人的活动，按距开始分钟数排序
func (s *StatsService) ActiveNow(ctx context.Context, now time.Time, departureID *int64) ([]ActiveActivity, error) {
	rows, err := s.checkins.ListOpenWindows(ctx, now, departureID)
	if err != nil {
		return nil, err
	}

	items := make([]ActiveActivity, 0, len(rows))
	for _, row := range rows {
		if row.Pending == 0 {
			continue
		}
		items = append(items, ActiveActivity{
			DepartureID:       row.DepartureID,
			ActivityID:        row.ActivityID,
			Name:              row.ActivityName,
			Location:          row.Location,
			ActivityDate:      row.ActivityDate.Format(model.DateLayout),
			ScheduledTime:     row.ScheduledTime,
			ScheduledAt:       row.ScheduledAt.In(s.loc),
			WindowOpens:       row.ScheduledAt.Add(-time.Duration(row.CheckInWindowBefore) * time.Minute).In(s.loc),
			WindowCloses:      row.ScheduledAt.Add(time.Duration(row.CheckInWindowAfter) * time.Minute).In(s.loc),
			Pending:           row.Pending,
			Total:             row.Total,
			MinutesUntilStart: int(math.Round(row.ScheduledAt.Sub(now).Minutes())),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].MinutesUntilStart != items[j].MinutesUntilStart {
			return items[i].MinutesUntilStart < items[j].MinutesUntilStart
		}
		if items[i].DepartureID != items[j].DepartureID {
			return items[i].DepartureID < items[j].DepartureID
		}
		return items[i].ActivityID < items[j].ActivityID
	})
	return items, nil
}

// Today 先刷新团期的活动状态，再列出今天需要签到且未关闭、未取消的活动
func (s *StatsService) Today(ctx context.Context, departureID int64, now time.Time) ([]TodayActivity, error) {
	departure, err := s.loadDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}

	_, statuses, err := s.activities.refreshDeparture(ctx, departure, now)
	if err != nil {
		return nil, err
	}

	activities, err := s.directory.ListActivities(ctx, departure.TourVersionID, true)
	if err != nil {
		return nil, err
	}

	today := utils.StartOfDay(now, s.loc)
	type todayEntry struct {
		activity *model.ItineraryActivity
		status   model.ActivityStatus
		schedule model.ActivitySchedule
	}
	entries := make([]todayEntry, 0)
	ids := make([]int64, 0)
	for _, activity := range activities {
		status, ok := statuses[activity.ID]
		if !ok {
			status = activity.StatusOn(nil)
		}
		if status.IsFinal() {
			continue
		}
		schedule, err := activity.ScheduleFor(departure.StartDate, s.loc)
		if err != nil {
			s.logger.Warn("Skipping activity with invalid schedule",
				zap.Int64("activity_id", activity.ID),
				zap.Error(err),
			)
			continue
		}
		if !schedule.Date.Equal(today) {
			continue
		}
		entries = append(entries, todayEntry{activity: activity, status: status, schedule: schedule})
		ids = append(ids, activity.ID)
	}

	counts, err := s.checkins.CountByActivity(ctx, departure.ID, ids)
	if err != nil {
		return nil, err
	}

	items := make([]TodayActivity, 0, len(entries))
	for _, e := range entries {
		items = append(items, TodayActivity{
			ActivityID:     e.activity.ID,
			Name:           e.activity.Name,
			ActivityType:   e.activity.ActivityType,
			Location:       e.activity.Location,
			StartTime:      e.activity.StartTime,
			EndTime:        e.activity.EndTime,
			ActivityStatus: e.status,
			WindowOpens:    e.schedule.WindowOpens,
			WindowCloses:   e.schedule.WindowCloses,
			Counts:         NewStatusCounts(counts[e.activity.ID]),
		})
	}
	return items, nil
}

// ListCheckins 团期签到记录明细
func (s *StatsService) ListCheckins(ctx context.Context, filter repository.CheckinFilter) ([]*model.GuestActivityCheckin, error) {
	if _, err := s.loadDeparture(ctx, filter.DepartureID); err != nil {
		return nil, err
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, pkgerrors.InvalidCheckinStatus
	}
	return s.checkins.List(ctx, filter)
}

// Guests 团期名单及计数字段
func (s *StatsService) Guests(ctx context.Context, departureID int64) ([]*model.DepartureGuest, error) {
	departure, err := s.loadDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}
	return s.directory.ListGuests(ctx, departure.ID)
}

func (s *StatsService) loadDeparture(ctx context.Context, departureID int64) (*model.Departure, error) {
	departure, err := s.directory.GetDeparture(ctx, departureID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.DepartureNotFound
		}
		return nil, fmt.Errorf("failed to load departure %d: %w", departureID, err)
	}
	return departure, nil
}
