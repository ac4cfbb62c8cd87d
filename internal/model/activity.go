package model

import (
	"fmt"
	"time"

	"TourCheckin/utils"
)

// ActivityStatus 行程活动状态，只能前进：not_started -> in_progress -> closed
// cancelled 由人工设置，状态引擎永不覆盖
type ActivityStatus string

const (
	ActivityStatusNotStarted ActivityStatus = "not_started"
	ActivityStatusInProgress ActivityStatus = "in_progress"
	ActivityStatusClosed     ActivityStatus = "closed"
	ActivityStatusCancelled  ActivityStatus = "cancelled"
)

// IsFinal closed 与 cancelled 不再变化
func (s ActivityStatus) IsFinal() bool {
	return s == ActivityStatusClosed || s == ActivityStatusCancelled
}

// ItineraryActivity 行程模板中的一个活动，按行程版本共享，由目录服务维护
// 模板上的 activity_status 只认 cancelled，其余状态按团期记在 DepartureActivityStatus
type ItineraryActivity struct {
	BaseModel
	TourVersionID       int64          `gorm:"not null;index:idx_itinerary_activities_version_order" json:"tour_version_id"`
	DayNumber           int            `gorm:"not null;index:idx_itinerary_activities_version_order" json:"day_number"`
	SortOrder           int            `gorm:"not null;default:0" json:"sort_order"`
	Name                string         `gorm:"type:varchar(255);not null" json:"name"`
	ActivityType        string         `gorm:"type:varchar(32)" json:"activity_type"`
	Location            string         `gorm:"type:varchar(255)" json:"location"`
	StartTime           string         `gorm:"type:varchar(8);not null" json:"start_time"` // HH:MM:SS
	EndTime             *string        `gorm:"type:varchar(8)" json:"end_time,omitempty"`  // HH:MM:SS，早于开始时间视为次日
	RequiresCheckIn     bool           `gorm:"not null;default:false" json:"requires_check_in"`
	AutoCheckIn         bool           `gorm:"not null;default:false" json:"auto_check_in"`
	CheckInWindowBefore int            `gorm:"not null;default:30" json:"check_in_window_before"` // 分钟
	CheckInWindowAfter  int            `gorm:"not null;default:15" json:"check_in_window_after"`  // 分钟
	ActivityStatus      ActivityStatus `gorm:"type:varchar(16);not null;default:'not_started'" json:"activity_status"`
}

func (ItineraryActivity) TableName() string {
	return "itinerary_activities"
}

// DepartureActivityStatus 活动在某个团期上推进到的状态，没有记录即 not_started
type DepartureActivityStatus struct {
	DepartureID int64          `gorm:"primaryKey;autoIncrement:false" json:"departure_id"`
	ActivityID  int64          `gorm:"primaryKey;autoIncrement:false" json:"activity_id"`
	Status      ActivityStatus `gorm:"column:activity_status;type:varchar(16);not null" json:"activity_status"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (DepartureActivityStatus) TableName() string {
	return "departure_activity_statuses"
}

// StatusOn 活动在团期上的当前状态：模板取消优先，其次是团期记录
func (a ItineraryActivity) StatusOn(stored map[int64]ActivityStatus) ActivityStatus {
	if a.ActivityStatus == ActivityStatusCancelled {
		return ActivityStatusCancelled
	}
	if status, ok := stored[a.ID]; ok {
		return status
	}
	return ActivityStatusNotStarted
}

// ActivitySchedule 活动落在某个团期上的具体时间
type ActivitySchedule struct {
	Date         time.Time  // 活动当天零点
	StartsAt     time.Time  // 活动开始时间
	EndsAt       *time.Time // 活动结束时间，可能跨到次日
	WindowOpens  time.Time  // 签到窗口开启
	WindowCloses time.Time  // 签到窗口关闭
}

// ActivityDate 活动日期 = 团期开始日期 + (day_number - 1) 天
func (a ItineraryActivity) ActivityDate(departureStart time.Time, loc *time.Location) time.Time {
	return utils.AddDays(utils.DateIn(departureStart, loc), a.DayNumber-1)
}

// ScheduleFor 计算活动在指定团期上的开始、结束以及签到窗口
func (a ItineraryActivity) ScheduleFor(departureStart time.Time, loc *time.Location) (ActivitySchedule, error) {
	date := a.ActivityDate(departureStart, loc)

	startsAt, err := utils.ParseTime(a.StartTime, date)
	if err != nil {
		return ActivitySchedule{}, fmt.Errorf("activity %d start_time: %w", a.ID, err)
	}

	schedule := ActivitySchedule{
		Date:         date,
		StartsAt:     startsAt,
		WindowOpens:  startsAt.Add(-time.Duration(a.CheckInWindowBefore) * time.Minute),
		WindowCloses: startsAt.Add(time.Duration(a.CheckInWindowAfter) * time.Minute),
	}

	if a.EndTime != nil && *a.EndTime != "" {
		endsAt, err := utils.ParseTime(*a.EndTime, date)
		if err != nil {
			return ActivitySchedule{}, fmt.Errorf("activity %d end_time: %w", a.ID, err)
		}
		if endsAt.Before(startsAt) {
			endsAt = utils.AddDays(endsAt, 1)
		}
		schedule.EndsAt = &endsAt
	}

	return schedule, nil
}
