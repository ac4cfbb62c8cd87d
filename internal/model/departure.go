package model

import (
	"time"

	"TourCheckin/utils"
)

// DepartureStatus 团期状态枚举
type DepartureStatus string

const (
	DepartureStatusDraft      DepartureStatus = "draft"
	DepartureStatusConfirmed  DepartureStatus = "confirmed"
	DepartureStatusInProgress DepartureStatus = "in_progress"
	DepartureStatusCompleted  DepartureStatus = "completed"
	DepartureStatusCancelled  DepartureStatus = "cancelled"
)

// Departure 团期，一个行程版本在某个具体日期的出发实例
// 由目录服务维护，这里只读
type Departure struct {
	BaseModel
	TourVersionID int64           `gorm:"not null;index" json:"tour_version_id"`
	Code          string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	StartDate     time.Time       `gorm:"type:date;not null;index:idx_departures_dates" json:"start_date"`
	EndDate       time.Time       `gorm:"type:date;not null;index:idx_departures_dates" json:"end_date"`
	Status        DepartureStatus `gorm:"type:varchar(16);not null;default:'draft';index" json:"status"`
}

func (Departure) TableName() string {
	return "departures"
}

// Covers 判断某个日期是否落在团期内（含首尾两天），入参需为已规整的日期
func (d Departure) Covers(day time.Time) bool {
	start := utils.DateIn(d.StartDate, day.Location())
	end := utils.DateIn(d.EndDate, day.Location())
	return !day.Before(start) && !day.After(end)
}

// DepartureGuest 团期名单中的一位客人
// 名单由外部维护，三个计数字段由签到记录重算得到，不做增量加减
type DepartureGuest struct {
	BaseModel
	DepartureID         int64  `gorm:"not null;index" json:"departure_id"`
	GuestName           string `gorm:"type:varchar(128);not null" json:"guest_name"`
	TotalActivities     int    `gorm:"not null;default:0" json:"total_activities"`
	CheckedInActivities int    `gorm:"not null;default:0" json:"checked_in_activities"`
	MissedActivities    int    `gorm:"not null;default:0" json:"missed_activities"`
}

func (DepartureGuest) TableName() string {
	return "departure_guests"
}
