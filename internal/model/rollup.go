package model

import (
	"time"

	"gorm.io/datatypes"
)

// DepartureDailyRollup 每日汇总快照，按 (团期, 日期) 唯一
type DepartureDailyRollup struct {
	BaseModel
	DepartureID    int64          `gorm:"not null;uniqueIndex:uk_rollup_departure_date,priority:1" json:"departure_id"`
	RollupDate     time.Time      `gorm:"type:date;not null;uniqueIndex:uk_rollup_departure_date,priority:2" json:"rollup_date"`
	Total          int64          `gorm:"not null;default:0" json:"total"`
	Attended       int64          `gorm:"not null;default:0" json:"attended"`
	AttendanceRate float64        `gorm:"type:numeric(5,2);not null;default:0" json:"attendance_rate"`
	Counts         datatypes.JSON `gorm:"type:jsonb" json:"counts"`
}

func (DepartureDailyRollup) TableName() string {
	return "departure_daily_rollups"
}
