package model

import (
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
}

const (
	// DateLayout 日期统一格式
	DateLayout = "2006-01-02"
	// TimeOfDayLayout 时间统一格式
	TimeOfDayLayout = "15:04:05"
)
