package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"TourCheckin/config"
	"TourCheckin/internal/model"
	"TourCheckin/pkg/logger"
)

// Migrate 运行数据库迁移
// 签到记录、团期活动状态与每日汇总由本服务维护；团期、名单、行程属于目录服务，只在开发环境建表方便本地联调
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	models := []interface{}{
		&model.GuestActivityCheckin{},
		&model.DepartureActivityStatus{},
		&model.DepartureDailyRollup{},
	}
	if config.Cfg.IsDevelopment() {
		models = append(models,
			&model.Departure{},
			&model.DepartureGuest{},
			&model.ItineraryActivity{},
		)
	}

	if err := db.AutoMigrate(models...); err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully", zap.Int("tables", len(models)))
	return nil
}
