package service

import (
	"sync"
	"time"

	"TourCheckin/config"
	"TourCheckin/internal/cache"
	"TourCheckin/internal/queue"
	"TourCheckin/internal/repository"
	"TourCheckin/pkg/logger"
	"TourCheckin/storage/database"
	"TourCheckin/utils"
)

// 进程内默认实例，依赖 storage.Init 之后的全局连接

var (
	defaultOnce sync.Once

	checkinService     *CheckinService
	activityService    *ActivityService
	initializerService *InitializerService
	statsService       *StatsService
	rollupService      *RollupService
	location           *time.Location
)

func initDefaults() {
	db := database.DB()
	location = utils.LoadLocation(config.Cfg.AppTimezone)

	directory := repository.NewDirectoryRepository(db)
	checkins := repository.NewCheckinRepository(db)
	statuses := repository.NewActivityStatusRepository(db)
	rollups := repository.NewRollupRepository(db)
	publisher := queue.DefaultPublisher()

	activityService = NewActivityService(directory, statuses, location, logger.Named("activity"))
	checkinService = NewCheckinService(checkins, publisher, ExcusePolicy(config.Cfg.ExcusePolicy), logger.Named("checkin"))
	initializerService = NewInitializerService(directory, checkins, publisher, location, logger.Named("initializer"))
	statsService = NewStatsService(directory, checkins, activityService, location, logger.Named("stats"))
	rollupService = NewRollupService(directory, checkins, rollups, cache.RollupMarkers{}, publisher, location, logger.Named("rollup"))
}

func CheckIn() *CheckinService {
	defaultOnce.Do(initDefaults)
	return checkinService
}

func Activity() *ActivityService {
	defaultOnce.Do(initDefaults)
	return activityService
}

func Initializer() *InitializerService {
	defaultOnce.Do(initDefaults)
	return initializerService
}

func Stats() *StatsService {
	defaultOnce.Do(initDefaults)
	return statsService
}

func Rollup() *RollupService {
	defaultOnce.Do(initDefaults)
	return rollupService
}

// Location 业务时区
func Location() *time.Location {
	defaultOnce.Do(initDefaults)
	return location
}
