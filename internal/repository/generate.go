package repository

import (
	"fmt"
	"os"

	"gorm.io/gen"

	"TourCheckin/internal/model"
	"TourCheckin/storage/database"
)

// ========== GuestActivityCheckin 相关查询接口 ==========

// CheckinQuerier 签到记录查询接口
type CheckinQuerier interface {
	// GetByPair 根据 (团期, 客人, 活动) 查询签到记录
	//
	// SELECT * FROM @@table
	// WHERE departure_id = @departureID
	//   AND departure_guest_id = @guestID
	//   AND activity_id = @activityID
	// LIMIT 1
	GetByPair(departureID, guestID, activityID int64) (*gen.T, error)

	// ListByGuest 查询某位客人的全部签到记录
	//
	// SELECT * FROM @@table
	// WHERE departure_guest_id = @guestID
	// ORDER BY activity_date, scheduled_time
	ListByGuest(guestID int64) ([]*gen.T, error)

	// ListByDepartureAndStatus 按状态查询团期的签到记录（分页）
	//
	// SELECT * FROM @@table
	// WHERE departure_id = @departureID
	//   {{if status != ""}}
	//   AND check_in_status = @status
	//   {{end}}
	// ORDER BY activity_date, scheduled_time, id
	// LIMIT @limit OFFSET @offset
	ListByDepartureAndStatus(departureID int64, status string, limit, offset int) ([]*gen.T, error)

	// CountByDepartureGroupByStatus 统计团期各状态的签到数量
	//
	// SELECT check_in_status, COUNT(*) as count
	// FROM @@table
	// WHERE departure_id = @departureID
	// GROUP BY check_in_status
	CountByDepartureGroupByStatus(departureID int64) ([]gen.M, error)

	// CountByGuestGroupByStatus 统计客人各状态的签到数量（核对计数字段）
	//
	// SELECT check_in_status, COUNT(*) as count
	// FROM @@table
	// WHERE departure_guest_id = @guestID
	// GROUP BY check_in_status
	CountByGuestGroupByStatus(guestID int64) ([]gen.M, error)
}

// ========== ItineraryActivity 相关查询接口 ==========

// ActivityQuerier 行程活动查询接口
type ActivityQuerier interface {
	// ListCheckInRequired 查询行程版本中需要签到的活动
	//
	// SELECT * FROM @@table
	// WHERE tour_version_id = @tourVersionID
	//   AND requires_check_in = true
	// ORDER BY day_number, start_time, sort_order
	ListCheckInRequired(tourVersionID int64) ([]*gen.T, error)

	// ListByDay 查询行程版本某一天的活动
	//
	// SELECT * FROM @@table
	// WHERE tour_version_id = @tourVersionID
	//   AND day_number = @dayNumber
	// ORDER BY start_time, sort_order
	ListByDay(tourVersionID int64, dayNumber int) ([]*gen.T, error)
}

// ========== Departure 相关查询接口 ==========

// DepartureQuerier 团期查询接口
type DepartureQuerier interface {
	// GetByCode 根据团期编号查询
	//
	// SELECT * FROM @@table WHERE code = @code LIMIT 1
	GetByCode(code string) (*gen.T, error)

	// ListInFlight 查询指定日期在途的团期（用于定时任务）
	//
	// SELECT * FROM @@table
	// WHERE status IN ('confirmed', 'in_progress')
	//   AND start_date <= @day::date
	//   AND end_date >= @day::date
	ListInFlight(day string) ([]*gen.T, error)
}

// ========== DepartureGuest 相关查询接口 ==========

// GuestQuerier 团期客人查询接口
type GuestQuerier interface {
	// ListByDeparture 查询团期名单
	//
	// SELECT * FROM @@table
	// WHERE departure_id = @departureID
	// ORDER BY id
	ListByDeparture(departureID int64) ([]*gen.T, error)
}

// ========== DepartureDailyRollup 相关查询接口 ==========

// RollupQuerier 每日汇总查询接口
type RollupQuerier interface {
	// ListByDeparture 查询团期的每日汇总
	//
	// SELECT * FROM @@table
	// WHERE departure_id = @departureID
	// ORDER BY rollup_date DESC
	ListByDeparture(departureID int64) ([]*gen.T, error)
}

func Generate() error {
	if err := database.Init(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// 运行数据库迁移（确保表存在）
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migration: %w", err)
	}

	db := database.DB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	g := gen.NewGenerator(gen.Config{
		OutPath:           "./internal/repository/query", // 生成代码的输出路径
		ModelPkgPath:      "TourCheckin/internal/model",
		Mode:              gen.WithDefaultQuery | gen.WithQueryInterface,
		FieldNullable:     true,
		FieldCoverable:    false,
		FieldSignable:     false,
		FieldWithIndexTag: false,
		FieldWithTypeTag:  true,
	})

	g.UseDB(db)

	g.ApplyBasic(
		&model.Departure{},
		&model.DepartureGuest{},
		&model.ItineraryActivity{},
		&model.GuestActivityCheckin{},
		&model.DepartureActivityStatus{},
		&model.DepartureDailyRollup{},
	)

	g.ApplyInterface(func(CheckinQuerier) {}, &model.GuestActivityCheckin{})
	g.ApplyInterface(func(ActivityQuerier) {}, &model.ItineraryActivity{})
	g.ApplyInterface(func(DepartureQuerier) {}, &model.Departure{})
	g.ApplyInterface(func(GuestQuerier) {}, &model.DepartureGuest{})
	g.ApplyInterface(func(RollupQuerier) {}, &model.DepartureDailyRollup{})

	g.Execute()

	return nil
}

func RunGenerate() {
	if err := Generate(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate code: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Code generation completed successfully!")
}
