package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"TourCheckin/internal/model"
)

// RollupRepository 每日汇总快照
type RollupRepository interface {
	// Upsert 按 (团期, 日期) 覆盖写入
	Upsert(ctx context.Context, rollup *model.DepartureDailyRollup) error
}

type rollupRepository struct {
	db *gorm.DB
}

func NewRollupRepository(db *gorm.DB) RollupRepository {
	return &rollupRepository{db: db}
}

func (r *rollupRepository) Upsert(ctx context.Context, rollup *model.DepartureDailyRollup) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "departure_id"}, {Name: "rollup_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"total", "attended", "attendance_rate", "counts", "updated_at"}),
		}).
		Create(rollup).Error
	if err != nil {
		return fmt.Errorf("failed to upsert rollup for departure %d: %w", rollup.DepartureID, err)
	}
	return nil
}
