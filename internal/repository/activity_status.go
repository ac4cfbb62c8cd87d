package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"TourCheckin/internal/model"
)

// ActivityStatusRepository 活动在各团期上的状态
type ActivityStatusRepository interface {
	// ListByDeparture 团期已推进过的活动状态，没有记录的活动视为 not_started
	ListByDeparture(ctx context.Context, departureID int64) (map[int64]model.ActivityStatus, error)
	// Advance 仅当团期上的当前状态仍为 from 时写入 to，返回是否生效
	Advance(ctx context.Context, departureID, activityID int64, from, to model.ActivityStatus) (bool, error)
}

type activityStatusRepository struct {
	db *gorm.DB
}

func NewActivityStatusRepository(db *gorm.DB) ActivityStatusRepository {
	return &activityStatusRepository{db: db}
}

func (r *activityStatusRepository) ListByDeparture(ctx context.Context, departureID int64) (map[int64]model.ActivityStatus, error) {
	var rows []model.DepartureActivityStatus
	// 读主库，读到的状态紧接着作为条件更新的前提
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("departure_id = ?", departureID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list activity statuses of departure %d: %w", departureID, err)
	}

	statuses := make(map[int64]model.ActivityStatus, len(rows))
	for _, row := range rows {
		statuses[row.ActivityID] = row.Status
	}
	return statuses, nil
}

func (r *activityStatusRepository) Advance(
	ctx context.Context,
	departureID, activityID int64,
	from, to model.ActivityStatus,
) (bool, error) {
	now := time.Now()

	// not_started 没有行，第一次推进是插入；并发插入时只有一个成功
	if from == model.ActivityStatusNotStarted {
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.DepartureActivityStatus{
				DepartureID: departureID,
				ActivityID:  activityID,
				Status:      to,
				UpdatedAt:   now,
			})
		if result.Error != nil {
			return false, fmt.Errorf("failed to advance activity %d on departure %d: %w", activityID, departureID, result.Error)
		}
		return result.RowsAffected == 1, nil
	}

	result := r.db.WithContext(ctx).
		Model(&model.DepartureActivityStatus{}).
		Where("departure_id = ? AND activity_id = ? AND activity_status = ?", departureID, activityID, from).
		Updates(map[string]interface{}{
			"activity_status": to,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance activity %d on departure %d: %w", activityID, departureID, result.Error)
	}
	return result.RowsAffected == 1, nil
}
