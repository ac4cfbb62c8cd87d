package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"TourCheckin/internal/model"
)

// DirectoryRepository 团期、名单与行程模板的访问
// 这些表由目录服务维护，这里只读
type DirectoryRepository interface {
	GetDeparture(ctx context.Context, id int64) (*model.Departure, error)
	// ListDeparturesCovering 返回日期范围包含 day 且状态在 statuses 中的团期
	ListDeparturesCovering(ctx context.Context, day time.Time, statuses []model.DepartureStatus) ([]*model.Departure, error)
	ListGuests(ctx context.Context, departureID int64) ([]*model.DepartureGuest, error)
	// ListActivities 按 day_number, start_time, sort_order 排序
	ListActivities(ctx context.Context, tourVersionID int64, requiresCheckInOnly bool) ([]*model.ItineraryActivity, error)
	GetActivity(ctx context.Context, id int64) (*model.ItineraryActivity, error)
}

type directoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetDeparture(ctx context.Context, id int64) (*model.Departure, error) {
	var departure model.Departure
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&departure).Error; err != nil {
		return nil, err
	}
	return &departure, nil
}

func (r *directoryRepository) ListDeparturesCovering(
	ctx context.Context,
	day time.Time,
	statuses []model.DepartureStatus,
) ([]*model.Departure, error) {
	var departures []*model.Departure
	date := day.Format(model.DateLayout)
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("status IN ?", statuses).
		Where("start_date <= ?::date AND end_date >= ?::date", date, date).
		Order("id").
		Find(&departures).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list departures covering %s: %w", date, err)
	}
	return departures, nil
}

func (r *directoryRepository) ListGuests(ctx context.Context, departureID int64) ([]*model.DepartureGuest, error) {
	var guests []*model.DepartureGuest
	err := r.db.WithContext(ctx).
		Where("departure_id = ?", departureID).
		Order("id").
		Find(&guests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list guests of departure %d: %w", departureID, err)
	}
	return guests, nil
}

func (r *directoryRepository) ListActivities(
	ctx context.Context,
	tourVersionID int64,
	requiresCheckInOnly bool,
) ([]*model.ItineraryActivity, error) {
	var activities []*model.ItineraryActivity
	q := r.db.WithContext(ctx).Where("tour_version_id = ?", tourVersionID)
	if requiresCheckInOnly {
		q = q.Where("requires_check_in = ?", true)
	}
	err := q.Order("day_number").Order("start_time").Order("sort_order").Find(&activities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list activities of tour version %d: %w", tourVersionID, err)
	}
	return activities, nil
}

func (r *directoryRepository) GetActivity(ctx context.Context, id int64) (*model.ItineraryActivity, error) {
	var activity model.ItineraryActivity
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&activity).Error; err != nil {
		return nil, err
	}
	return &activity, nil
}
