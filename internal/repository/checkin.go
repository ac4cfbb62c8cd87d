package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"TourCheckin/internal/model"
)

const createBatchSize = 500

// ErrInvalidTransition 源状态无法流转到目标状态
var ErrInvalidTransition = errors.New("invalid check-in transition")

// PendingCheckin 到期的待签到记录，附带活动上的自动签到参数
type PendingCheckin struct {
	model.GuestActivityCheckin
	AutoCheckIn        bool                 `gorm:"column:auto_check_in"`
	CheckInWindowAfter int                  `gorm:"column:check_in_window_after"`
	ActivityStatus     model.ActivityStatus `gorm:"column:activity_status"`
}

// OpenWindow 当前处于签到窗口内的活动
type OpenWindow struct {
	DepartureID         int64     `gorm:"column:departure_id"`
	ActivityID          int64     `gorm:"column:activity_id"`
	ActivityName        string    `gorm:"column:activity_name"`
	Location            string    `gorm:"column:location"`
	ActivityDate        time.Time `gorm:"column:activity_date"`
	ScheduledTime       string    `gorm:"column:scheduled_time"`
	ScheduledAt         time.Time `gorm:"column:scheduled_at"`
	CheckInWindowBefore int       `gorm:"column:check_in_window_before"`
	CheckInWindowAfter  int       `gorm:"column:check_in_window_after"`
	Pending             int64     `gorm:"column:pending"`
	Total               int64     `gorm:"column:total"`
}

// CheckinFilter 签到记录列表过滤条件
type CheckinFilter struct {
	DepartureID int64
	ActivityID  *int64
	GuestID     *int64
	Status      *model.CheckinStatus
	Limit       int
	Offset      int
}

// StatusCount 按状态分组的计数
type StatusCount map[model.CheckinStatus]int64

// CheckinRepository 签到记录存储
type CheckinRepository interface {
	// Transaction 在同一个数据库事务中执行 fn，fn 返回错误则回滚
	Transaction(ctx context.Context, fn func(tx CheckinRepository) error) error

	GetByID(ctx context.Context, id int64) (*model.GuestActivityCheckin, error)
	// Transition 条件更新：仅当当前状态在 from 中时写入 update，返回是否生效
	// from 为空时取状态机中所有能流转到目标状态的源状态，from 中有不合法的流转返回 ErrInvalidTransition
	Transition(ctx context.Context, id int64, from []model.CheckinStatus, update model.CheckinUpdate, now time.Time) (bool, error)
	ListByActivityGuests(ctx context.Context, activityID int64, departureID *int64, guestIDs []int64) ([]*model.GuestActivityCheckin, error)
	// ListPendingDue 仍为 pending 且 scheduled_at <= now 的记录，含已取消的活动
	ListPendingDue(ctx context.Context, now time.Time) ([]*PendingCheckin, error)

	ExistingPairs(ctx context.Context, departureID int64) ([]model.CheckinPair, error)
	// CreateBatch 批量插入，唯一键冲突的行被忽略，返回实际插入条数
	CreateBatch(ctx context.Context, records []*model.GuestActivityCheckin) (int64, error)
	// Create 插入单条，唯一键冲突时返回 false
	Create(ctx context.Context, record *model.GuestActivityCheckin) (bool, error)

	// RecomputeGuestCounters 按当前记录重算客人的三个计数
	RecomputeGuestCounters(ctx context.Context, guestIDs []int64) error

	CountByStatus(ctx context.Context, departureID int64, activityID *int64) (StatusCount, error)
	CountByActivity(ctx context.Context, departureID int64, activityIDs []int64) (map[int64]StatusCount, error)
	ListOpenWindows(ctx context.Context, now time.Time, departureID *int64) ([]*OpenWindow, error)
	List(ctx context.Context, filter CheckinFilter) ([]*model.GuestActivityCheckin, error)
}

type checkinRepository struct {
	db *gorm.DB
}

func NewCheckinRepository(db *gorm.DB) CheckinRepository {
	return &checkinRepository{db: db}
}

func (r *checkinRepository) Transaction(ctx context.Context, fn func(tx CheckinRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&checkinRepository{db: tx})
	})
}

func (r *checkinRepository) GetByID(ctx context.Context, id int64) (*model.GuestActivityCheckin, error) {
	var record model.GuestActivityCheckin
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *checkinRepository) Transition(
	ctx context.Context,
	id int64,
	from []model.CheckinStatus,
	update model.CheckinUpdate,
	now time.Time,
) (bool, error) {
	from, err := ValidateTransition(from, update.Status)
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).
		Model(&model.GuestActivityCheckin{}).
		Where("id = ?", id).
		Where("check_in_status IN ?", from).
		Updates(update.Columns(now))
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition check-in %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ValidateTransition 按状态机校验 from -> to，from 为空时返回全部合法源状态
func ValidateTransition(from []model.CheckinStatus, to model.CheckinStatus) ([]model.CheckinStatus, error) {
	if len(from) == 0 {
		from = model.TransitionSources(to)
	}
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %q", ErrInvalidTransition, to)
	}
	for _, status := range from {
		if !status.CanTransitionTo(to) {
			return nil, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, status, to)
		}
	}
	return from, nil
}

func (r *checkinRepository) ListByActivityGuests(
	ctx context.Context,
	activityID int64,
	departureID *int64,
	guestIDs []int64,
) ([]*model.GuestActivityCheckin, error) {
	var records []*model.GuestActivityCheckin
	q := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Where("departure_guest_id IN ?", guestIDs)
	if departureID != nil {
		q = q.Where("departure_id = ?", *departureID)
	}
	if err := q.Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list check-ins of activity %d: %w", activityID, err)
	}
	return records, nil
}

func (r *checkinRepository) ListPendingDue(ctx context.Context, now time.Time) ([]*PendingCheckin, error) {
	var rows []*PendingCheckin
	err := r.db.WithContext(ctx).
		Table("guest_activity_checkins AS c").
		Select("c.*, a.auto_check_in, a.check_in_window_after, a.activity_status").
		Joins("JOIN itinerary_activities a ON a.id = c.activity_id AND a.deleted_at IS NULL").
		Where("c.deleted_at IS NULL").
		Where("c.check_in_status = ?", model.CheckinStatusPending).
		Where("c.scheduled_at <= ?", now).
		Order("c.departure_id").
		Order("c.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending check-ins: %w", err)
	}
	return rows, nil
}

func (r *checkinRepository) ExistingPairs(ctx context.Context, departureID int64) ([]model.CheckinPair, error) {
	var pairs []model.CheckinPair
	err := r.db.WithContext(ctx).
		Model(&model.GuestActivityCheckin{}).
		Select("departure_guest_id, activity_id").
		Where("departure_id = ?", departureID).
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load existing check-in pairs: %w", err)
	}
	return pairs, nil
}

func (r *checkinRepository) CreateBatch(ctx context.Context, records []*model.GuestActivityCheckin) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, createBatchSize)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to create check-ins: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *checkinRepository) Create(ctx context.Context, record *model.GuestActivityCheckin) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create check-in: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *checkinRepository) RecomputeGuestCounters(ctx context.Context, guestIDs []int64) error {
	if len(guestIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Exec(`
		UPDATE departure_guests AS g SET
			total_activities = (
				SELECT COUNT(*) FROM guest_activity_checkins c
				WHERE c.departure_guest_id = g.id AND c.deleted_at IS NULL
			),
			checked_in_activities = (
				SELECT COUNT(*) FROM guest_activity_checkins c
				WHERE c.departure_guest_id = g.id AND c.deleted_at IS NULL
				  AND c.check_in_status IN ?
			),
			missed_activities = (
				SELECT COUNT(*) FROM guest_activity_checkins c
				WHERE c.departure_guest_id = g.id AND c.deleted_at IS NULL
				  AND c.check_in_status = ?
			),
			updated_at = NOW()
		WHERE g.id IN ?`,
		[]model.CheckinStatus{model.CheckinStatusCheckedIn, model.CheckinStatusAutoChecked},
		model.CheckinStatusMissed,
		guestIDs,
	).Error
	if err != nil {
		return fmt.Errorf("failed to recompute guest counters: %w", err)
	}
	return nil
}

type statusCountRow struct {
	ActivityID int64               `gorm:"column:activity_id"`
	Status     model.CheckinStatus `gorm:"column:check_in_status"`
	Count      int64               `gorm:"column:count"`
}

func (r *checkinRepository) CountByStatus(ctx context.Context, departureID int64, activityID *int64) (StatusCount, error) {
	var rows []statusCountRow
	q := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Model(&model.GuestActivityCheckin{}).
		Select("check_in_status, COUNT(*) AS count").
		Where("departure_id = ?", departureID)
	if activityID != nil {
		q = q.Where("activity_id = ?", *activityID)
	}
	if err := q.Group("check_in_status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count check-ins: %w", err)
	}

	counts := make(StatusCount, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *checkinRepository) CountByActivity(
	ctx context.Context,
	departureID int64,
	activityIDs []int64,
) (map[int64]StatusCount, error) {
	result := make(map[int64]StatusCount, len(activityIDs))
	if len(activityIDs) == 0 {
		return result, nil
	}

	var rows []statusCountRow
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Model(&model.GuestActivityCheckin{}).
		Select("activity_id, check_in_status, COUNT(*) AS count").
		Where("departure_id = ? AND activity_id IN ?", departureID, activityIDs).
		Group("activity_id, check_in_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count check-ins by activity: %w", err)
	}

	for _, row := range rows {
		counts, ok := result[row.ActivityID]
		if !ok {
			counts = StatusCount{}
			result[row.ActivityID] = counts
		}
		counts[row.Status] = row.Count
	}
	return result, nil
}

func (r *checkinRepository) ListOpenWindows(ctx context.Context, now time.Time, departureID *int64) ([]*OpenWindow, error) {
	var rows []*OpenWindow
	q := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Table("guest_activity_checkins AS c").
		Select(`c.departure_id, c.activity_id, a.name AS activity_name, a.location,
			c.activity_date, c.scheduled_time, MIN(c.scheduled_at) AS scheduled_at,
			a.check_in_window_before, a.check_in_window_after,
			COUNT(*) FILTER (WHERE c.check_in_status = 'pending') AS pending,
			COUNT(*) AS total`).
		Joins("JOIN itinerary_activities a ON a.id = c.activity_id AND a.deleted_at IS NULL").
		Where("c.deleted_at IS NULL").
		Where("a.activity_status <> ?", model.ActivityStatusCancelled).
		Where("c.scheduled_at - make_interval(mins => a.check_in_window_before) <= ?", now).
		Where("c.scheduled_at + make_interval(mins => a.check_in_window_after) >= ?", now)
	if departureID != nil {
		q = q.Where("c.departure_id = ?", *departureID)
	}

	err := q.Group(`c.departure_id, c.activity_id, a.name, a.location, c.activity_date,
			c.scheduled_time, a.check_in_window_before, a.check_in_window_after`).
		Having("COUNT(*) FILTER (WHERE c.check_in_status = 'pending') > 0").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open check-in windows: %w", err)
	}
	return rows, nil
}

func (r *checkinRepository) List(ctx context.Context, filter CheckinFilter) ([]*model.GuestActivityCheckin, error) {
	var records []*model.GuestActivityCheckin
	q := r.db.WithContext(ctx).
		Clauses(dbresolver.Read).
		Where("departure_id = ?", filter.DepartureID)
	if filter.ActivityID != nil {
		q = q.Where("activity_id = ?", *filter.ActivityID)
	}
	if filter.GuestID != nil {
		q = q.Where("departure_guest_id = ?", *filter.GuestID)
	}
	if filter.Status != nil {
		q = q.Where("check_in_status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	err := q.Order("activity_date").Order("scheduled_time").Order("id").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return records, nil
}
