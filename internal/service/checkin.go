package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/metrics"
)

// ExcusePolicy 请假标记的适用范围
type ExcusePolicy string

const (
	// ExcusePolicyOverride 任何非 excused 状态都可以改为 excused
	ExcusePolicyOverride ExcusePolicy = "override"
	// ExcusePolicyPendingOnly 只有 pending 可以改为 excused
	ExcusePolicyPendingOnly ExcusePolicy = "pending_only"
)

const (
	JobAutoCheckIn    = "auto_check_in"
	JobAutoMarkMissed = "auto_mark_missed"

	// 扫描时同时处理的团期数
	sweepConcurrency = 8
)

// GeoPoint 签到时的可选定位
type GeoPoint struct {
	Latitude  *float64
	Longitude *float64
}

// TransitionOutcome 单条状态流转结果，Applied=false 表示记录已不在可流转状态
type TransitionOutcome struct {
	RecordID int64               `json:"record_id"`
	Applied  bool                `json:"applied"`
	Status   model.CheckinStatus `json:"status"`
}

// BulkOutcome 批量签到中单个客人的结果
type BulkOutcome string

const (
	BulkOutcomeApplied    BulkOutcome = "applied"
	BulkOutcomeNotPending BulkOutcome = "not_pending"
	BulkOutcomeNotFound   BulkOutcome = "not_found"
)

type BulkItemResult struct {
	GuestID  int64               `json:"guest_id"`
	RecordID int64               `json:"record_id,omitempty"`
	Outcome  BulkOutcome         `json:"outcome"`
	Status   model.CheckinStatus `json:"status,omitempty"`
}

type BulkResult struct {
	ActivityID int64            `json:"activity_id"`
	Applied    int              `json:"applied"`
	NotPending int              `json:"not_pending"`
	NotFound   int              `json:"not_found"`
	Items      []BulkItemResult `json:"items"`
}

// SweepResult 自动扫描结果
type SweepResult struct {
	Candidates int `json:"candidates"`
	Departures int `json:"departures"`
	Applied    int `json:"applied"`
	Failed     int `json:"failed"`
}

// CheckinService 签到状态机
type CheckinService struct {
	checkins  repository.CheckinRepository
	publisher EventPublisher
	policy    ExcusePolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewCheckinService(
	checkins repository.CheckinRepository,
	publisher EventPublisher,
	policy ExcusePolicy,
	logger *zap.Logger,
) *CheckinService {
	if policy == "" {
		policy = ExcusePolicyOverride
	}
	return &CheckinService{
		checkins:  checkins,
		publisher: publisherOrNop(publisher),
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// appliedTransition 已提交的流转，事务结束后用于发事件和打点
type appliedTransition struct {
	record  model.GuestActivityCheckin
	from    model.CheckinStatus
	to      model.CheckinStatus
	method  string
	staffID *int64
}

// CheckIn 员工确认签到：仅当记录仍为 pending 时生效
func (s *CheckinService) CheckIn(
	ctx context.Context,
	recordID int64,
	staffID int64,
	method model.CheckinMethod,
	location GeoPoint,
) (*TransitionOutcome, error) {
	if method == "" {
		method = model.CheckinMethodManual
	}
	if !method.IsStaffMethod() {
		return nil, pkgerrors.InvalidCheckinMethod
	}

	now := s.now()
	update := model.CheckinUpdate{
		Status:      model.CheckinStatusCheckedIn,
		CheckedInAt: &now,
		CheckedInBy: &staffID,
		Method:      &method,
		Latitude:    location.Latitude,
		Longitude:   location.Longitude,
	}

	var outcome *TransitionOutcome
	var applied *appliedTransition
	err := s.checkins.Transaction(ctx, func(tx repository.CheckinRepository) error {
		record, err := loadCheckin(ctx, tx, recordID)
		if err != nil {
			return err
		}

		outcome = &TransitionOutcome{RecordID: record.ID, Status: record.Status}
		if !record.Status.CanTransitionTo(update.Status) {
			return nil
		}

		ok, err := tx.Transition(ctx, record.ID, []model.CheckinStatus{record.Status}, update, now)
		if err != nil {
			return err
		}
		if !ok {
			// 并发请求已经处理了这条记录
			if latest, err := tx.GetByID(ctx, record.ID); err == nil {
				outcome.Status = latest.Status
			}
			return nil
		}

		if err := tx.RecomputeGuestCounters(ctx, []int64{record.DepartureGuestID}); err != nil {
			return err
		}

		outcome.Applied = true
		outcome.Status = update.Status
		applied = &appliedTransition{
			record:  *record,
			from:    record.Status,
			to:      update.Status,
			method:  string(method),
			staffID: &staffID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied != nil {
		s.afterCommit(ctx, now, *applied)
	}
	return outcome, nil
}

// BulkCheckIn 对一个活动的多位客人批量签到，返回每位客人的结果
// 非 pending 的客人只记为 not_pending，基础设施错误回滚整批
func (s *CheckinService) BulkCheckIn(
	ctx context.Context,
	activityID int64,
	departureID *int64,
	guestIDs []int64,
	staffID int64,
	method model.CheckinMethod,
) (*BulkResult, error) {
	guestIDs = uniqueIDs(guestIDs)
	if len(guestIDs) == 0 {
		return nil, pkgerrors.GuestIDsRequired
	}
	if method == "" {
		method = model.CheckinMethodBulk
	}
	if !method.IsStaffMethod() {
		return nil, pkgerrors.InvalidCheckinMethod
	}

	now := s.now()
	update := model.CheckinUpdate{
		Status:      model.CheckinStatusCheckedIn,
		CheckedInAt: &now,
		CheckedInBy: &staffID,
		Method:      &method,
	}

	var result *BulkResult
	var applied []appliedTransition
	err := s.checkins.Transaction(ctx, func(tx repository.CheckinRepository) error {
		// 事务重试时从干净状态开始
		result = &BulkResult{ActivityID: activityID, Items: make([]BulkItemResult, 0, len(guestIDs))}
		applied = applied[:0]

		records, err := tx.ListByActivityGuests(ctx, activityID, departureID, guestIDs)
		if err != nil {
			return err
		}
		byGuest := make(map[int64]*model.GuestActivityCheckin, len(records))
		for _, record := range records {
			byGuest[record.DepartureGuestID] = record
		}

		touched := make([]int64, 0, len(guestIDs))
		for _, guestID := range guestIDs {
			record, ok := byGuest[guestID]
			if !ok {
				result.Items = append(result.Items, BulkItemResult{GuestID: guestID, Outcome: BulkOutcomeNotFound})
				result.NotFound++
				continue
			}

			item := BulkItemResult{GuestID: guestID, RecordID: record.ID, Status: record.Status}
			if record.Status.CanTransitionTo(update.Status) {
				ok, err := tx.Transition(ctx, record.ID, []model.CheckinStatus{record.Status}, update, now)
				if err != nil {
					return err
				}
				if ok {
					item.Outcome = BulkOutcomeApplied
					item.Status = update.Status
					result.Applied++
					touched = append(touched, guestID)
					applied = append(applied, appliedTransition{
						record:  *record,
						from:    record.Status,
						to:      update.Status,
						method:  string(method),
						staffID: &staffID,
					})
					result.Items = append(result.Items, item)
					continue
				}
			}

			item.Outcome = BulkOutcomeNotPending
			result.NotPending++
			result.Items = append(result.Items, item)
		}

		return tx.RecomputeGuestCounters(ctx, touched)
	})
	if err != nil {
		return nil, err
	}

	for _, item := range result.Items {
		metrics.RecordBulkItem(ctx, string(item.Outcome))
	}
	for _, a := range applied {
		s.afterCommit(ctx, now, a)
	}

	s.logger.Info("Bulk check-in completed",
		zap.Int64("activity_id", activityID),
		zap.Int("requested", len(guestIDs)),
		zap.Int("applied", result.Applied),
		zap.Int("not_pending", result.NotPending),
		zap.Int("not_found", result.NotFound),
	)
	return result, nil
}

// MarkExcused 标记请假，原因必填；可流转的源状态由 ExcusePolicy 决定
func (s *CheckinService) MarkExcused(
	ctx context.Context,
	recordID int64,
	reason string,
	staffID *int64,
) (*TransitionOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.ExcuseReasonRequired
	}

	now := s.now()
	var outcome *TransitionOutcome
	var applied *appliedTransition
	err := s.checkins.Transaction(ctx, func(tx repository.CheckinRepository) error {
		record, err := loadCheckin(ctx, tx, recordID)
		if err != nil {
			return err
		}

		outcome = &TransitionOutcome{RecordID: record.ID, Status: record.Status}
		if !s.canExcuse(record.Status) {
			return nil
		}

		// 签到人保持不变，请假人单独记录
		update := model.CheckinUpdate{
			Status:       model.CheckinStatusExcused,
			ExcuseReason: &reason,
			ExcusedBy:    staffID,
		}
		// 以读到的状态做条件，期间被其它请求改过则不生效
		ok, err := tx.Transition(ctx, record.ID, []model.CheckinStatus{record.Status}, update, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := tx.RecomputeGuestCounters(ctx, []int64{record.DepartureGuestID}); err != nil {
			return err
		}

		outcome.Applied = true
		outcome.Status = model.CheckinStatusExcused
		applied = &appliedTransition{
			record:  *record,
			from:    record.Status,
			to:      model.CheckinStatusExcused,
			staffID: staffID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied != nil {
		if applied.from.IsTerminal() {
			s.logger.Info("Check-in overridden as excused",
				zap.Int64("checkin_id", applied.record.ID),
				zap.String("from", string(applied.from)),
			)
		}
		s.afterCommit(ctx, now, *applied)
	}
	return outcome, nil
}

// canExcuse 状态机允许的源状态中，pending_only 只保留 pending
func (s *CheckinService) canExcuse(status model.CheckinStatus) bool {
	if !status.CanTransitionTo(model.CheckinStatusExcused) {
		return false
	}
	return s.policy != ExcusePolicyPendingOnly || !status.IsTerminal()
}

// AutoCheckIn 扫描所有团期：活动允许自动签到且已到开始时间的 pending 记录改为 auto_checked
// 已取消的活动不自动签到，留给 AutoMarkMissed
func (s *CheckinService) AutoCheckIn(ctx context.Context, now time.Time) (*SweepResult, error) {
	method := model.CheckinMethodAuto
	return s.sweep(ctx, now, JobAutoCheckIn, func(row *repository.PendingCheckin) (model.CheckinUpdate, bool) {
		if !row.AutoCheckIn || row.ActivityStatus == model.ActivityStatusCancelled || row.ScheduledAt.After(now) {
			return model.CheckinUpdate{}, false
		}
		return model.CheckinUpdate{
			Status:      model.CheckinStatusAutoChecked,
			CheckedInAt: &now,
			Method:      &method,
		}, true
	})
}

// AutoMarkMissed 扫描所有团期：签到窗口已经结束仍为 pending 的记录改为 missed，含已取消的活动
func (s *CheckinService) AutoMarkMissed(ctx context.Context, now time.Time) (*SweepResult, error) {
	method := model.CheckinMethodSystem
	return s.sweep(ctx, now, JobAutoMarkMissed, func(row *repository.PendingCheckin) (model.CheckinUpdate, bool) {
		closes := row.ScheduledAt.Add(time.Duration(row.CheckInWindowAfter) * time.Minute)
		if !closes.Before(now) {
			return model.CheckinUpdate{}, false
		}
		return model.CheckinUpdate{
			Status: model.CheckinStatusMissed,
			Method: &method,
		}, true
	})
}

type sweepSelector func(row *repository.PendingCheckin) (model.CheckinUpdate, bool)

// sweep 按团期分组，每个团期一个事务；某个团期失败不影响其它团期
func (s *CheckinService) sweep(ctx context.Context, now time.Time, job string, selectRow sweepSelector) (*SweepResult, error) {
	rows, err := s.checkins.ListPendingDue(ctx, now)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		row    *repository.PendingCheckin
		update model.CheckinUpdate
	}
	groups := make(map[int64][]candidate)
	order := make([]int64, 0)
	result := &SweepResult{}
	for _, row := range rows {
		update, ok := selectRow(row)
		if !ok {
			continue
		}
		if _, seen := groups[row.DepartureID]; !seen {
			order = append(order, row.DepartureID)
		}
		groups[row.DepartureID] = append(groups[row.DepartureID], candidate{row: row, update: update})
		result.Candidates++
	}
	result.Departures = len(order)
	if result.Candidates == 0 {
		return result, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, 0)
	sem := make(chan struct{}, sweepConcurrency)

	for _, departureID := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(departureID int64, candidates []candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			var applied []appliedTransition
			err := s.checkins.Transaction(ctx, func(tx repository.CheckinRepository) error {
				applied = applied[:0]
				guests := make([]int64, 0, len(candidates))
				seen := make(map[int64]struct{}, len(candidates))

				for _, c := range candidates {
					ok, err := tx.Transition(ctx, c.row.ID, []model.CheckinStatus{model.CheckinStatusPending}, c.update, now)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					if _, dup := seen[c.row.DepartureGuestID]; !dup {
						seen[c.row.DepartureGuestID] = struct{}{}
						guests = append(guests, c.row.DepartureGuestID)
					}
					method := ""
					if c.update.Method != nil {
						method = string(*c.update.Method)
					}
					applied = append(applied, appliedTransition{
						record: c.row.GuestActivityCheckin,
						from:   model.CheckinStatusPending,
						to:     c.update.Status,
						method: method,
					})
				}

				return tx.RecomputeGuestCounters(ctx, guests)
			})

			mu.Lock()
			if err != nil {
				errs = append(errs, err)
				mu.Unlock()
				s.logger.Error("Sweep failed for departure",
					zap.String("job", job),
					zap.Int64("departure_id", departureID),
					zap.Error(err),
				)
				return
			}
			result.Applied += len(applied)
			mu.Unlock()

			for _, a := range applied {
				s.afterCommit(ctx, now, a)
			}
		}(departureID, groups[departureID])
	}

	wg.Wait()

	metrics.RecordJobAffected(ctx, job, int64(result.Applied))
	result.Failed = len(errs)

	s.logger.Info("Check-in sweep completed",
		zap.String("job", job),
		zap.Int("candidates", result.Candidates),
		zap.Int("departures", result.Departures),
		zap.Int("applied", result.Applied),
		zap.Int("error_count", len(errs)),
	)

	if len(errs) > 0 {
		return result, fmt.Errorf("%s completed with %d errors", job, len(errs))
	}
	return result, nil
}

// afterCommit 事务提交后打点并发布事件，发布失败只记录日志
func (s *CheckinService) afterCommit(ctx context.Context, now time.Time, a appliedTransition) {
	metrics.RecordCheckinTransition(ctx, string(a.to), a.method)

	event := model.CheckinTransitionedEvent{
		OccurredAt:       now.Format(time.RFC3339),
		CheckinID:        a.record.ID,
		DepartureID:      a.record.DepartureID,
		DepartureGuestID: a.record.DepartureGuestID,
		ActivityID:       a.record.ActivityID,
		FromStatus:       a.from,
		ToStatus:         a.to,
		Method:           a.method,
		StaffID:          a.staffID,
	}
	if err := s.publisher.PublishCheckinTransitioned(ctx, event); err != nil {
		s.logger.Warn("Failed to publish check-in transition",
			zap.Int64("checkin_id", a.record.ID),
			zap.String("to_status", string(a.to)),
			zap.Error(err),
		)
	}
}

func loadCheckin(ctx context.Context, repo repository.CheckinRepository, id int64) (*model.GuestActivityCheckin, error) {
	record, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.CheckinNotFound
		}
		return nil, fmt.Errorf("failed to load check-in %d: %w", id, err)
	}
	return record, nil
}

// uniqueIDs 去重并去掉非法 ID，保持原有顺序
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
