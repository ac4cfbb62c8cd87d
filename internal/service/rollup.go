package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
	"TourCheckin/utils"
)

const JobDailyRollup = "daily_rollup"

// rollupStatuses 前一天可能仍在途的团期，包括昨天刚结束的
var rollupStatuses = []model.DepartureStatus{
	model.DepartureStatusConfirmed,
	model.DepartureStatusInProgress,
	model.DepartureStatusCompleted,
}

// RollupMarker 每个 (日期, 团期) 只发布一次
type RollupMarker interface {
	TryMark(ctx context.Context, date string, departureID int64) (bool, error)
	Unmark(ctx context.Context, date string, departureID int64) error
}

type RollupResult struct {
	RollupDate string `json:"rollup_date"`
	Departures int    `json:"departures"`
	Published  int    `json:"published"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// RollupService 每日汇总：写快照并发布事件
type RollupService struct {
	directory repository.DirectoryRepository
	checkins  repository.CheckinRepository
	rollups   repository.RollupRepository
	markers   RollupMarker
	publisher EventPublisher
	loc       *time.Location
	logger    *zap.Logger
}

func NewRollupService(
	directory repository.DirectoryRepository,
	checkins repository.CheckinRepository,
	rollups repository.RollupRepository,
	markers RollupMarker,
	publisher EventPublisher,
	loc *time.Location,
	logger *zap.Logger,
) *RollupService {
	return &RollupService{
		directory: directory,
		checkins:  checkins,
		rollups:   rollups,
		markers:   markers,
		publisher: publisherOrNop(publisher),
		loc:       loc,
		logger:    logger,
	}
}

// DailyRollup 汇总前一天在途的团期
func (s *RollupService) DailyRollup(ctx context.Context, now time.Time) (*RollupResult, error) {
	day := utils.AddDays(utils.StartOfDay(now, s.loc), -1)
	date := day.Format(model.DateLayout)

	departures, err := s.directory.ListDeparturesCovering(ctx, day, rollupStatuses)
	if err != nil {
		return nil, err
	}

	result := &RollupResult{RollupDate: date, Departures: len(departures)}
	errs := make([]error, 0)

	for _, departure := range departures {
		if s.markers != nil {
			ok, err := s.markers.TryMark(ctx, date, departure.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				result.Skipped++
				continue
			}
		}

		if err := s.rollupDeparture(ctx, departure, day); err != nil {
			errs = append(errs, err)
			s.logger.Error("Failed to roll up departure",
				zap.Int64("departure_id", departure.ID),
				zap.String("rollup_date", date),
				zap.Error(err),
			)
			if s.markers != nil {
				if uerr := s.markers.Unmark(ctx, date, departure.ID); uerr != nil {
					s.logger.Warn("Failed to unmark rollup", zap.Int64("departure_id", departure.ID), zap.Error(uerr))
				}
			}
			continue
		}
		result.Published++
	}

	result.Failed = len(errs)
	s.logger.Info("Daily rollup completed",
		zap.String("rollup_date", date),
		zap.Int("departures", result.Departures),
		zap.Int("published", result.Published),
		zap.Int("skipped", result.Skipped),
		zap.Int("error_count", len(errs)),
	)

	if len(errs) > 0 {
		return result, fmt.Errorf("daily rollup completed with %d errors", len(errs))
	}
	return result, nil
}

func (s *RollupService) rollupDeparture(ctx context.Context, departure *model.Departure, day time.Time) error {
	counts, err := s.checkins.CountByStatus(ctx, departure.ID, nil)
	if err != nil {
		return err
	}
	stats := NewStatusCounts(counts)

	payload, err := json.Marshal(stats.AsMap())
	if err != nil {
		return fmt.Errorf("failed to marshal rollup counts: %w", err)
	}

	snapshot := &model.DepartureDailyRollup{
		DepartureID:    departure.ID,
		RollupDate:     day,
		Total:          stats.Total,
		Attended:       stats.Attended(),
		AttendanceRate: stats.AttendanceRate,
		Counts:         datatypes.JSON(payload),
	}
	if err := s.rollups.Upsert(ctx, snapshot); err != nil {
		return err
	}

	return s.publisher.PublishDailyRollup(ctx, model.DailyRollupEvent{
		DepartureID:    departure.ID,
		DepartureCode:  departure.Code,
		RollupDate:     day.Format(model.DateLayout),
		Counts:         stats.AsMap(),
		Total:          stats.Total,
		AttendanceRate: stats.AttendanceRate,
	})
}
