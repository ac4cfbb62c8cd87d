package service

import (
	"context"

	"TourCheckin/internal/model"
)

// EventPublisher 业务事件出口，发布失败只记录日志，不影响已提交的状态变更
type EventPublisher interface {
	PublishCheckinTransitioned(ctx context.Context, event model.CheckinTransitionedEvent) error
	PublishDailyRollup(ctx context.Context, event model.DailyRollupEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishCheckinTransitioned(context.Context, model.CheckinTransitionedEvent) error {
	return nil
}

func (nopPublisher) PublishDailyRollup(context.Context, model.DailyRollupEvent) error {
	return nil
}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
