package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"TourCheckin/internal/model/dto"
	"TourCheckin/internal/service"
	"TourCheckin/pkg/response"
)

// GetActivityStats 单个活动的签到统计
// GET /v1/departures/:departure_id/activities/:activity_id/stats
func GetActivityStats(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}
	activityID, ok := pathID(ctx, c, "activity_id")
	if !ok {
		return
	}

	stats, err := service.Stats().ActivityStats(ctx, departureID, activityID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, stats)
}

// GetActiveNow 当前处于签到窗口内的活动
// GET /v1/activities/active-now
func GetActiveNow(ctx context.Context, c *app.RequestContext) {
	var query dto.ActiveNowQuery
	if !bindQuery(ctx, c, &query) {
		return
	}

	items, err := service.Stats().ActiveNow(ctx, now(), query.DepartureID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, items)
}
