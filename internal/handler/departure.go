package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"TourCheckin/internal/model/dto"
	"TourCheckin/internal/service"
	"TourCheckin/pkg/response"
)

func now() time.Time {
	return time.Now().In(service.Location())
}

// InitializeCheckins 为团期生成缺失的签到记录，可重复调用
// ?async=true 时只发布名单变更消息，由 worker 执行
// POST /v1/departures/:departure_id/checkins/initialize
func InitializeCheckins(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(c.DefaultQuery("async", "false")); async {
		if err := service.Initializer().RequestInitialize(ctx, departureID); err != nil {
			response.Error(ctx, c, err)
			return
		}
		response.SuccessWithMessage(ctx, c, "Initialization queued", map[string]interface{}{
			"departure_id": departureID,
			"queued":       true,
		})
		return
	}

	result, err := service.Initializer().InitializeCheckins(ctx, departureID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}

// RefreshActivityStatuses 按当前时间推进团期活动状态
// POST /v1/departures/:departure_id/activities/refresh
func RefreshActivityStatuses(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	result, err := service.Activity().RefreshActivityStatuses(ctx, departureID, now())
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}

// GetDepartureStats 团期签到统计
// GET /v1/departures/:departure_id/stats
func GetDepartureStats(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	stats, err := service.Stats().DepartureStats(ctx, departureID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, stats)
}

// GetTodayActivities 团期当天的活动及签到计数
// GET /v1/departures/:departure_id/activities/today
func GetTodayActivities(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	items, err := service.Stats().Today(ctx, departureID, now())
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, items)
}

// ListCheckins 团期签到记录明细
// GET /v1/departures/:departure_id/checkins
func ListCheckins(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	var query dto.ListCheckinsQuery
	if !bindQuery(ctx, c, &query) {
		return
	}

	filter := query.Filter(departureID)
	records, err := service.Stats().ListCheckins(ctx, filter)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.SuccessWithMeta(ctx, c, records, dto.PageMeta{
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Count:  len(records),
	})
}

// ListGuests 团期名单及签到计数
// GET /v1/departures/:departure_id/guests
func ListGuests(ctx context.Context, c *app.RequestContext) {
	departureID, ok := pathID(ctx, c, "departure_id")
	if !ok {
		return
	}

	guests, err := service.Stats().Guests(ctx, departureID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	items := make([]dto.GuestSummary, 0, len(guests))
	for _, g := range guests {
		items = append(items, dto.NewGuestSummary(g))
	}
	response.Success(ctx, c, items)
}
