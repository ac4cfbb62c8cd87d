package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"TourCheckin/internal/model/dto"
	"TourCheckin/internal/service"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/response"
)

// CheckIn 员工确认单个客人签到
// POST /v1/checkins/:checkin_id/check-in
func CheckIn(ctx context.Context, c *app.RequestContext) {
	checkinID, ok := pathID(ctx, c, "checkin_id")
	if !ok {
		return
	}
	staffID, ok := currentStaff(ctx, c)
	if !ok {
		return
	}

	var req dto.CheckInRequest
	if !bindJSON(ctx, c, &req, true) {
		return
	}

	outcome, err := service.CheckIn().CheckIn(ctx, checkinID, staffID, req.CheckinMethod(), service.GeoPoint{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	writeTransition(ctx, c, outcome)
}

// MarkExcused 标记客人请假
// POST /v1/checkins/:checkin_id/excuse
func MarkExcused(ctx context.Context, c *app.RequestContext) {
	checkinID, ok := pathID(ctx, c, "checkin_id")
	if !ok {
		return
	}
	staffID, ok := currentStaff(ctx, c)
	if !ok {
		return
	}

	var req dto.ExcuseRequest
	if !bindJSON(ctx, c, &req, false) {
		return
	}

	outcome, err := service.CheckIn().MarkExcused(ctx, checkinID, req.Reason, &staffID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	writeTransition(ctx, c, outcome)
}

// BulkCheckIn 对一个活动批量签到
// POST /v1/activities/:activity_id/bulk-check-in
func BulkCheckIn(ctx context.Context, c *app.RequestContext) {
	activityID, ok := pathID(ctx, c, "activity_id")
	if !ok {
		return
	}
	staffID, ok := currentStaff(ctx, c)
	if !ok {
		return
	}

	var req dto.BulkCheckInRequest
	if !bindJSON(ctx, c, &req, false) {
		return
	}

	result, err := service.CheckIn().BulkCheckIn(ctx, activityID, req.DepartureID, req.GuestIDs, staffID, req.CheckinMethod())
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, result)
}

// writeTransition 未生效的流转以 409 返回记录当前状态
func writeTransition(ctx context.Context, c *app.RequestContext, outcome *service.TransitionOutcome) {
	if !outcome.Applied {
		response.ErrorWithDetails(ctx, c, pkgerrors.CheckinNotPending, map[string]interface{}{
			"record_id": outcome.RecordID,
			"status":    outcome.Status,
		})
		return
	}
	response.Success(ctx, c, outcome)
}
