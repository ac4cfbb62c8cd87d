package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"TourCheckin/internal/handler"
	"TourCheckin/internal/middleware"
	"TourCheckin/pkg/response"
)

func Register(h *server.Hertz) {

	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.RequestIDMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	h.GET("/healthz", func(ctx context.Context, c *app.RequestContext) {
		response.Success(ctx, c, map[string]string{"status": "ok"})
	})

	v1 := h.Group("/v1")
	v1.Use(middleware.AuthMiddleware()) // 所有业务接口都需要员工 token

	// 团期相关路由
	departures := v1.Group("/departures/:departure_id")
	{
		departures.POST("/checkins/initialize", handler.InitializeCheckins)
		departures.GET("/checkins", handler.ListCheckins)
		departures.GET("/guests", handler.ListGuests)
		departures.GET("/stats", handler.GetDepartureStats)
		departures.POST("/activities/refresh", handler.RefreshActivityStatuses)
		departures.GET("/activities/today", handler.GetTodayActivities)
		departures.GET("/activities/:activity_id/stats", handler.GetActivityStats)
	}

	// 活动相关路由
	activities := v1.Group("/activities")
	{
		activities.GET("/active-now", handler.GetActiveNow)
		activities.POST("/:activity_id/bulk-check-in", middleware.BulkCheckInRateLimitMiddleware(), handler.BulkCheckIn) // 批量签到按员工限流
	}

	// 签到记录路由
	checkins := v1.Group("/checkins")
	{
		checkins.POST("/:checkin_id/check-in", handler.CheckIn)
		checkins.POST("/:checkin_id/excuse", handler.MarkExcused)
	}
}
