package dto

import (
	"TourCheckin/internal/model"
	"TourCheckin/internal/repository"
)

// ========== 签到相关 DTO ==========

// CheckInRequest 单人签到请求，body 可为空
type CheckInRequest struct {
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Method    string   `json:"method,omitempty" validate:"omitempty,oneof=manual qr_scan nfc bulk"`
}

// CheckinMethod 未指定时返回空，由服务层取默认值
func (r CheckInRequest) CheckinMethod() model.CheckinMethod {
	return model.CheckinMethod(r.Method)
}

// ExcuseRequest 请假标记请求
type ExcuseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// BulkCheckInRequest 批量签到请求
type BulkCheckInRequest struct {
	DepartureID *int64  `json:"departure_id,omitempty" validate:"omitempty,gt=0"`
	Method      string  `json:"method,omitempty" validate:"omitempty,oneof=manual qr_scan nfc bulk"`
	GuestIDs    []int64 `json:"guest_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

func (r BulkCheckInRequest) CheckinMethod() model.CheckinMethod {
	return model.CheckinMethod(r.Method)
}

// ListCheckinsQuery 签到记录查询参数
type ListCheckinsQuery struct {
	ActivityID *int64 `query:"activity_id" validate:"omitempty,gt=0"`
	GuestID    *int64 `query:"guest_id" validate:"omitempty,gt=0"`
	Status     string `query:"status" validate:"omitempty,oneof=pending checked_in auto_checked missed excused"`
	Limit      int    `query:"limit" validate:"omitempty,min=1,max=500"`
	Offset     int    `query:"offset" validate:"omitempty,min=0"`
}

// DefaultListLimit 未指定 limit 时的默认条数
const DefaultListLimit = 100

// Filter 转换为仓储层过滤条件
func (q ListCheckinsQuery) Filter(departureID int64) repository.CheckinFilter {
	filter := repository.CheckinFilter{
		DepartureID: departureID,
		ActivityID:  q.ActivityID,
		GuestID:     q.GuestID,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}
	if q.Status != "" {
		status := model.CheckinStatus(q.Status)
		filter.Status = &status
	}
	return filter
}

// ActiveNowQuery 进行中活动查询参数
type ActiveNowQuery struct {
	DepartureID *int64 `query:"departure_id" validate:"omitempty,gt=0"`
}

// ========== 响应 DTO ==========

// GuestSummary 客人及其签到计数
type GuestSummary struct {
	ID                  int64  `json:"id"`
	DepartureID         int64  `json:"departure_id"`
	GuestName           string `json:"guest_name"`
	TotalActivities     int    `json:"total_activities"`
	CheckedInActivities int    `json:"checked_in_activities"`
	MissedActivities    int    `json:"missed_activities"`
}

// NewGuestSummary 从 model 转换
func NewGuestSummary(g *model.DepartureGuest) GuestSummary {
	return GuestSummary{
		ID:                  g.ID,
		DepartureID:         g.DepartureID,
		GuestName:           g.GuestName,
		TotalActivities:     g.TotalActivities,
		CheckedInActivities: g.CheckedInActivities,
		MissedActivities:    g.MissedActivities,
	}
}

// PageMeta 列表分页信息
type PageMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
