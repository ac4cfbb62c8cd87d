package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"TourCheckin/internal/middleware"
	"TourCheckin/internal/model/dto"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/response"
)

// pathID 解析正整数路径参数，失败时已写入 400 响应
func pathID(ctx context.Context, c *app.RequestContext, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		response.ErrorWithDetails(ctx, c, pkgerrors.InvalidPath, map[string]interface{}{
			"param": name,
			"value": raw,
		})
		return 0, false
	}
	return id, true
}

// currentStaff 认证中间件写入的员工 ID，缺失时已写入 401 响应
func currentStaff(ctx context.Context, c *app.RequestContext) (int64, bool) {
	staffID, ok := middleware.GetStaffID(c)
	if !ok {
		response.Error(ctx, c, pkgerrors.Unauthorized)
		return 0, false
	}
	return staffID, true
}

// bindJSON 绑定并校验 JSON body；optional 为 true 时允许空 body
func bindJSON(ctx context.Context, c *app.RequestContext, req interface{}, optional bool) bool {
	if !optional || len(c.Request.Body()) > 0 {
		if err := c.BindJSON(req); err != nil {
			response.BindError(ctx, c, err)
			return false
		}
	}
	return validateRequest(ctx, c, req)
}

// bindQuery 绑定并校验查询参数
func bindQuery(ctx context.Context, c *app.RequestContext, req interface{}) bool {
	if err := c.BindQuery(req); err != nil {
		response.BindError(ctx, c, err)
		return false
	}
	return validateRequest(ctx, c, req)
}

func validateRequest(ctx context.Context, c *app.RequestContext, req interface{}) bool {
	if details := dto.Validate(req); len(details) > 0 {
		response.ValidationError(ctx, c, details)
		return false
	}
	return true
}
