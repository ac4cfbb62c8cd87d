package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"TourCheckin/pkg/errors"
)

// Envelope 统一响应格式：成功时携带 data，失败时携带 errors
type Envelope struct {
	Data    interface{}   `json:"data,omitempty"`
	Meta    interface{}   `json:"meta,omitempty"`
	Message string        `json:"message"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
	Success bool          `json:"success"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

func errorToHTTPStatus(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound // 404
	case errors.KindInvalidTransition:
		return http.StatusConflict // 409
	case errors.KindValidation:
		return http.StatusBadRequest // 400
	case errors.KindUnauthorized:
		return http.StatusUnauthorized // 401
	case errors.KindRateLimited:
		return http.StatusTooManyRequests // 429
	default:
		return http.StatusInternalServerError // 500
	}
}

func errorDetail(err error) ErrorDetail {
	if def, ok := errors.As(err); ok {
		return ErrorDetail{Code: def.Code, Message: def.Message}
	}
	// 基础设施错误不向调用方暴露内部信息
	return ErrorDetail{Code: errors.InternalFailure.Code, Message: errors.InternalFailure.Message}
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	detail := errorDetail(err)
	detail.Details = details

	c.JSON(errorToHTTPStatus(err), Envelope{
		Success: false,
		Message: detail.Message,
		Errors:  []ErrorDetail{detail},
	})
}

// ValidationError 返回字段级校验错误
func ValidationError(ctx context.Context, c *app.RequestContext, fields []ErrorDetail) {
	c.JSON(http.StatusBadRequest, Envelope{
		Success: false,
		Message: errors.InvalidRequest.Message,
		Errors:  fields,
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	SuccessWithMessage(ctx, c, "OK", data)
}

func SuccessWithMessage(ctx context.Context, c *app.RequestContext, message string, data interface{}) {
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Message: "OK",
		Data:    data,
		Meta:    meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, Envelope{
		Success: false,
		Message: errors.InvalidRequest.Message,
		Errors: []ErrorDetail{{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		}},
	})
}
