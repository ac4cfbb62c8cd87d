package dto

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/response"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// 错误字段名使用 json/query 标签，和请求里的字段一致
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "query"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
	return validate
}

// Validate 校验请求结构体，失败时返回字段级错误
func Validate(req interface{}) []response.ErrorDetail {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []response.ErrorDetail{{
			Code:    pkgerrors.InvalidRequest.Code,
			Message: err.Error(),
		}}
	}

	details := make([]response.ErrorDetail, 0, len(ve))
	for _, fe := range ve {
		details = append(details, response.ErrorDetail{
			Field:   fe.Field(),
			Code:    fieldErrorCode(fe),
			Message: fieldErrorMessage(fe),
		})
	}
	return details
}

// fieldErrorCode 业务上有专门错误码的字段沿用对应错误码
func fieldErrorCode(fe validator.FieldError) string {
	switch fe.Field() {
	case "reason":
		if fe.Tag() == "required" {
			return pkgerrors.ExcuseReasonRequired.Code
		}
	case "guest_ids":
		if fe.Tag() == "required" || fe.Tag() == "min" {
			return pkgerrors.GuestIDsRequired.Code
		}
	case "method":
		return pkgerrors.InvalidCheckinMethod.Code
	case "status":
		return pkgerrors.InvalidCheckinStatus.Code
	}
	return pkgerrors.InvalidRequest.Code
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "latitude", "longitude":
		return fe.Field() + " is not a valid " + fe.Tag()
	default:
		return fe.Field() + " is invalid"
	}
}
