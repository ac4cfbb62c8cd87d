package errors

import stderrors "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// Kind 错误分类，决定 HTTP 状态码与调用方的处理方式
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindUnauthorized      Kind = "unauthorized"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal"
)

// 资源不存在。
var (
	DepartureNotFound = Definition{Code: "DEPARTURE_NOT_FOUND", Message: "Departure not found"}
	ItineraryNotFound = Definition{Code: "ITINERARY_NOT_FOUND", Message: "Itinerary has no activities"}
	ActivityNotFound  = Definition{Code: "ACTIVITY_NOT_FOUND", Message: "Activity not found"}
	CheckinNotFound   = Definition{Code: "CHECKIN_NOT_FOUND", Message: "Check-in record not found"}
	GuestNotFound     = Definition{Code: "GUEST_NOT_FOUND", Message: "Guest not found"}
)

// 状态流转。
var (
	CheckinNotPending = Definition{Code: "CHECKIN_NOT_PENDING", Message: "Check-in record is no longer pending"}
)

// 参数校验。
var (
	InvalidRequest       = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	InvalidPath          = Definition{Code: "INVALID_PATH", Message: "Invalid path parameter"}
	ExcuseReasonRequired = Definition{Code: "EXCUSE_REASON_REQUIRED", Message: "Excuse reason is required"}
	GuestIDsRequired     = Definition{Code: "GUEST_IDS_REQUIRED", Message: "At least one guest id is required"}
	InvalidCheckinMethod = Definition{Code: "INVALID_CHECKIN_METHOD", Message: "Invalid check-in method"}
	InvalidCheckinStatus = Definition{Code: "INVALID_CHECKIN_STATUS", Message: "Invalid check-in status"}
)

// 认证相关错误。
var (
	Unauthorized    = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidStaffID  = Definition{Code: "INVALID_STAFF_ID", Message: "Invalid staff ID format"}
	InternalFailure = Definition{Code: "INTERNAL_ERROR", Message: "Internal server error"}
)

// 限流。
var (
	TooManyRequests = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests, please retry later"}
)

// 基础设施。
var (
	QueueUnavailable = Definition{Code: "QUEUE_UNAVAILABLE", Message: "Message queue is not available"}
)

var kinds = map[string]Kind{
	DepartureNotFound.Code:    KindNotFound,
	ItineraryNotFound.Code:    KindNotFound,
	ActivityNotFound.Code:     KindNotFound,
	CheckinNotFound.Code:      KindNotFound,
	GuestNotFound.Code:        KindNotFound,
	CheckinNotPending.Code:    KindInvalidTransition,
	InvalidRequest.Code:       KindValidation,
	InvalidPath.Code:          KindValidation,
	ExcuseReasonRequired.Code: KindValidation,
	GuestIDsRequired.Code:     KindValidation,
	InvalidCheckinMethod.Code: KindValidation,
	InvalidCheckinStatus.Code: KindValidation,
	Unauthorized.Code:         KindUnauthorized,
	InvalidStaffID.Code:       KindUnauthorized,
	InternalFailure.Code:      KindInternal,
	TooManyRequests.Code:      KindRateLimited,
	QueueUnavailable.Code:     KindInternal,
}

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	DepartureNotFound.Code:    DepartureNotFound,
	ItineraryNotFound.Code:    ItineraryNotFound,
	ActivityNotFound.Code:     ActivityNotFound,
	CheckinNotFound.Code:      CheckinNotFound,
	GuestNotFound.Code:        GuestNotFound,
	CheckinNotPending.Code:    CheckinNotPending,
	InvalidRequest.Code:       InvalidRequest,
	InvalidPath.Code:          InvalidPath,
	ExcuseReasonRequired.Code: ExcuseReasonRequired,
	GuestIDsRequired.Code:     GuestIDsRequired,
	InvalidCheckinMethod.Code: InvalidCheckinMethod,
	InvalidCheckinStatus.Code: InvalidCheckinStatus,
	Unauthorized.Code:         Unauthorized,
	InvalidStaffID.Code:       InvalidStaffID,
	InternalFailure.Code:      InternalFailure,
	TooManyRequests.Code:      TooManyRequests,
	QueueUnavailable.Code:     QueueUnavailable,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// As 从错误链中取出 Definition
func As(err error) (Definition, bool) {
	var def Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return Definition{}, false
}

// KindOf 返回错误分类，非 Definition 的错误一律视为基础设施错误
func KindOf(err error) Kind {
	def, ok := As(err)
	if !ok {
		return KindInternal
	}
	if kind, ok := kinds[def.Code]; ok {
		return kind
	}
	return KindInternal
}

// WithMessage 保留错误码，替换提示信息
func (d Definition) WithMessage(msg string) Definition {
	return Definition{Code: d.Code, Message: msg}
}

// Is 按错误码比较，WithMessage 派生的错误仍然可以被 errors.Is 识别
func (d Definition) Is(target error) bool {
	t, ok := target.(Definition)
	return ok && t.Code == d.Code
}
