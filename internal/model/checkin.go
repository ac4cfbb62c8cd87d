package model

import "time"

// CheckinStatus 签到状态枚举
type CheckinStatus string

const (
	CheckinStatusPending     CheckinStatus = "pending"      // 待签到
	CheckinStatusCheckedIn   CheckinStatus = "checked_in"   // 员工确认签到
	CheckinStatusAutoChecked CheckinStatus = "auto_checked" // 自动签到
	CheckinStatusMissed      CheckinStatus = "missed"       // 窗口结束仍未签到
	CheckinStatusExcused     CheckinStatus = "excused"      // 请假/豁免
)

// AllCheckinStatuses 按展示顺序列出全部状态
var AllCheckinStatuses = []CheckinStatus{
	CheckinStatusPending,
	CheckinStatusCheckedIn,
	CheckinStatusAutoChecked,
	CheckinStatusMissed,
	CheckinStatusExcused,
}

// checkinTransitions 允许的状态流转：pending 流向四个终态之一
// 除 excused 外的终态只能被请假覆盖，excused 不再变化
var checkinTransitions = map[CheckinStatus][]CheckinStatus{
	CheckinStatusPending: {
		CheckinStatusCheckedIn,
		CheckinStatusAutoChecked,
		CheckinStatusMissed,
		CheckinStatusExcused,
	},
	CheckinStatusCheckedIn:   {CheckinStatusExcused},
	CheckinStatusAutoChecked: {CheckinStatusExcused},
	CheckinStatusMissed:      {CheckinStatusExcused},
}

// Valid 是否为合法状态值
func (s CheckinStatus) Valid() bool {
	for _, st := range AllCheckinStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal 是否为终态
func (s CheckinStatus) IsTerminal() bool {
	return s.Valid() && s != CheckinStatusPending
}

// IsAttended 计入出勤的状态
func (s CheckinStatus) IsAttended() bool {
	return s == CheckinStatusCheckedIn || s == CheckinStatusAutoChecked
}

// CanTransitionTo 判断状态机是否允许 s -> to
func (s CheckinStatus) CanTransitionTo(to CheckinStatus) bool {
	for _, next := range checkinTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources 可以流转到 to 的全部源状态，按展示顺序
func TransitionSources(to CheckinStatus) []CheckinStatus {
	sources := make([]CheckinStatus, 0, len(AllCheckinStatuses))
	for _, from := range AllCheckinStatuses {
		if from.CanTransitionTo(to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// CheckinMethod 签到方式
type CheckinMethod string

const (
	CheckinMethodManual CheckinMethod = "manual"
	CheckinMethodQRScan CheckinMethod = "qr_scan"
	CheckinMethodNFC    CheckinMethod = "nfc"
	CheckinMethodBulk   CheckinMethod = "bulk"
	CheckinMethodAuto   CheckinMethod = "auto"
	CheckinMethodSystem CheckinMethod = "system"
)

// IsStaffMethod 员工操作可以使用的签到方式
func (m CheckinMethod) IsStaffMethod() bool {
	switch m {
	case CheckinMethodManual, CheckinMethodQRScan, CheckinMethodNFC, CheckinMethodBulk:
		return true
	default:
		return false
	}
}

// GuestActivityCheckin 某位客人在某个团期某个活动上的签到记录
// (departure_id, departure_guest_id, activity_id) 唯一
type GuestActivityCheckin struct {
	BaseModel
	DepartureID      int64          `gorm:"not null;uniqueIndex:uk_checkin_pair,priority:1;index:idx_checkins_departure_status,priority:1" json:"departure_id"`
	DepartureGuestID int64          `gorm:"not null;uniqueIndex:uk_checkin_pair,priority:2;index" json:"departure_guest_id"`
	ActivityID       int64          `gorm:"not null;uniqueIndex:uk_checkin_pair,priority:3;index" json:"activity_id"`
	ActivityDate     time.Time      `gorm:"type:date;not null" json:"activity_date"`
	ScheduledTime    string         `gorm:"type:varchar(8);not null" json:"scheduled_time"`
	ScheduledAt      time.Time      `gorm:"type:timestamptz;not null;index:idx_checkins_pending_due,priority:2" json:"scheduled_at"`
	Status           CheckinStatus  `gorm:"column:check_in_status;type:varchar(16);not null;default:'pending';index:idx_checkins_departure_status,priority:2;index:idx_checkins_pending_due,priority:1" json:"check_in_status"`
	CheckedInAt      *time.Time     `gorm:"type:timestamptz" json:"checked_in_at,omitempty"`
	CheckedInBy      *int64         `json:"checked_in_by,omitempty"`
	Method           *CheckinMethod `gorm:"column:check_in_method;type:varchar(16)" json:"check_in_method,omitempty"`
	Latitude         *float64       `json:"latitude,omitempty"`
	Longitude        *float64       `json:"longitude,omitempty"`
	ExcuseReason     *string        `gorm:"type:text" json:"excuse_reason,omitempty"`
	ExcusedBy        *int64         `json:"excused_by,omitempty"`
}

func (GuestActivityCheckin) TableName() string {
	return "guest_activity_checkins"
}

// CheckinPair 唯一键中的 (客人, 活动) 组合
type CheckinPair struct {
	DepartureGuestID int64
	ActivityID       int64
}

// Pair 返回记录对应的 (客人, 活动)
func (c GuestActivityCheckin) Pair() CheckinPair {
	return CheckinPair{DepartureGuestID: c.DepartureGuestID, ActivityID: c.ActivityID}
}

// CheckinUpdate 一次状态流转要写入的字段，nil 表示不修改
type CheckinUpdate struct {
	Status       CheckinStatus
	CheckedInAt  *time.Time
	CheckedInBy  *int64
	Method       *CheckinMethod
	Latitude     *float64
	Longitude    *float64
	ExcuseReason *string
	ExcusedBy    *int64
}

// Columns 转换为 gorm Updates 使用的列集合
func (u CheckinUpdate) Columns(now time.Time) map[string]interface{} {
	cols := map[string]interface{}{
		"check_in_status": u.Status,
		"updated_at":      now,
	}
	if u.CheckedInAt != nil {
		cols["checked_in_at"] = *u.CheckedInAt
	}
	if u.CheckedInBy != nil {
		cols["checked_in_by"] = *u.CheckedInBy
	}
	if u.Method != nil {
		cols["check_in_method"] = *u.Method
	}
	if u.Latitude != nil {
		cols["latitude"] = *u.Latitude
	}
	if u.Longitude != nil {
		cols["longitude"] = *u.Longitude
	}
	if u.ExcuseReason != nil {
		cols["excuse_reason"] = *u.ExcuseReason
	}
	if u.ExcusedBy != nil {
		cols["excused_by"] = *u.ExcusedBy
	}
	return cols
}
