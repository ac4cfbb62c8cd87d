package model

// 路由键
const (
	RoutingKeyCheckinTransitioned = "checkin.transitioned"
	RoutingKeyDailyRollup         = "departure.daily_rollup"
	RoutingKeyRosterChanged       = "departure.roster_changed"
)

// CheckinTransitionedEvent 签到记录状态流转事件，下游用于通知与看板刷新
type CheckinTransitionedEvent struct {
	MessageID        string        `json:"message_id"` // 消息唯一ID，用于幂等性检查
	OccurredAt       string        `json:"occurred_at"`
	CheckinID        int64         `json:"checkin_id"`
	DepartureID      int64         `json:"departure_id"`
	DepartureGuestID int64         `json:"departure_guest_id"`
	ActivityID       int64         `json:"activity_id"`
	FromStatus       CheckinStatus `json:"from_status"`
	ToStatus         CheckinStatus `json:"to_status"`
	Method           string        `json:"method,omitempty"`
	StaffID          *int64        `json:"staff_id,omitempty"`
}

// DailyRollupEvent 团期每日汇总事件
type DailyRollupEvent struct {
	MessageID      string           `json:"message_id"`
	DepartureID    int64            `json:"departure_id"`
	DepartureCode  string           `json:"departure_code"`
	RollupDate     string           `json:"rollup_date"`
	Counts         map[string]int64 `json:"counts"`
	Total          int64            `json:"total"`
	AttendanceRate float64          `json:"attendance_rate"`
}

// RosterChangedMessage 名单或行程变化，需要补齐签到记录
type RosterChangedMessage struct {
	MessageID   string `json:"message_id"`
	DepartureID int64  `json:"departure_id"`
	Reason      string `json:"reason,omitempty"` // guest_added, itinerary_updated ...
}
