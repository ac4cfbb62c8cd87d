package queue

import (
	"TourCheckin/internal/model"
	"TourCheckin/storage/mq"
)

// 本服务消费的队列
const (
	QueueRosterChanged = "tourcheckin.departure.roster_changed"
)

// 消息 ID 前缀
const (
	prefixCheckinTransitioned = "checkin_evt"
	prefixDailyRollup         = "rollup_evt"
	prefixRosterChanged       = "roster_chg"
)

// WorkerBindings worker 进程需要声明的队列绑定
func WorkerBindings() []mq.QueueBinding {
	return []mq.QueueBinding{
		{Queue: QueueRosterChanged, RoutingKey: model.RoutingKeyRosterChanged},
	}
}
