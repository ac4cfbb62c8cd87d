package storage

import (
	"TourCheckin/storage/database"
	"TourCheckin/storage/mq"
	"TourCheckin/storage/redis"
)

// Init 统一初始化存储层，bindings 为当前进程需要消费的队列
func Init(bindings ...mq.QueueBinding) error {
	if err := database.Init(); err != nil {
		return err
	}

	if err := redis.Init(); err != nil {
		return err
	}

	if err := mq.Init(bindings...); err != nil {
		return err
	}

	return nil
}
