package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"TourCheckin/pkg/logger"
	"TourCheckin/storage/database"
	"TourCheckin/storage/mq"
	"TourCheckin/storage/redis"
)

// closeTimeout 三个连接共用的关闭时限
const closeTimeout = 15 * time.Second

// Close 按 MQ、Redis、Database 的顺序关闭连接
// 消费者先停，正在处理的名单变更消息还能完成去重标记与数据库写入
func Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	log := logger.Named("storage")
	log.Info("Closing storage connections...")

	closers := []struct {
		name  string
		close func(context.Context) error
	}{
		{"message queue", mq.Close},
		{"redis", redis.Close},
		{"database", database.Close},
	}

	failed := 0
	for _, c := range closers {
		if err := c.close(ctx); err != nil {
			failed++
			log.Error("Failed to close connection", zap.String("target", c.name), zap.Error(err))
			continue
		}
		log.Info("Connection closed", zap.String("target", c.name))
	}

	log.Info("Storage connections closed", zap.Int("failed", failed))
}
