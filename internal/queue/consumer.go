package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"TourCheckin/internal/model"
	pkgerrors "TourCheckin/pkg/errors"
	"TourCheckin/pkg/logger"
	"TourCheckin/storage/mq"
)

// InitializeFunc 为团期补齐签到记录
type InitializeFunc func(ctx context.Context, departureID int64) error

// Deduper 消息幂等标记
type Deduper interface {
	TryMark(ctx context.Context, messageID string) (bool, error)
	MarkDone(ctx context.Context, messageID string) error
	Unmark(ctx context.Context, messageID string) error
}

// NewRosterChangedHandler 名单或行程变化后重新执行初始化，初始化本身可重复执行
func NewRosterChangedHandler(initialize InitializeFunc, deduper Deduper, log *zap.Logger) mq.MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var msg model.RosterChangedMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: failed to unmarshal roster changed message: %v", mq.ErrDropMessage, err)
		}
		if msg.DepartureID <= 0 {
			return fmt.Errorf("%w: roster changed message without departure id", mq.ErrDropMessage)
		}

		dedupe := deduper != nil && msg.MessageID != ""
		if dedupe {
			ok, err := deduper.TryMark(ctx, msg.MessageID)
			if err != nil {
				// 检查失败时继续处理，初始化本身幂等
				log.Warn("Failed to check message processed status",
					zap.String("message_id", msg.MessageID),
					zap.Error(err),
				)
			} else if !ok {
				log.Info("Message already processed or being processed, skipping",
					zap.String("message_id", msg.MessageID),
				)
				return mq.ErrSkipMessage
			}
		}

		log.Info("Processing roster changed",
			zap.String("message_id", msg.MessageID),
			zap.Int64("departure_id", msg.DepartureID),
			zap.String("reason", msg.Reason),
		)

		if err := initialize(ctx, msg.DepartureID); err != nil {
			if pkgerrors.KindOf(err) == pkgerrors.KindNotFound {
				// 团期或行程不存在，重试没有意义
				if dedupe {
					_ = deduper.MarkDone(ctx, msg.MessageID)
				}
				return fmt.Errorf("%w: %v", mq.ErrDropMessage, err)
			}
			if dedupe {
				if uerr := deduper.Unmark(ctx, msg.MessageID); uerr != nil {
					log.Warn("Failed to unmark message", zap.String("message_id", msg.MessageID), zap.Error(uerr))
				}
			}
			return fmt.Errorf("failed to initialize check-ins for departure %d: %w", msg.DepartureID, err)
		}

		if dedupe {
			if err := deduper.MarkDone(ctx, msg.MessageID); err != nil {
				log.Warn("Failed to mark message as processed",
					zap.String("message_id", msg.MessageID),
					zap.Error(err),
				)
			}
		}
		return nil
	}
}

// consumerRestartDelay 消费者异常退出后的重启间隔
const consumerRestartDelay = 5 * time.Second

// StartAllConsumers 启动所有消费者，阻塞直到 ctx 结束
func StartAllConsumers(ctx context.Context, initialize InitializeFunc, deduper Deduper) {
	var wg sync.WaitGroup

	consumers := []mq.ConsumeOptions{
		{
			Queue:         QueueRosterChanged,
			ConsumerTag:   "roster_changed_consumer",
			PrefetchCount: 10,
			Handler:       NewRosterChangedHandler(initialize, deduper, logger.Named("roster_consumer")),
		},
	}

	for _, opts := range consumers {
		wg.Add(1)
		go func(opts mq.ConsumeOptions) {
			defer wg.Done()
			runConsumer(ctx, opts)
		}(opts)
	}

	wg.Wait()

	logger.L().Info("All consumers stopped")
}

func runConsumer(ctx context.Context, opts mq.ConsumeOptions) {
	for {
		logger.L().Info("Starting consumer", zap.String("queue", opts.Queue))

		err := mq.Consume(ctx, opts)
		if ctx.Err() != nil {
			return
		}
		logger.L().Error("Consumer exited with error, restarting",
			zap.String("queue", opts.Queue),
			zap.Duration("delay", consumerRestartDelay),
			zap.Error(err),
		)

		timer := time.NewTimer(consumerRestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
