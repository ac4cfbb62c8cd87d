package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"TourCheckin/config"
	"TourCheckin/internal/model"
	"TourCheckin/pkg/logger"
	"TourCheckin/pkg/snowflake"
	"TourCheckin/storage/mq"
)

// PublishFunc 发布到交换机，默认为 mq.PublishMessage
type PublishFunc func(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error

// Publisher 业务事件生产者
type Publisher struct {
	exchange string
	publish  PublishFunc
	nextID   func(prefix string) (string, error)
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

var (
	defaultPublisher *Publisher
	publisherOnce    sync.Once
)

// DefaultPublisher 使用全局 MQ 连接的生产者
func DefaultPublisher() *Publisher {
	publisherOnce.Do(func() {
		defaultPublisher = NewPublisher(config.Cfg.RabbitMQExchange, mq.PublishMessage, logger.Named("producer"))
	})
	return defaultPublisher
}

func NewPublisher(exchange string, publish PublishFunc, logger *zap.Logger) *Publisher {
	return &Publisher{
		exchange: exchange,
		publish:  publish,
		nextID:   snowflake.NextMessageID,
		// 连续失败 5 次后熔断，30 秒后尝试恢复
		breaker: NewCircuitBreaker("rabbitmq_publish", 5, 30*time.Second, logger),
		logger:  logger,
	}
}

// PublishCheckinTransitioned 发布签到状态流转事件
func (p *Publisher) PublishCheckinTransitioned(ctx context.Context, event model.CheckinTransitionedEvent) error {
	if event.MessageID == "" {
		id, err := p.nextID(prefixCheckinTransitioned)
		if err != nil {
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		event.MessageID = id
	}

	if err := p.send(ctx, model.RoutingKeyCheckinTransitioned, event.MessageID, event); err != nil {
		return err
	}

	p.logger.Debug("Published check-in transition",
		zap.String("message_id", event.MessageID),
		zap.Int64("checkin_id", event.CheckinID),
		zap.String("to_status", string(event.ToStatus)),
	)
	return nil
}

// PublishDailyRollup 发布每日汇总事件
func (p *Publisher) PublishDailyRollup(ctx context.Context, event model.DailyRollupEvent) error {
	if event.MessageID == "" {
		id, err := p.nextID(prefixDailyRollup)
		if err != nil {
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		event.MessageID = id
	}

	if err := p.send(ctx, model.RoutingKeyDailyRollup, event.MessageID, event); err != nil {
		return err
	}

	p.logger.Info("Published daily rollup",
		zap.String("message_id", event.MessageID),
		zap.Int64("departure_id", event.DepartureID),
		zap.String("rollup_date", event.RollupDate),
	)
	return nil
}

// PublishRosterChanged 通知 worker 为团期补齐签到记录
func (p *Publisher) PublishRosterChanged(ctx context.Context, msg model.RosterChangedMessage) error {
	if msg.MessageID == "" {
		id, err := p.nextID(prefixRosterChanged)
		if err != nil {
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		msg.MessageID = id
	}

	if err := p.send(ctx, model.RoutingKeyRosterChanged, msg.MessageID, msg); err != nil {
		return err
	}

	p.logger.Info("Published roster changed",
		zap.String("message_id", msg.MessageID),
		zap.Int64("departure_id", msg.DepartureID),
		zap.String("reason", msg.Reason),
	)
	return nil
}

func (p *Publisher) send(ctx context.Context, routingKey, messageID string, body interface{}) error {
	err := p.breaker.Call(func() error {
		return p.publish(ctx, p.exchange, routingKey, messageID, body)
	})
	if err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("routing_key", routingKey),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
