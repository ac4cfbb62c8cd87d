package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"TourCheckin/pkg/logger"
)

var (
	// ErrSkipMessage 消息已处理过，直接 ack
	ErrSkipMessage = errors.New("message skipped")
	// ErrDropMessage 消息无法处理（格式错误等），nack 且不重新入队
	ErrDropMessage = errors.New("message dropped")
)

type MessageHandler func(ctx context.Context, body []byte) error

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
}

// Consume 阻塞消费直到 ctx 结束或 channel 被关闭
func Consume(ctx context.Context, opts ConsumeOptions) error {
	c := Connection()
	if c == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if opts.PrefetchCount > 0 {
		if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	msgs, err := ch.Consume(
		opts.Queue,
		opts.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log := logger.L().With(
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
	)
	log.Info("Started consuming messages", zap.Int("prefetch_count", opts.PrefetchCount))

	for {
		select {
		case <-ctx.Done():
			log.Info("Consumer stopping", zap.Error(ctx.Err()))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", opts.Queue)
			}
			handleDelivery(ctx, log, opts, msg)
		}
	}
}

func handleDelivery(ctx context.Context, log *zap.Logger, opts ConsumeOptions, msg amqp.Delivery) {
	msgCtx, span := startConsumeSpan(extractTraceHeaders(ctx, msg.Headers), opts.Queue, msg.MessageId)
	defer span.End()

	err := opts.Handler(msgCtx, msg.Body)
	endSpan(span, err)

	switch {
	case err == nil, errors.Is(err, ErrSkipMessage):
		_ = msg.Ack(false)
	case errors.Is(err, ErrDropMessage):
		log.Error("Dropping unprocessable message", zap.String("message_id", msg.MessageId), zap.Error(err))
		_ = msg.Nack(false, false)
	default:
		log.Error("Failed to process message", zap.String("message_id", msg.MessageId), zap.Error(err))
		_ = msg.Nack(false, true)
	}
}
