package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"TourCheckin/config"
	"TourCheckin/pkg/logger"
)

// QueueBinding 声明队列并绑定到交换机
type QueueBinding struct {
	Queue      string
	RoutingKey string
}

var (
	conn     *amqp.Connection
	connMu   sync.RWMutex
	exchange string
)

// Init 建立连接并声明拓扑：一个 topic 交换机，外加本服务消费的队列
func Init(bindings ...QueueBinding) error {
	cfg := config.Cfg

	c, err := amqp.Dial(cfg.GetRabbitMQURL())
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	connMu.Lock()
	conn = c
	exchange = cfg.RabbitMQExchange
	connMu.Unlock()

	if err := DeclareTopology(cfg.RabbitMQExchange, bindings...); err != nil {
		return err
	}

	logger.Logger.Info("RabbitMQ initialized",
		zap.String("component", "rabbitmq"),
		zap.String("exchange", cfg.RabbitMQExchange),
		zap.Int("bindings", len(bindings)),
	)
	return nil
}

// Connection 返回当前连接，可能为 nil
func Connection() *amqp.Connection {
	connMu.RLock()
	defer connMu.RUnlock()
	return conn
}

// Exchange 返回业务事件交换机名
func Exchange() string {
	connMu.RLock()
	defer connMu.RUnlock()
	return exchange
}

// DeclareTopology 声明交换机、队列与绑定，重复声明是幂等的
func DeclareTopology(exchangeName string, bindings ...QueueBinding) error {
	c := Connection()
	if c == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchangeName, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, exchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.Queue, err)
		}
	}

	return nil
}

// Close 关闭发布 channel 与连接
func Close(ctx context.Context) error {
	pubMutex.Lock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		_ = publisherCh.Close()
	}
	publisherCh = nil
	pubMutex.Unlock()

	connMu.Lock()
	defer connMu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
