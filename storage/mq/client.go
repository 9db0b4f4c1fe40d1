package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/pkg/logger"
)

var (
	conn   *amqp.Connection
	connMu sync.RWMutex
)

func Init() error {
	connMu.Lock()
	defer connMu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	c, err := amqp.DialConfig(config.Cfg.GetRabbitMQURL(), amqp.Config{
		Properties: amqp.Table{"connection_name": config.Cfg.ServiceName},
	})
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	conn = c

	go func() {
		if reason, ok := <-c.NotifyClose(make(chan *amqp.Error, 1)); ok {
			logger.Logger.Error("RabbitMQ connection closed",
				zap.String("component", "rabbitmq"),
				zap.String("reason", reason.Error()),
			)
		}
	}()

	logger.Logger.Info("RabbitMQ connected", zap.String("component", "rabbitmq"))
	return nil
}

func Connection() *amqp.Connection {
	connMu.RLock()
	defer connMu.RUnlock()
	return conn
}

// DeclareQueue 声明持久化队列，失败的消息进入 <name>.dead
func DeclareQueue(name string) error {
	c := Connection()
	if c == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	deadLetter := name + ".dead"
	if _, err := ch.QueueDeclare(deadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", deadLetter, err)
	}

	_, err = ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadLetter,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func Close(ctx context.Context) error {
	closePublisher()

	connMu.Lock()
	c := conn
	conn = nil
	connMu.Unlock()

	if c == nil || c.IsClosed() {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
