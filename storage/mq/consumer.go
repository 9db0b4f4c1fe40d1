package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	mqotel "BulkSMS/pkg/mq"
)

// Delivery 交给业务处理的消息
type Delivery struct {
	ID          string
	Body        []byte
	Redelivered bool
}

type MessageHandler func(ctx context.Context, d Delivery) error

// Dispatcher 决定 handler 在哪个 goroutine 上运行；为 nil 时串行处理
type Dispatcher interface {
	Go(ctx context.Context, fn func(ctx context.Context)) error
}

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
	Dispatcher    Dispatcher
}

// Consume 阻塞消费直到 ctx 结束或 channel 关闭
// 成功或重复消息 ack；校验类错误拒绝且不重回队列（进入死信）；其余错误 nack 重回队列
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

	logger.Logger.Info("Started consuming messages",
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
		zap.Int("prefetch_count", opts.PrefetchCount),
	)

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(opts.ConsumerTag, false)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", opts.Queue)
			}

			process := func(ctx context.Context) {
				handle(ctx, opts, msg)
			}
			if opts.Dispatcher == nil {
				process(ctx)
				continue
			}

			inflight.Add(1)
			if err := opts.Dispatcher.Go(ctx, func(ctx context.Context) {
				defer inflight.Done()
				process(ctx)
			}); err != nil {
				inflight.Done()
				// 未开始处理，交还给 broker
				_ = msg.Nack(false, true)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("dispatcher rejected message: %w", err)
			}
		}
	}
}

func handle(ctx context.Context, opts ConsumeOptions, msg amqp.Delivery) {
	ctx, span := mqotel.StartConsume(ctx, opts.Queue, msg)
	err := opts.Handler(ctx, Delivery{ID: msg.MessageId, Body: msg.Body, Redelivered: msg.Redelivered})
	mqotel.End(ctx, span, "process", opts.Queue, err)

	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.IsSkipMessageError(err):
		logger.Logger.Debug("Skipping duplicate message",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
		)
		_ = msg.Ack(false)
	case errors.IsValidation(err):
		logger.Logger.Error("Rejecting malformed message",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		_ = msg.Reject(false)
	default:
		logger.Logger.Error("Failed to process message",
			zap.String("queue", opts.Queue),
			zap.String("consumer_tag", opts.ConsumerTag),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		_ = msg.Nack(false, true)
	}
}
