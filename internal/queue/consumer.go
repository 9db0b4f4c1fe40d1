package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"BulkSMS/internal/cache"
	"BulkSMS/internal/model"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/storage/mq"
)

// SendHandler 处理发送任务
type SendHandler interface {
	Send(ctx context.Context, job *model.SendMessageJob) error
}

// StatusHandler 处理单条与批量对账任务
type StatusHandler interface {
	HandleStatus(ctx context.Context, job *model.UpdateDeliveryStatusJob) error
	HandleBulkStatus(ctx context.Context, job *model.BulkUpdateDeliveryStatusJob) error
}

// Consumer 在 worker 边界解码信封、去重后交给对应的 handler
type Consumer struct {
	dedupe cache.Deduper
	sender SendHandler
	status StatusHandler
}

func NewConsumer(dedupe cache.Deduper, sender SendHandler, status StatusHandler) *Consumer {
	return &Consumer{dedupe: dedupe, sender: sender, status: status}
}

// Handle 满足 mq.MessageHandler
func (c *Consumer) Handle(ctx context.Context, d mq.Delivery) error {
	env, job, err := model.DecodeJob(d.Body)
	if err != nil {
		return err
	}

	key := env.MessageID
	if key == "" {
		key = d.ID
	}

	if key != "" && c.dedupe != nil {
		first, err := c.dedupe.TryMark(ctx, key)
		if err != nil {
			// 去重失败不阻塞处理，结果写入本身是幂等的
			logger.Logger.Warn("Failed to check message processed status",
				zap.String("message_id", key),
				zap.Error(err),
			)
		} else if !first {
			metrics.RecordDuplicateJob(ctx, string(env.Kind))
			logger.Logger.Info("Message already processed or being processed, skipping",
				zap.String("message_id", key),
				zap.String("kind", string(env.Kind)),
			)
			return &errors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", key)}
		}
	}

	err = c.dispatch(ctx, job)
	switch {
	case err == nil, errors.IsSkipMessageError(err), errors.IsValidation(err):
		// 不会再重试的结果都视为已处理
		c.markDone(ctx, key)
	default:
		c.unmark(ctx, key)
	}
	return err
}

func (c *Consumer) dispatch(ctx context.Context, job model.Job) error {
	switch j := job.(type) {
	case model.SendMessageJob:
		if c.sender == nil {
			return fmt.Errorf("send handler not initialized")
		}
		return c.sender.Send(ctx, &j)
	case model.UpdateDeliveryStatusJob:
		if c.status == nil {
			return fmt.Errorf("status handler not initialized")
		}
		return c.status.HandleStatus(ctx, &j)
	case model.BulkUpdateDeliveryStatusJob:
		if c.status == nil {
			return fmt.Errorf("status handler not initialized")
		}
		return c.status.HandleBulkStatus(ctx, &j)
	}
	return errors.UnknownJobKind
}

func (c *Consumer) markDone(ctx context.Context, key string) {
	if key == "" || c.dedupe == nil {
		return
	}
	if err := c.dedupe.MarkDone(ctx, key); err != nil {
		logger.Logger.Warn("Failed to mark message as processed",
			zap.String("message_id", key),
			zap.Error(err),
		)
	}
}

func (c *Consumer) unmark(ctx context.Context, key string) {
	if key == "" || c.dedupe == nil {
		return
	}
	if err := c.dedupe.Unmark(context.WithoutCancel(ctx), key); err != nil {
		logger.Logger.Warn("Failed to unmark message",
			zap.String("message_id", key),
			zap.Error(err),
		)
	}
}

// Pools 每类队列使用的执行池
type Pools struct {
	Send   mq.Dispatcher
	Status mq.Dispatcher
}

// StartAllConsumers 阻塞运行三个队列的消费者，任一退出则全部停止
func StartAllConsumers(ctx context.Context, c *Consumer, pools Pools, prefetch int) error {
	if prefetch <= 0 {
		prefetch = 50
	}

	g, gctx := errgroup.WithContext(ctx)
	consumers := []mq.ConsumeOptions{
		{Queue: QueueSendMessage, ConsumerTag: "sms_send_consumer", PrefetchCount: prefetch, Dispatcher: pools.Send},
		{Queue: QueueDeliveryStatus, ConsumerTag: "delivery_status_consumer", PrefetchCount: prefetch, Dispatcher: pools.Status},
		{Queue: QueueBulkDeliveryStatus, ConsumerTag: "bulk_delivery_status_consumer", PrefetchCount: 4, Dispatcher: pools.Status},
	}
	for _, opts := range consumers {
		opts.Handler = c.Handle
		g.Go(func() error {
			if err := mq.Consume(gctx, opts); err != nil {
				return fmt.Errorf("consumer %s stopped: %w", opts.ConsumerTag, err)
			}
			return nil
		})
	}
	return g.Wait()
}
