package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"BulkSMS/internal/model"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/snowflake"
	"BulkSMS/storage/mq"
)

type publishFunc func(ctx context.Context, queue string, msgs []mq.Message) error

// Producer 把任务编码为信封并按类型投递到对应队列
type Producer struct {
	publish publishFunc
}

func NewProducer() *Producer {
	return &Producer{publish: mq.PublishBatch}
}

func (p *Producer) AddOne(ctx context.Context, job model.Job) error {
	return p.AddMany(ctx, []model.Job{job})
}

// AddMany 同一批次内按队列分组发布，全部确认后才返回
func (p *Producer) AddMany(ctx context.Context, jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	grouped := make(map[string][]mq.Message)
	order := make([]string, 0, 1)
	for _, job := range jobs {
		if job == nil {
			return fmt.Errorf("nil job in batch")
		}
		queue, err := QueueFor(job.Kind())
		if err != nil {
			return err
		}

		id, err := snowflake.NextMessageID(messagePrefix(job.Kind()))
		if err != nil {
			logger.Logger.Error("Failed to generate message ID",
				zap.String("kind", string(job.Kind())),
				zap.Error(err),
			)
			return fmt.Errorf("failed to generate message ID: %w", err)
		}

		body, err := model.EncodeJob(id, job)
		if err != nil {
			return err
		}

		if _, ok := grouped[queue]; !ok {
			order = append(order, queue)
		}
		grouped[queue] = append(grouped[queue], mq.Message{ID: id, Body: body})
	}

	for _, queue := range order {
		msgs := grouped[queue]
		if err := p.publish(ctx, queue, msgs); err != nil {
			logger.Logger.Error("Failed to publish jobs",
				zap.String("queue", queue),
				zap.Int("count", len(msgs)),
				zap.Error(err),
			)
			return err
		}
		logger.Logger.Debug("Published jobs",
			zap.String("queue", queue),
			zap.Int("count", len(msgs)),
		)
	}
	return nil
}
