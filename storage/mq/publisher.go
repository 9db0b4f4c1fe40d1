package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"BulkSMS/pkg/logger"
	mqotel "BulkSMS/pkg/mq"
)

// Message 已编码好的待发布消息
type Message struct {
	ID   string
	Body []byte
}

var (
	publisherCh *amqp.Channel
	pubMutex    sync.RWMutex // 读多写少
)

// getPublisherChannel 复用一个开启 confirm 模式的发布 channel，关闭后下次发布时重建
func getPublisherChannel() (*amqp.Channel, error) {
	pubMutex.RLock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		ch := publisherCh
		pubMutex.RUnlock()
		return ch, nil
	}
	pubMutex.RUnlock()

	pubMutex.Lock()
	defer pubMutex.Unlock()

	if publisherCh != nil && !publisherCh.IsClosed() {
		return publisherCh, nil
	}

	c := Connection()
	if c == nil {
		return nil, fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := c.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	publisherCh = ch

	go func(ch *amqp.Channel) {
		<-ch.NotifyClose(make(chan *amqp.Error, 1))

		pubMutex.Lock()
		if publisherCh == ch {
			publisherCh = nil
		}
		pubMutex.Unlock()

		logger.Logger.Warn("Publisher channel closed, will recreate on next publish",
			zap.String("component", "rabbitmq"),
		)
	}(ch)

	logger.Logger.Info("Publisher channel created", zap.String("component", "rabbitmq"))
	return ch, nil
}

func closePublisher() {
	pubMutex.Lock()
	defer pubMutex.Unlock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		_ = publisherCh.Close()
	}
	publisherCh = nil
}

// PublishMessage 发布单条持久化消息并等待 broker 确认
func PublishMessage(ctx context.Context, queue string, msg Message) error {
	return PublishBatch(ctx, queue, []Message{msg})
}

// PublishBatch 批量发布，全部确认后才返回；任意一条未被确认即返回错误
func PublishBatch(ctx context.Context, queue string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ch, err := getPublisherChannel()
	if err != nil {
		return err
	}

	confirms := make([]*amqp.DeferredConfirmation, 0, len(msgs))
	for _, m := range msgs {
		pub := amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    m.ID,
			Body:         m.Body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		}

		spanCtx, span := mqotel.StartPublish(ctx, queue, &pub)
		dc, err := ch.PublishWithDeferredConfirmWithContext(spanCtx, "", queue, false, false, pub)
		mqotel.End(spanCtx, span, "publish", queue, err)
		if err != nil {
			return fmt.Errorf("failed to publish message %s: %w", m.ID, err)
		}
		confirms = append(confirms, dc)
	}

	for i, dc := range confirms {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for confirm of message %s: %w", msgs[i].ID, err)
		}
		if !acked {
			return fmt.Errorf("broker nacked message %s", msgs[i].ID)
		}
	}

	return nil
}
