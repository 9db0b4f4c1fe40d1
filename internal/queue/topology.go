package queue

import (
	"fmt"

	"BulkSMS/internal/model"
	"BulkSMS/storage/mq"
)

// 每种任务一个持久队列，各自带 <name>.dead 死信队列
const (
	QueueSendMessage        = "sms.send"
	QueueDeliveryStatus     = "sms.delivery_status"
	QueueBulkDeliveryStatus = "sms.delivery_status.bulk"
)

// QueueFor 任务类型对应的队列
func QueueFor(kind model.JobKind) (string, error) {
	switch kind {
	case model.JobKindSendMessage:
		return QueueSendMessage, nil
	case model.JobKindUpdateDeliveryStatus:
		return QueueDeliveryStatus, nil
	case model.JobKindBulkUpdateDeliveryStatus:
		return QueueBulkDeliveryStatus, nil
	}
	return "", fmt.Errorf("no queue for job kind %q", kind)
}

// messagePrefix 消息 ID 前缀，便于在日志中区分来源
func messagePrefix(kind model.JobKind) string {
	switch kind {
	case model.JobKindSendMessage:
		return "send_"
	case model.JobKindUpdateDeliveryStatus:
		return "status_"
	default:
		return "status_bulk_"
	}
}

// DeclareTopology 声明全部队列，生产者与消费者启动时各调用一次
func DeclareTopology() error {
	for _, name := range []string{QueueSendMessage, QueueDeliveryStatus, QueueBulkDeliveryStatus} {
		if err := mq.DeclareQueue(name); err != nil {
			return err
		}
	}
	return nil
}
