package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"BulkSMS/pkg/errors"
)

// JobKind 队列任务类型，作为信封上的标签
type JobKind string

const (
	JobKindSendMessage              JobKind = "send_message"
	JobKindUpdateDeliveryStatus     JobKind = "update_delivery_status"
	JobKindBulkUpdateDeliveryStatus JobKind = "bulk_update_delivery_status"
)

// Job 所有任务载荷都实现该接口，Kind 决定信封标签
type Job interface {
	Kind() JobKind
}

// SendMessageJob 给单个接收人发送一条渲染好的短信
type SendMessageJob struct {
	StoreID    int64  `json:"store_id" validate:"required,gt=0"`
	CampaignID int64  `json:"campaign_id" validate:"required,gt=0"`
	ContactID  *int64 `json:"contact_id,omitempty"`
	// 号码合法性由 worker 判定并记为失败，这里只要求非空，见 UsablePhone
	Phone    string `json:"phone" validate:"required,max=32"`
	Body     string `json:"body" validate:"required,max=4096"`
	SenderID string `json:"sender_id,omitempty" validate:"max=32"`
	Attempt  int    `json:"attempt" validate:"gte=0"`
}

func (SendMessageJob) Kind() JobKind { return JobKindSendMessage }

const maxJobPhoneLength = 32

// UsablePhone 号码能否通过 SendMessageJob 的校验，与 Phone 字段的 validate 标签保持一致
func UsablePhone(phone string) bool {
	return strings.TrimSpace(phone) != "" && utf8.RuneCountInString(phone) <= maxJobPhoneLength
}

// UpdateDeliveryStatusJob 对单个供应商消息做对账；State 为空时主动查询供应商
type UpdateDeliveryStatusJob struct {
	ProviderMessageID string        `json:"provider_message_id" validate:"required,max=128"`
	State             DeliveryState `json:"state,omitempty" validate:"omitempty,oneof=queued sending sent delivered undelivered failed"`
	ObservedAt        *time.Time    `json:"observed_at,omitempty"`
}

func (UpdateDeliveryStatusJob) Kind() JobKind { return JobKindUpdateDeliveryStatus }

// BulkUpdateDeliveryStatusJob 批量对账，每个 id 独立处理
type BulkUpdateDeliveryStatusJob struct {
	ProviderMessageIDs []string `json:"provider_message_ids" validate:"required,min=1,max=500,dive,required,max=128"`
}

func (BulkUpdateDeliveryStatusJob) Kind() JobKind { return JobKindBulkUpdateDeliveryStatus }

// JobEnvelope 队列上的线格式
type JobEnvelope struct {
	Kind       JobKind         `json:"kind"`
	MessageID  string          `json:"message_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

var validate = validator.New()

// EncodeJob 将任务包装为信封
func EncodeJob(messageID string, job Job) ([]byte, error) {
	if job == nil {
		return nil, errors.InvalidJobPayload.WithMessage("nil job")
	}
	if err := validate.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.InvalidJobPayload, err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", job.Kind(), err)
	}

	return json.Marshal(JobEnvelope{
		Kind:       job.Kind(),
		MessageID:  messageID,
		EnqueuedAt: time.Now().UTC(),
		Payload:    payload,
	})
}

// DecodeJob 在 worker 边界解码信封，按标签还原成具体类型并校验固定 schema
func DecodeJob(data []byte) (JobEnvelope, Job, error) {
	var env JobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", errors.InvalidJobPayload, err)
	}

	var job Job
	switch env.Kind {
	case JobKindSendMessage:
		var j SendMessageJob
		if err := decodePayload(env.Payload, &j); err != nil {
			return env, nil, err
		}
		job = j
	case JobKindUpdateDeliveryStatus:
		var j UpdateDeliveryStatusJob
		if err := decodePayload(env.Payload, &j); err != nil {
			return env, nil, err
		}
		job = j
	case JobKindBulkUpdateDeliveryStatus:
		var j BulkUpdateDeliveryStatusJob
		if err := decodePayload(env.Payload, &j); err != nil {
			return env, nil, err
		}
		job = j
	default:
		return env, nil, errors.UnknownJobKind.WithMessage(fmt.Sprintf("unknown job kind %q", env.Kind))
	}

	return env, job, nil
}

func decodePayload(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return errors.InvalidJobPayload.WithMessage("empty payload")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", errors.InvalidJobPayload, err)
	}
	if err := validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %v", errors.InvalidJobPayload, err)
	}
	return nil
}
