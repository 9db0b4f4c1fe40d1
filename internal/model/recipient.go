package model

import "time"

// RecipientStatus 接收人发送状态
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// DeliveryState 供应商回报的送达状态
type DeliveryState string

const (
	DeliveryStateNone        DeliveryState = ""
	DeliveryStateQueued      DeliveryState = "queued"
	DeliveryStateSending     DeliveryState = "sending"
	DeliveryStateSent        DeliveryState = "sent"
	DeliveryStateDelivered   DeliveryState = "delivered"
	DeliveryStateUndelivered DeliveryState = "undelivered"
	DeliveryStateFailed      DeliveryState = "failed"
)

// Valid 是否为已知状态
func (s DeliveryState) Valid() bool {
	switch s {
	case DeliveryStateQueued, DeliveryStateSending, DeliveryStateSent,
		DeliveryStateDelivered, DeliveryStateUndelivered, DeliveryStateFailed:
		return true
	}
	return false
}

// IsFinal 终态，之后不再轮询
func (s DeliveryState) IsFinal() bool {
	return s == DeliveryStateDelivered || s == DeliveryStateUndelivered || s == DeliveryStateFailed
}

// IsDeliveryFailure 终态中的失败
func (s DeliveryState) IsDeliveryFailure() bool {
	return s == DeliveryStateUndelivered || s == DeliveryStateFailed
}

// NonFinalDeliveryStates 需要轮询的状态
var NonFinalDeliveryStates = []DeliveryState{DeliveryStateQueued, DeliveryStateSending, DeliveryStateSent}

// CampaignRecipient 活动接收人，(campaign_id, phone) 唯一
type CampaignRecipient struct {
	BaseModel
	CampaignID        int64           `gorm:"not null;uniqueIndex:idx_recipients_campaign_phone,priority:1;index:idx_recipients_campaign_status,priority:1" json:"campaign_id"`
	ContactID         *int64          `json:"contact_id,omitempty"`
	Phone             string          `gorm:"type:varchar(20);not null;uniqueIndex:idx_recipients_campaign_phone,priority:2" json:"phone"`
	Status            RecipientStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_recipients_campaign_status,priority:2" json:"status"`
	ProviderMessageID *string         `gorm:"type:varchar(128);uniqueIndex" json:"provider_message_id,omitempty"`
	DeliveryState     DeliveryState   `gorm:"type:varchar(16);not null;default:''" json:"delivery_state"`
	Error             string          `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	SentAt            *time.Time      `gorm:"type:timestamptz" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `gorm:"type:timestamptz" json:"delivered_at,omitempty"`
}

// TableName 指定表名
func (CampaignRecipient) TableName() string {
	return "campaign_recipients"
}

// MessageEvent 发送日志事件
type MessageEvent string

const (
	MessageEventOutbound MessageEvent = "outbound"
	MessageEventFailed   MessageEvent = "failed"
	MessageEventDelivery MessageEvent = "delivery"
)

// MessageLog 逐条发送/送达日志，只追加
type MessageLog struct {
	ID                int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	CampaignID        int64         `gorm:"not null;index" json:"campaign_id"`
	Phone             string        `gorm:"type:varchar(20);not null" json:"phone"`
	Event             MessageEvent  `gorm:"type:varchar(16);not null" json:"event"`
	ProviderMessageID string        `gorm:"type:varchar(128)" json:"provider_message_id,omitempty"`
	DeliveryState     DeliveryState `gorm:"type:varchar(16)" json:"delivery_state,omitempty"`
	Detail            string        `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt         time.Time     `gorm:"not null;default:now()" json:"created_at"`
}

// TableName 指定表名
func (MessageLog) TableName() string {
	return "message_logs"
}
