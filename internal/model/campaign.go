package model

import "time"

// CampaignStatus 活动状态枚举
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled" // 等待定时器触发，触发后转为 draft 再投递
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent" // 所有接收人均已出结果（对账完成）
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// ScheduleMode 发送方式
type ScheduleMode string

const (
	ScheduleModeImmediate ScheduleMode = "immediate"
	ScheduleModeScheduled ScheduleMode = "scheduled"
)

// Campaign 群发活动
type Campaign struct {
	BaseModel
	StoreID           int64            `gorm:"not null;index:idx_campaigns_store" json:"store_id"`
	Name              string           `gorm:"type:varchar(128);not null" json:"name"`
	Body              string           `gorm:"type:text;not null" json:"body"`
	SenderID          string           `gorm:"type:varchar(32)" json:"sender_id"`
	Audience          AudienceSelector `gorm:"type:jsonb;not null" json:"audience"`
	ScheduleMode      ScheduleMode     `gorm:"type:varchar(16);not null;default:'immediate'" json:"schedule_mode"`
	ScheduledAt       *time.Time       `gorm:"type:timestamptz;index:idx_campaigns_due" json:"scheduled_at,omitempty"`
	Status            CampaignStatus   `gorm:"type:varchar(16);not null;default:'draft';index:idx_campaigns_due" json:"status"`
	QueuedAt          *time.Time       `gorm:"type:timestamptz" json:"queued_at,omitempty"`
	CompletedAt       *time.Time       `gorm:"type:timestamptz" json:"completed_at,omitempty"`
	CancelRequestedAt *time.Time       `gorm:"type:timestamptz" json:"cancel_requested_at,omitempty"`
}

// TableName 指定表名
func (Campaign) TableName() string {
	return "campaigns"
}

// IsEditable 只有 draft/scheduled 允许修改或删除
func (c *Campaign) IsEditable() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// IsTerminal 终态不再变化
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusSent, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// campaignTransitions 合法的状态迁移，sending -> draft 仅用于整体失败时的补偿
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusSending, CampaignStatusScheduled, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusDraft, CampaignStatusCancelled},
	CampaignStatusSending:   {CampaignStatusSent, CampaignStatusFailed, CampaignStatusCancelled, CampaignStatusDraft},
}

// CanTransition 判断状态迁移是否合法
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, next := range campaignTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CampaignMetrics 活动计数器，只做增量更新
type CampaignMetrics struct {
	CampaignID     int64     `gorm:"primaryKey;autoIncrement:false" json:"campaign_id"`
	TotalSent      int64     `gorm:"not null;default:0" json:"total_sent"`
	TotalDelivered int64     `gorm:"not null;default:0" json:"total_delivered"`
	TotalFailed    int64     `gorm:"not null;default:0" json:"total_failed"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// TableName 指定表名
func (CampaignMetrics) TableName() string {
	return "campaign_metrics"
}

// MetricField 计数器字段
type MetricField string

const (
	MetricTotalSent      MetricField = "total_sent"
	MetricTotalDelivered MetricField = "total_delivered"
	MetricTotalFailed    MetricField = "total_failed"
)
