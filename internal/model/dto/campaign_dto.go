package dto

import "time"

// RetryResponse 重发失败接收人的结果
type RetryResponse struct {
	CampaignID int64 `json:"campaign_id"`
	Requeued   int   `json:"requeued"`
}

// CancelResponse 取消后的活动状态；sending 表示已登记取消，待派发循环停止
type CancelResponse struct {
	CampaignID int64  `json:"campaign_id"`
	Status     string `json:"status"`
}

// CampaignCounts 接收人状态分布
type CampaignCounts struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// CampaignMetrics 活动累计指标
type CampaignMetrics struct {
	TotalSent      int64 `json:"total_sent"`
	TotalFailed    int64 `json:"total_failed"`
	TotalDelivered int64 `json:"total_delivered"`
}

type CampaignResponse struct {
	ID                int64           `json:"id"`
	StoreID           int64           `json:"store_id"`
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	ScheduledAt       *time.Time      `json:"scheduled_at,omitempty"`
	QueuedAt          *time.Time      `json:"queued_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CancelRequestedAt *time.Time      `json:"cancel_requested_at,omitempty"`
	Counts            CampaignCounts  `json:"counts"`
	Metrics           CampaignMetrics `json:"metrics"`
}
