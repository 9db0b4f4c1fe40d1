package dto

import "time"

type WalletEntry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

type WalletResponse struct {
	StoreID int64         `json:"store_id"`
	Balance int64         `json:"balance"`
	Entries []WalletEntry `json:"entries"`
}

// StatusCallbackRequest 通用 JSON 回执；Twilio 表单字段 MessageSid/MessageStatus 同样接受
type StatusCallbackRequest struct {
	ProviderMessageID string `json:"provider_message_id" form:"MessageSid"`
	Status            string `json:"status" form:"MessageStatus"`
}
