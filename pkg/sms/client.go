package sms

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/pkg/logger"
)

// 归一化后的投递状态
const (
	StatusQueued      = "queued"
	StatusSending     = "sending"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusUndelivered = "undelivered"
	StatusFailed      = "failed"
)

// Client SMS 供应商客户端
type Client interface {
	// Send 发送一条短信，返回供应商消息 ID
	Send(ctx context.Context, to, body, senderID string) (*SendResponse, error)
	// Status 查询已发送消息的投递状态
	Status(ctx context.Context, externalID string) (*StatusResponse, error)
	Name() string
}

type SendResponse struct {
	MessageID string
	Status    string
	Provider  string
	RequestID string
}

type StatusResponse struct {
	MessageID string
	Status    string
	ErrorCode string
	Raw       string
}

var (
	smsClient Client
	smsOnce   sync.Once
	smsErr    error
)

// Init 按配置初始化 SMS 客户端，外层包裹熔断器
func Init() error {
	smsOnce.Do(func() {
		cfg := config.Cfg

		var c Client
		switch cfg.SMSProvider {
		case "twilio":
			c, smsErr = NewTwilioClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.SMSProviderTimeout)
		case "aliyun":
			c, smsErr = NewAliyunClient(cfg.SMSSignName, cfg.SMSTemplateCode)
		case "mock":
			c = NewMockClient()
		default:
			smsErr = fmt.Errorf("unsupported SMS provider: %s", cfg.SMSProvider)
		}

		if smsErr != nil {
			logger.Logger.Error("Failed to initialize SMS client", zap.Error(smsErr))
			return
		}

		smsClient = WithBreaker(c, NewCircuitBreaker(c.Name(), 5, 30*time.Second))
		logger.Logger.Info("SMS client initialized successfully",
			zap.String("provider", cfg.SMSProvider),
		)
	})

	return smsErr
}

func GetClient() Client {
	if smsClient == nil {
		panic("SMS client not initialized, call sms.Init() first")
	}
	return smsClient
}

// NormalizeStatus 把供应商状态映射到统一取值，未知状态返回空串
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted", "scheduled", "queued":
		return StatusQueued
	case "sending":
		return StatusSending
	case "sent":
		return StatusSent
	case "delivered", "read":
		return StatusDelivered
	case "undelivered":
		return StatusUndelivered
	case "failed", "canceled":
		return StatusFailed
	default:
		return ""
	}
}
