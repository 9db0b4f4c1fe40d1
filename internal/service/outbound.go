package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/pkg/sms"
	"BulkSMS/storage/database"
	"BulkSMS/utils"
)

// OutboundService 处理单条 SendMessageJob：校验号码、调用供应商、记录结果
// 不做自动重试，失败的接收人由 RetryFailed 显式重发
type OutboundService struct {
	recipients repository.RecipientRepository
	client     sms.Client
	region     string
	timeout    time.Duration
	now        func() time.Time
}

var (
	outboundService *OutboundService
	outboundOnce    sync.Once
)

func Outbound() *OutboundService {
	outboundOnce.Do(func() {
		outboundService = NewOutboundService(
			repository.NewRecipientRepository(database.DB()),
			sms.GetClient(),
			config.Cfg.SMSDefaultRegion,
			config.Cfg.SMSProviderTimeout,
		)
	})
	return outboundService
}

func NewOutboundService(recipients repository.RecipientRepository, client sms.Client, region string, timeout time.Duration) *OutboundService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OutboundService{
		recipients: recipients,
		client:     client,
		region:     region,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Send 返回 nil 表示结果已落库（包括发送失败）；返回错误时消息会重新投递
func (s *OutboundService) Send(ctx context.Context, job *model.SendMessageJob) error {
	existing, err := s.recipients.Find(ctx, job.CampaignID, job.Phone)
	switch {
	case stderrors.Is(err, errors.RecipientNotFound):
		// 整体失败补偿已删除 pending 行，这批任务不再发送
		return &errors.SkipMessageError{Reason: "recipient row removed"}
	case err != nil:
		return err
	case existing.Status != model.RecipientStatusPending:
		return &errors.SkipMessageError{Reason: "recipient already " + string(existing.Status)}
	}

	phone, err := utils.NormalizePhone(job.Phone, s.region)
	if err != nil {
		logger.Logger.Warn("Invalid recipient phone",
			zap.Int64("campaign_id", job.CampaignID),
			zap.String("phone_hash", utils.HashPhone(job.Phone)),
			zap.Error(err),
		)
		return s.recordFailure(ctx, job, fmt.Errorf("%w: %v", errors.InvalidPhone, err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := s.now()
	resp, err := s.client.Send(sendCtx, phone, job.Body, job.SenderID)
	cancel()
	elapsed := s.now().Sub(start).Seconds()

	if err != nil {
		var pe *errors.ProviderError
		if !stderrors.As(err, &pe) {
			err = errors.NewProviderError(errors.ProviderUnavailable, s.client.Name(), err)
		}
		metrics.RecordSMSSend(ctx, s.client.Name(), "failed", elapsed)
		logger.Logger.Warn("SMS send failed",
			zap.Int64("campaign_id", job.CampaignID),
			zap.String("phone_hash", utils.HashPhone(phone)),
			zap.String("provider", s.client.Name()),
			zap.Error(err),
		)
		return s.recordFailure(ctx, job, err)
	}

	metrics.RecordSMSSend(ctx, s.client.Name(), "sent", elapsed)
	return s.recordSent(ctx, job, resp)
}

func (s *OutboundService) recordSent(ctx context.Context, job *model.SendMessageJob, resp *sms.SendResponse) error {
	now := s.now()
	providerID := resp.MessageID

	state := model.DeliveryState(sms.NormalizeStatus(resp.Status))
	if !state.Valid() {
		state = model.DeliveryStateQueued
	}

	u := repository.OutcomeUpdate{
		Recipient: model.CampaignRecipient{
			CampaignID:        job.CampaignID,
			ContactID:         job.ContactID,
			Phone:             job.Phone,
			Status:            model.RecipientStatusSent,
			ProviderMessageID: &providerID,
			DeliveryState:     state,
			SentAt:            &now,
		},
		Metric: model.MetricTotalSent,
		Log: model.MessageLog{
			CampaignID:        job.CampaignID,
			Phone:             job.Phone,
			Event:             model.MessageEventOutbound,
			ProviderMessageID: providerID,
			DeliveryState:     state,
			Detail:            resp.Provider,
			CreatedAt:         now,
		},
	}
	return s.record(ctx, u)
}

func (s *OutboundService) recordFailure(ctx context.Context, job *model.SendMessageJob, cause error) error {
	now := s.now()
	u := repository.OutcomeUpdate{
		Recipient: model.CampaignRecipient{
			CampaignID: job.CampaignID,
			ContactID:  job.ContactID,
			Phone:      job.Phone,
			Status:     model.RecipientStatusFailed,
			Error:      cause.Error(),
		},
		Metric: model.MetricTotalFailed,
		Log: model.MessageLog{
			CampaignID: job.CampaignID,
			Phone:      job.Phone,
			Event:      model.MessageEventFailed,
			Detail:     cause.Error(),
			CreatedAt:  now,
		},
	}
	return s.record(ctx, u)
}

// record 供应商已经接受了请求，写库失败时先就地重试，避免整条消息重投导致重复发送
func (s *OutboundService) record(ctx context.Context, u repository.OutcomeUpdate) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}

		var transitioned bool
		transitioned, err = s.recipients.RecordOutcome(ctx, u)
		if err == nil {
			if !transitioned {
				logger.Logger.Debug("Recipient outcome already recorded",
					zap.Int64("campaign_id", u.Recipient.CampaignID),
					zap.String("status", string(u.Recipient.Status)),
				)
			}
			return nil
		}
	}

	logger.Logger.Error("Failed to record recipient outcome",
		zap.Int64("campaign_id", u.Recipient.CampaignID),
		zap.String("status", string(u.Recipient.Status)),
		zap.Error(err),
	)
	return err
}
