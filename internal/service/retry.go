package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/cache"
	"BulkSMS/internal/model"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/storage/database"
	"BulkSMS/storage/redis"
)

// RetryService 重发活动中失败的接收人，不再预扣额度，活动状态不变
type RetryService struct {
	campaigns       repository.CampaignRepository
	recipients      repository.RecipientRepository
	queue           JobQueue
	locker          Locker
	renderer        *Renderer
	defaultSenderID string
}

var (
	retryService *RetryService
	retryOnce    sync.Once
)

func Retry() *RetryService {
	retryOnce.Do(func() {
		db := database.DB()
		retryService = NewRetryService(
			repository.NewCampaignRepository(db),
			repository.NewRecipientRepository(db),
			queue.NewProducer(),
			cache.NewDispatchLocker(redis.Client(), config.Cfg.DispatchLockTTL),
			NewRenderer(config.Cfg.UnsubscribeFooter, config.Cfg.SMSMaxLength),
			config.Cfg.SMSSenderID,
		)
	})
	return retryService
}

func NewRetryService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	jobs JobQueue,
	locker Locker,
	renderer *Renderer,
	defaultSenderID string,
) *RetryService {
	if renderer == nil {
		renderer = NewRenderer("", 0)
	}
	return &RetryService{
		campaigns:       campaigns,
		recipients:      recipients,
		queue:           jobs,
		locker:          locker,
		renderer:        renderer,
		defaultSenderID: defaultSenderID,
	}
}

// RetryFailed 把 failed 行重置为 pending 并逐行重新入队，返回入队条数
func (s *RetryService) RetryFailed(ctx context.Context, storeID, campaignID int64) (int, error) {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, campaignID)
		if err != nil {
			return 0, err
		}
		defer release()
	}

	campaign, err := s.campaigns.Get(ctx, storeID, campaignID)
	if err != nil {
		return 0, err
	}
	switch campaign.Status {
	case model.CampaignStatusSending, model.CampaignStatusSent, model.CampaignStatusFailed:
	default:
		return 0, errors.CampaignStateConflict.WithMessage("campaign has not been dispatched")
	}

	text, err := s.renderer.Render(campaign.Body)
	if err != nil {
		return 0, err
	}
	senderID := campaign.SenderID
	if senderID == "" {
		senderID = s.defaultSenderID
	}
	if senderID == "" {
		return 0, errors.SenderMissing
	}

	rows, err := s.recipients.ResetFailed(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	jobs := make([]model.Job, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	var unusable []int64
	for _, r := range rows {
		// 号码不可用的行重试也发不出去，直接恢复为 failed
		if !model.UsablePhone(r.Phone) {
			unusable = append(unusable, r.ID)
			continue
		}
		ids = append(ids, r.ID)
		jobs = append(jobs, model.SendMessageJob{
			StoreID:    storeID,
			CampaignID: campaignID,
			ContactID:  r.ContactID,
			Phone:      r.Phone,
			Body:       text,
			SenderID:   senderID,
			Attempt:    2,
		})
	}

	if len(unusable) > 0 {
		reason := fmt.Errorf("%w: phone is empty or too long", errors.InvalidPhone).Error()
		if _, err := s.recipients.RestoreFailed(ctx, campaignID, unusable, reason); err != nil {
			return 0, err
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	if err := s.queue.AddMany(ctx, jobs); err != nil {
		if _, rerr := s.recipients.RestoreFailed(context.WithoutCancel(ctx), campaignID, ids, "retry enqueue failed"); rerr != nil {
			logger.Logger.Error("Failed to restore recipients after retry enqueue failure",
				zap.Int64("campaign_id", campaignID),
				zap.Error(rerr),
			)
		}
		return 0, fmt.Errorf("failed to enqueue retries: %w", err)
	}

	logger.Logger.Info("Failed recipients re-enqueued",
		zap.Int64("store_id", storeID),
		zap.Int64("campaign_id", campaignID),
		zap.Int("jobs", len(jobs)),
	)
	return len(jobs), nil
}
