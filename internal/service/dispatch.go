package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"BulkSMS/config"
	"BulkSMS/internal/cache"
	"BulkSMS/internal/model"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/pkg/snowflake"
	"BulkSMS/storage/database"
	"BulkSMS/storage/redis"
	"BulkSMS/utils"
)

// JobQueue 任务入队
type JobQueue interface {
	AddOne(ctx context.Context, job model.Job) error
	AddMany(ctx context.Context, jobs []model.Job) error
}

// Locker 活动级互斥，release 可重复调用
type Locker interface {
	Lock(ctx context.Context, campaignID int64) (release func(), err error)
}

type DispatchMode string

const (
	DispatchModeBulk   DispatchMode = "bulk"
	DispatchModeStream DispatchMode = "stream"
)

type DispatchOptions struct {
	StreamThreshold int64
	BatchSize       int
	DefaultSenderID string
}

// DispatchResult SendCampaign 的返回
type DispatchResult struct {
	CampaignID     int64                `json:"campaign_id"`
	RecipientCount int64                `json:"recipient_count"`
	JobsQueued     int64                `json:"jobs_queued"`
	Status         model.CampaignStatus `json:"status"`
	QueuedAt       *time.Time           `json:"queued_at,omitempty"`
	Reference      string               `json:"reference"`
	Mode           DispatchMode         `json:"mode"`
	Rejected       int64                `json:"rejected,omitempty"`
	Refunded       int64                `json:"refunded,omitempty"`
}

// CampaignView 活动当前状态与计数
type CampaignView struct {
	Campaign *model.Campaign         `json:"campaign"`
	Metrics  *model.CampaignMetrics  `json:"metrics"`
	Counts   repository.StatusCounts `json:"counts"`
}

type DispatchDeps struct {
	Campaigns  repository.CampaignRepository
	Recipients repository.RecipientRepository
	Metrics    repository.MetricsRepository
	Audience   *AudienceService
	Ledger     *LedgerService
	Queue      JobQueue
	Locker     Locker // 为 nil 时不加锁
	Renderer   *Renderer
}

// DispatchService 把一次活动发送展开为逐条的发送任务
type DispatchService struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	metrics    repository.MetricsRepository
	audience   *AudienceService
	ledger     *LedgerService
	queue      JobQueue
	locker     Locker
	renderer   *Renderer
	opts       DispatchOptions

	newReference func(campaignID int64) (string, error)
	now          func() time.Time
}

var (
	dispatchService *DispatchService
	dispatchOnce    sync.Once
)

func Dispatch() *DispatchService {
	dispatchOnce.Do(func() {
		db := database.DB()
		dispatchService = NewDispatchService(DispatchDeps{
			Campaigns:  repository.NewCampaignRepository(db),
			Recipients: repository.NewRecipientRepository(db),
			Metrics:    repository.NewMetricsRepository(db),
			Audience:   Audience(),
			Ledger:     Ledger(),
			Queue:      queue.NewProducer(),
			Locker:     cache.NewDispatchLocker(redis.Client(), config.Cfg.DispatchLockTTL),
			Renderer:   NewRenderer(config.Cfg.UnsubscribeFooter, config.Cfg.SMSMaxLength),
		}, DispatchOptions{
			StreamThreshold: config.Cfg.DispatchStreamThreshold,
			BatchSize:       config.Cfg.DispatchBatchSize,
			DefaultSenderID: config.Cfg.SMSSenderID,
		})
	})
	return dispatchService
}

func NewDispatchService(deps DispatchDeps, opts DispatchOptions) *DispatchService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.StreamThreshold <= 0 {
		opts.StreamThreshold = 10000
	}
	if deps.Renderer == nil {
		deps.Renderer = NewRenderer("", 0)
	}
	return &DispatchService{
		campaigns:    deps.Campaigns,
		recipients:   deps.Recipients,
		metrics:      deps.Metrics,
		audience:     deps.Audience,
		ledger:       deps.Ledger,
		queue:        deps.Queue,
		locker:       deps.Locker,
		renderer:     deps.Renderer,
		opts:         opts,
		newReference: dispatchReference,
		now:          time.Now,
	}
}

// dispatchReference 每次发送尝试独立的预扣引用，整体失败后重发不会与上次的退款冲突
func dispatchReference(campaignID int64) (string, error) {
	return snowflake.NextMessageID("campaign:" + strconv.FormatInt(campaignID, 10) + ":dispatch:")
}

// dispatchAttempt 一次发送尝试的过程状态
type dispatchAttempt struct {
	campaign  *model.Campaign
	text      string
	senderID  string
	reference string
	reserved  int64
	mode      DispatchMode

	batches    int
	jobsQueued int64
	rejected   int64 // 号码不可用、直接记为失败的成员
	cancelled  bool
}

var errStopDispatch = stderrors.New("dispatch stopped")

// SendCampaign 预扣额度、落库 pending 接收人并分批入队
func (s *DispatchService) SendCampaign(ctx context.Context, storeID, campaignID int64) (*DispatchResult, error) {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	campaign, err := s.campaigns.Get(ctx, storeID, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusDraft {
		return nil, errors.CampaignNotDraft
	}

	senderID := campaign.SenderID
	if senderID == "" {
		senderID = s.opts.DefaultSenderID
	}
	if senderID == "" {
		return nil, errors.SenderMissing
	}

	text, err := s.renderer.Render(campaign.Body)
	if err != nil {
		return nil, err
	}

	count, err := s.audience.Count(ctx, storeID, campaign.Audience)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		metrics.RecordDispatch(ctx, "no_recipients", 0)
		return nil, errors.NoRecipients
	}

	reference, err := s.newReference(campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dispatch reference: %w", err)
	}

	if _, err := s.ledger.Reserve(ctx, storeID, count, reference); err != nil {
		metrics.RecordDispatch(ctx, "insufficient_credits", count)
		return nil, err
	}

	att := &dispatchAttempt{
		campaign:  campaign,
		text:      text,
		senderID:  senderID,
		reference: reference,
		reserved:  count,
		mode:      DispatchModeBulk,
	}
	if count > s.opts.StreamThreshold {
		att.mode = DispatchModeStream
	}

	ok, err := s.campaigns.TransitionStatus(ctx, campaignID, model.CampaignStatusDraft, model.CampaignStatusSending, nil)
	if err == nil && !ok {
		err = errors.CampaignStateConflict
	}
	if err != nil {
		s.refund(ctx, att, count)
		return nil, err
	}

	if err := s.metrics.Ensure(ctx, campaignID); err != nil {
		s.compensate(ctx, att)
		return nil, err
	}

	logger.Logger.Info("Dispatching campaign",
		zap.Int64("store_id", storeID),
		zap.Int64("campaign_id", campaignID),
		zap.Int64("recipient_count", count),
		zap.String("mode", string(att.mode)),
		zap.String("reference", reference),
	)

	if err := s.enqueue(ctx, att); err != nil {
		if att.jobsQueued == 0 {
			s.compensate(ctx, att)
			metrics.RecordDispatch(ctx, "failed", count)
			return nil, err
		}
		// 部分入队：已入队的任务照常执行，保持 sending 且不退款
		logger.Logger.Error("Campaign partially enqueued",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("jobs_queued", att.jobsQueued),
			zap.Int64("reserved", att.reserved),
			zap.Error(err),
		)
		metrics.RecordDispatch(ctx, "partial", att.jobsQueued)
		return nil, err
	}

	// 计数之后受众清空，按无接收人处理
	if att.jobsQueued == 0 && att.rejected == 0 {
		s.compensate(ctx, att)
		metrics.RecordDispatch(ctx, "no_recipients", count)
		return nil, errors.NoRecipients
	}

	result := &DispatchResult{
		CampaignID:     campaignID,
		RecipientCount: count,
		JobsQueued:     att.jobsQueued,
		Status:         model.CampaignStatusSending,
		Reference:      reference,
		Mode:           att.mode,
		Rejected:       att.rejected,
	}

	// 受众在计数之后缩小、号码不可用或中途取消，未入队部分退回
	if unqueued := att.reserved - att.jobsQueued; unqueued > 0 {
		if s.refund(ctx, att, unqueued) {
			result.Refunded = unqueued
		}
	}

	if att.cancelled {
		s.finishCancelled(ctx, campaignID)
		result.Status = model.CampaignStatusCancelled
		metrics.RecordDispatch(ctx, "cancelled", att.jobsQueued)
		return result, nil
	}

	queuedAt := s.now()
	if err := s.campaigns.MarkQueued(ctx, campaignID, queuedAt); err != nil {
		logger.Logger.Error("Failed to mark campaign queued",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
	} else {
		result.QueuedAt = &queuedAt
	}

	// 入队结束与取消请求可能交错，标记后再看一次
	if requested, err := s.campaigns.CancelRequested(ctx, campaignID); err == nil && requested {
		s.finishCancelled(ctx, campaignID)
		result.Status = model.CampaignStatusCancelled
	}

	metrics.RecordDispatch(ctx, "queued", att.jobsQueued)
	logger.Logger.Info("Campaign dispatched",
		zap.Int64("campaign_id", campaignID),
		zap.Int64("jobs_queued", att.jobsQueued),
		zap.Int("batches", att.batches),
	)
	return result, nil
}

func (s *DispatchService) enqueue(ctx context.Context, att *dispatchAttempt) error {
	id := att.campaign.ID

	if att.mode == DispatchModeBulk {
		members, err := s.audience.ResolveEager(ctx, att.campaign.StoreID, att.campaign.Audience)
		if err != nil {
			return err
		}
		for start := 0; start < len(members); start += s.opts.BatchSize {
			end := start + s.opts.BatchSize
			if end > len(members) {
				end = len(members)
			}
			if err := s.processBatch(ctx, att, members[start:end]); err != nil {
				return ignoreStop(err)
			}
		}
		return nil
	}

	stream := s.audience.ResolveStream(att.campaign.StoreID, att.campaign.Audience, s.opts.BatchSize)
	for stream.Next(ctx) {
		if err := s.processBatch(ctx, att, stream.Batch()); err != nil {
			return ignoreStop(err)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("failed to stream audience for campaign %d: %w", id, err)
	}
	return nil
}

func ignoreStop(err error) error {
	if stderrors.Is(err, errStopDispatch) {
		return nil
	}
	return err
}

func (s *DispatchService) processBatch(ctx context.Context, att *dispatchAttempt, batch []model.AudienceMember) error {
	id := att.campaign.ID

	if att.batches > 0 {
		requested, err := s.campaigns.CancelRequested(ctx, id)
		if err != nil {
			return err
		}
		if requested {
			att.cancelled = true
			logger.Logger.Info("Campaign cancel observed, stop enqueuing",
				zap.Int64("campaign_id", id),
				zap.Int64("jobs_queued", att.jobsQueued),
			)
			return errStopDispatch
		}
	}

	// 受众在计数之后变多时，只发已预扣的数量
	remaining := att.reserved - att.jobsQueued - att.rejected
	if remaining <= 0 {
		return errStopDispatch
	}
	if int64(len(batch)) > remaining {
		batch = batch[:remaining]
	}

	// 空号码或超长号码过不了任务校验，单独记为失败，不能拖垮整批入队
	usable := make([]model.AudienceMember, 0, len(batch))
	var rejected []model.AudienceMember
	for _, m := range batch {
		if model.UsablePhone(m.Phone) {
			usable = append(usable, m)
		} else {
			rejected = append(rejected, m)
		}
	}

	batchID := uuid.NewString()
	var inserted int64
	if len(usable) > 0 {
		var err error
		if inserted, err = s.recipients.CreatePending(ctx, id, usable); err != nil {
			return err
		}

		jobs := make([]model.Job, 0, len(usable))
		for _, m := range usable {
			contactID := m.ContactID
			jobs = append(jobs, model.SendMessageJob{
				StoreID:    att.campaign.StoreID,
				CampaignID: id,
				ContactID:  &contactID,
				Phone:      m.Phone,
				Body:       att.text,
				SenderID:   att.senderID,
				Attempt:    1,
			})
		}
		if err := s.queue.AddMany(ctx, jobs); err != nil {
			return fmt.Errorf("failed to enqueue batch %s: %w", batchID, err)
		}
		att.jobsQueued += int64(len(jobs))
	}

	for _, m := range rejected {
		s.recordRejected(ctx, id, m)
	}
	att.rejected += int64(len(rejected))

	att.batches++
	logger.Logger.Debug("Batch enqueued",
		zap.Int64("campaign_id", id),
		zap.String("batch_id", batchID),
		zap.Int("jobs", len(usable)),
		zap.Int("rejected", len(rejected)),
		zap.Int64("inserted", inserted),
	)
	return nil
}

// recordRejected 不可用号码直接落为 failed 行并计入 total_failed，对应额度随未入队部分退回
func (s *DispatchService) recordRejected(ctx context.Context, campaignID int64, m model.AudienceMember) {
	contactID := m.ContactID
	cause := fmt.Errorf("%w: phone is empty or too long", errors.InvalidPhone)
	_, err := s.recipients.RecordOutcome(ctx, repository.OutcomeUpdate{
		Recipient: model.CampaignRecipient{
			CampaignID: campaignID,
			ContactID:  &contactID,
			Phone:      m.Phone,
			Status:     model.RecipientStatusFailed,
			Error:      cause.Error(),
		},
		Metric: model.MetricTotalFailed,
		Log: model.MessageLog{
			CampaignID: campaignID,
			Phone:      m.Phone,
			Event:      model.MessageEventFailed,
			Detail:     cause.Error(),
			CreatedAt:  s.now(),
		},
	})
	if err != nil {
		logger.Logger.Error("Failed to record rejected recipient",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("contact_id", m.ContactID),
			zap.Error(err),
		)
		return
	}
	logger.Logger.Warn("Recipient phone rejected before enqueue",
		zap.Int64("campaign_id", campaignID),
		zap.Int64("contact_id", m.ContactID),
		zap.String("phone_hash", utils.HashPhone(m.Phone)),
	)
}

// compensate 一条任务都没有入队：退回全部预扣、删除本次 pending 行、回到 draft
func (s *DispatchService) compensate(ctx context.Context, att *dispatchAttempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	id := att.campaign.ID
	s.refund(ctx, att, att.reserved)

	if _, err := s.recipients.DeletePending(ctx, id); err != nil {
		logger.Logger.Error("Failed to delete pending recipients",
			zap.Int64("campaign_id", id),
			zap.Error(err),
		)
	}
	if _, err := s.campaigns.TransitionStatus(ctx, id, model.CampaignStatusSending, model.CampaignStatusDraft, nil); err != nil {
		logger.Logger.Error("Failed to revert campaign to draft",
			zap.Int64("campaign_id", id),
			zap.Error(err),
		)
	}
}

func (s *DispatchService) refund(ctx context.Context, att *dispatchAttempt, amount int64) bool {
	ctx = context.WithoutCancel(ctx)
	applied, err := s.ledger.Refund(ctx, att.campaign.StoreID, amount, att.reference)
	if err != nil {
		logger.Logger.Error("Failed to refund reserved credits",
			zap.Int64("campaign_id", att.campaign.ID),
			zap.Int64("amount", amount),
			zap.String("reference", att.reference),
			zap.Error(err),
		)
		return false
	}
	return applied
}

func (s *DispatchService) finishCancelled(ctx context.Context, campaignID int64) {
	now := s.now()
	_, err := s.campaigns.TransitionStatus(ctx, campaignID, model.CampaignStatusSending, model.CampaignStatusCancelled,
		map[string]interface{}{"completed_at": now})
	if err != nil {
		logger.Logger.Error("Failed to cancel campaign",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
	}
}

// CancelCampaign draft/scheduled 直接取消；sending 设置取消标记，由入队循环在批次间响应
// 已经入队的任务不会撤回
func (s *DispatchService) CancelCampaign(ctx context.Context, storeID, campaignID int64) (model.CampaignStatus, error) {
	campaign, err := s.campaigns.Get(ctx, storeID, campaignID)
	if err != nil {
		return "", err
	}

	now := s.now()
	switch campaign.Status {
	case model.CampaignStatusDraft, model.CampaignStatusScheduled:
		ok, err := s.campaigns.TransitionStatus(ctx, campaignID, campaign.Status, model.CampaignStatusCancelled,
			map[string]interface{}{"completed_at": now})
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.CampaignStateConflict
		}
		return model.CampaignStatusCancelled, nil

	case model.CampaignStatusSending:
		if _, err := s.campaigns.RequestCancel(ctx, campaignID, now); err != nil {
			return "", err
		}
		// 入队已经结束，没有循环会响应标记
		campaign, err = s.campaigns.Get(ctx, storeID, campaignID)
		if err != nil {
			return "", err
		}
		if campaign.Status == model.CampaignStatusSending && campaign.QueuedAt != nil {
			if _, err := s.campaigns.TransitionStatus(ctx, campaignID, model.CampaignStatusSending, model.CampaignStatusCancelled,
				map[string]interface{}{"completed_at": now}); err != nil {
				return "", err
			}
			return model.CampaignStatusCancelled, nil
		}
		return campaign.Status, nil

	default:
		return "", errors.CampaignStateConflict.WithMessage("campaign already " + string(campaign.Status))
	}
}

// Describe 活动状态、计数器与接收人分布
func (s *DispatchService) Describe(ctx context.Context, storeID, campaignID int64) (*CampaignView, error) {
	campaign, err := s.campaigns.Get(ctx, storeID, campaignID)
	if err != nil {
		return nil, err
	}
	m, err := s.metrics.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.recipients.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignView{Campaign: campaign, Metrics: m, Counts: counts}, nil
}

// DispatchDue 把到期的定时活动转为 draft 并发送
func (s *DispatchService) DispatchDue(ctx context.Context, limit int) (int, error) {
	due, err := s.campaigns.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range due {
		c := &due[i]
		ok, err := s.campaigns.TransitionStatus(ctx, c.ID, model.CampaignStatusScheduled, model.CampaignStatusDraft, nil)
		if err != nil || !ok {
			continue
		}
		if _, err := s.SendCampaign(ctx, c.StoreID, c.ID); err != nil {
			logger.Logger.Error("Failed to dispatch scheduled campaign",
				zap.Int64("store_id", c.StoreID),
				zap.Int64("campaign_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}
