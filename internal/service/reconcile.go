package service

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"BulkSMS/config"
	"BulkSMS/internal/model"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/pkg/sms"
	"BulkSMS/storage/database"
)

// pollWindow 超过该时长仍未终结的消息不再轮询
const pollWindow = 72 * time.Hour

// ReconcileOutcome 单个供应商消息的对账结果
type ReconcileOutcome struct {
	ProviderMessageID string              `json:"provider_message_id"`
	From              model.DeliveryState `json:"from"`
	To                model.DeliveryState `json:"to"`
	Changed           bool                `json:"changed"`
	Err               error               `json:"-"`
}

type ReconcileService struct {
	campaigns   repository.CampaignRepository
	recipients  repository.RecipientRepository
	client      sms.Client
	queue       JobQueue
	concurrency int
	pollAge     time.Duration
	now         func() time.Time
}

var (
	reconcileService *ReconcileService
	reconcileOnce    sync.Once
)

func Reconcile() *ReconcileService {
	reconcileOnce.Do(func() {
		db := database.DB()
		reconcileService = NewReconcileService(
			repository.NewCampaignRepository(db),
			repository.NewRecipientRepository(db),
			sms.GetClient(),
			queue.NewProducer(),
			config.Cfg.ReconcileConcurrency,
			config.Cfg.StatusPollAge,
		)
	})
	return reconcileService
}

func NewReconcileService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	client sms.Client,
	jobs JobQueue,
	concurrency int,
	pollAge time.Duration,
) *ReconcileService {
	if concurrency <= 0 {
		concurrency = 16
	}
	if pollAge <= 0 {
		pollAge = 10 * time.Minute
	}
	return &ReconcileService{
		campaigns:   campaigns,
		recipients:  recipients,
		client:      client,
		queue:       jobs,
		concurrency: concurrency,
		pollAge:     pollAge,
		now:         time.Now,
	}
}

// Reconcile 主动查询供应商状态并与库中状态比较
func (s *ReconcileService) Reconcile(ctx context.Context, providerMessageID string) (ReconcileOutcome, error) {
	out := ReconcileOutcome{ProviderMessageID: providerMessageID}

	rec, err := s.recipients.FindByProviderID(ctx, providerMessageID)
	if err != nil {
		out.Err = err
		return out, err
	}
	out.From = rec.DeliveryState
	out.To = rec.DeliveryState
	if rec.DeliveryState.IsFinal() {
		return out, nil
	}

	status, err := s.client.Status(ctx, providerMessageID)
	if err != nil {
		out.Err = err
		return out, err
	}

	state := model.DeliveryState(sms.NormalizeStatus(status.Status))
	if !state.Valid() {
		logger.Logger.Warn("Unknown provider delivery status",
			zap.String("provider_message_id", providerMessageID),
			zap.String("status", status.Status),
		)
		return out, nil
	}
	return s.apply(ctx, rec, state, status.ErrorCode)
}

// ApplyStatus 处理供应商推送的状态
func (s *ReconcileService) ApplyStatus(ctx context.Context, providerMessageID string, state model.DeliveryState) (ReconcileOutcome, error) {
	out := ReconcileOutcome{ProviderMessageID: providerMessageID}
	if !state.Valid() {
		out.Err = errors.InvalidDeliveryState
		return out, out.Err
	}

	rec, err := s.recipients.FindByProviderID(ctx, providerMessageID)
	if err != nil {
		out.Err = err
		return out, err
	}
	return s.apply(ctx, rec, state, "")
}

// apply 状态未变为空操作；已是终态的不再回退
func (s *ReconcileService) apply(ctx context.Context, rec *model.CampaignRecipient, state model.DeliveryState, detail string) (ReconcileOutcome, error) {
	out := ReconcileOutcome{
		ProviderMessageID: deref(rec.ProviderMessageID),
		From:              rec.DeliveryState,
		To:                rec.DeliveryState,
	}
	if state == rec.DeliveryState || rec.DeliveryState.IsFinal() {
		return out, nil
	}

	now := s.now()
	u := repository.DeliveryUpdate{
		RecipientID: rec.ID,
		CampaignID:  rec.CampaignID,
		From:        rec.DeliveryState,
		To:          state,
		Log: model.MessageLog{
			CampaignID:        rec.CampaignID,
			Phone:             rec.Phone,
			Event:             model.MessageEventDelivery,
			ProviderMessageID: out.ProviderMessageID,
			DeliveryState:     state,
			Detail:            detail,
			CreatedAt:         now,
		},
	}
	switch {
	case state == model.DeliveryStateDelivered:
		u.Metric = model.MetricTotalDelivered
		u.DeliveredAt = &now
	case state.IsDeliveryFailure():
		u.Metric = model.MetricTotalFailed
	}

	changed, err := s.recipients.ApplyDelivery(ctx, u)
	if err != nil {
		out.Err = err
		return out, err
	}
	if changed {
		out.To = state
		out.Changed = true
		metrics.RecordDeliveryUpdate(ctx, string(state))
	}
	return out, nil
}

// ReconcileBulk 每个 id 独立对账，单个失败不影响其余
func (s *ReconcileService) ReconcileBulk(ctx context.Context, ids []string) []ReconcileOutcome {
	outcomes := make([]ReconcileOutcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			out, err := s.Reconcile(gctx, id)
			if err != nil {
				logger.Logger.Warn("Reconcile failed",
					zap.String("provider_message_id", id),
					zap.Error(err),
				)
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// HandleStatus 单条对账任务；带状态时按推送处理，否则主动查询
func (s *ReconcileService) HandleStatus(ctx context.Context, job *model.UpdateDeliveryStatusJob) error {
	var err error
	if job.State != model.DeliveryStateNone {
		_, err = s.ApplyStatus(ctx, job.ProviderMessageID, job.State)
	} else {
		_, err = s.Reconcile(ctx, job.ProviderMessageID)
	}
	if err == nil {
		return nil
	}

	// 未知消息与供应商明确拒绝的查询重试无意义，交给下一轮轮询
	if errors.IsNotFound(err) {
		return &errors.SkipMessageError{Reason: "unknown provider message " + job.ProviderMessageID}
	}
	var pe *errors.ProviderError
	if stderrors.As(err, &pe) && !pe.Retryable {
		return &errors.SkipMessageError{Reason: pe.Error()}
	}
	return err
}

// HandleBulkStatus 批量对账任务，单条失败只记日志
func (s *ReconcileService) HandleBulkStatus(ctx context.Context, job *model.BulkUpdateDeliveryStatusJob) error {
	outcomes := s.ReconcileBulk(ctx, job.ProviderMessageIDs)

	changed := 0
	failed := 0
	for _, out := range outcomes {
		if out.Changed {
			changed++
		}
		if out.Err != nil {
			failed++
		}
	}
	logger.Logger.Info("Bulk reconcile finished",
		zap.Int("total", len(outcomes)),
		zap.Int("changed", changed),
		zap.Int("failed", failed),
	)
	return nil
}

// FinalizeCampaigns 已全部入队、且没有 pending 接收人的 sending 活动收尾
// 至少一条发送成功为 sent，否则为 failed
func (s *ReconcileService) FinalizeCampaigns(ctx context.Context, limit int) (int, error) {
	campaigns, err := s.campaigns.ListQueuedSending(ctx, limit)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, c := range campaigns {
		counts, err := s.recipients.CountByStatus(ctx, c.ID)
		if err != nil {
			logger.Logger.Error("Failed to count recipients",
				zap.Int64("campaign_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		if counts.Pending > 0 {
			continue
		}

		to := model.CampaignStatusSent
		if counts.Sent == 0 {
			to = model.CampaignStatusFailed
		}
		ok, err := s.campaigns.TransitionStatus(ctx, c.ID, model.CampaignStatusSending, to,
			map[string]interface{}{"completed_at": s.now()})
		if err != nil {
			logger.Logger.Error("Failed to finalize campaign",
				zap.Int64("campaign_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			finalized++
			logger.Logger.Info("Campaign finalized",
				zap.Int64("campaign_id", c.ID),
				zap.String("status", string(to)),
				zap.Int64("sent", counts.Sent),
				zap.Int64("failed", counts.Failed),
			)
		}
	}
	return finalized, nil
}

// PollStale 把长时间未终结的消息按 100 条一组投递为批量对账任务
func (s *ReconcileService) PollStale(ctx context.Context) (int, error) {
	now := s.now()
	sentAfter := now.Add(-pollWindow)
	olderThan := now.Add(-s.pollAge)

	const chunk = 100
	published := 0
	var afterID int64
	for {
		rows, err := s.recipients.ListStaleNonFinal(ctx, sentAfter, olderThan, afterID, chunk)
		if err != nil {
			return published, err
		}
		if len(rows) == 0 {
			return published, nil
		}

		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			if id := deref(r.ProviderMessageID); id != "" {
				ids = append(ids, id)
			}
		}
		afterID = rows[len(rows)-1].ID

		if len(ids) > 0 {
			if err := s.queue.AddOne(ctx, model.BulkUpdateDeliveryStatusJob{ProviderMessageIDs: ids}); err != nil {
				return published, err
			}
			published += len(ids)
		}
		if len(rows) < chunk {
			return published, nil
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
