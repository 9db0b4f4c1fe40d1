package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"BulkSMS/internal/model"
	"BulkSMS/pkg/errors"
)

// OutcomeUpdate 一次发送结果：接收人行、计数器字段与日志在同一事务中写入
type OutcomeUpdate struct {
	Recipient model.CampaignRecipient
	Metric    model.MetricField
	Log       model.MessageLog
}

// DeliveryUpdate 一次投递状态迁移
type DeliveryUpdate struct {
	RecipientID int64
	CampaignID  int64
	From        model.DeliveryState
	To          model.DeliveryState
	DeliveredAt *time.Time
	Metric      model.MetricField // 非终态时为空
	Log         model.MessageLog
}

type StatusCounts struct {
	Pending int64
	Sent    int64
	Failed  int64
}

type RecipientRepository interface {
	// CreatePending 批量插入 pending 行，(campaign_id, phone) 冲突时跳过，返回插入条数
	CreatePending(ctx context.Context, campaignID int64, members []model.AudienceMember) (int64, error)
	// DeletePending 物理删除活动的 pending 行（总失败补偿）
	DeletePending(ctx context.Context, campaignID int64) (int64, error)
	// RecordOutcome 仅当行仍为 pending（或不存在）时写入结果，返回是否发生迁移
	RecordOutcome(ctx context.Context, u OutcomeUpdate) (bool, error)
	FindByProviderID(ctx context.Context, providerMessageID string) (*model.CampaignRecipient, error)
	// ApplyDelivery 条件更新 from -> to，返回是否发生迁移
	ApplyDelivery(ctx context.Context, u DeliveryUpdate) (bool, error)
	// Find 按 (campaign_id, phone) 读取，始终读主库
	Find(ctx context.Context, campaignID int64, phone string) (*model.CampaignRecipient, error)
	// ResetFailed 把活动的 failed 行重置为 pending 并清空错误，返回实际被重置的行
	ResetFailed(ctx context.Context, campaignID int64) ([]model.CampaignRecipient, error)
	// RestoreFailed 入队失败时把仍为 pending 的行改回 failed
	RestoreFailed(ctx context.Context, campaignID int64, ids []int64, reason string) (int64, error)
	CountByStatus(ctx context.Context, campaignID int64) (StatusCounts, error)
	// ListStaleNonFinal 已发送但投递状态未终结、且在 olderThan 之前未更新的行
	ListStaleNonFinal(ctx context.Context, sentAfter, olderThan time.Time, afterID int64, limit int) ([]model.CampaignRecipient, error)
}

type recipientRepository struct {
	db *gorm.DB
}

func NewRecipientRepository(db *gorm.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

func (r *recipientRepository) CreatePending(ctx context.Context, campaignID int64, members []model.AudienceMember) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	now := time.Now()
	rows := make([]model.CampaignRecipient, 0, len(members))
	for _, m := range members {
		contactID := m.ContactID
		row := model.CampaignRecipient{
			CampaignID: campaignID,
			Phone:      m.Phone,
			Status:     model.RecipientStatusPending,
		}
		if contactID != 0 {
			row.ContactID = &contactID
		}
		row.CreatedAt = now
		row.UpdatedAt = now
		rows = append(rows, row)
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "phone"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert pending recipients: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *recipientRepository) DeletePending(ctx context.Context, campaignID int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Unscoped().
		Where("campaign_id = ? AND status = ?", campaignID, model.RecipientStatusPending).
		Delete(&model.CampaignRecipient{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete pending recipients: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *recipientRepository) RecordOutcome(ctx context.Context, u OutcomeUpdate) (bool, error) {
	transitioned := false
	row := u.Recipient
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "campaign_id"}, {Name: "phone"}},
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{
					Column: clause.Column{Table: model.CampaignRecipient{}.TableName(), Name: "status"},
					Value:  model.RecipientStatusPending,
				},
			}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "provider_message_id", "delivery_state", "error", "sent_at", "updated_at",
			}),
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("failed to upsert recipient outcome: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		transitioned = true

		if err := incrementMetric(tx, row.CampaignID, u.Metric); err != nil {
			return err
		}
		return appendLog(tx, u.Log)
	})
	return transitioned, err
}

func (r *recipientRepository) FindByProviderID(ctx context.Context, providerMessageID string) (*model.CampaignRecipient, error) {
	var rec model.CampaignRecipient
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("provider_message_id = ?", providerMessageID).
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.RecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}
	return &rec, nil
}

func (r *recipientRepository) ApplyDelivery(ctx context.Context, u DeliveryUpdate) (bool, error) {
	transitioned := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"delivery_state": u.To,
			"updated_at":     time.Now(),
		}
		if u.DeliveredAt != nil {
			updates["delivered_at"] = *u.DeliveredAt
		}

		res := tx.Model(&model.CampaignRecipient{}).
			Where("id = ? AND delivery_state = ?", u.RecipientID, u.From).
			UpdateColumns(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update delivery state: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		transitioned = true

		if err := incrementMetric(tx, u.CampaignID, u.Metric); err != nil {
			return err
		}
		return appendLog(tx, u.Log)
	})
	return transitioned, err
}

func (r *recipientRepository) Find(ctx context.Context, campaignID int64, phone string) (*model.CampaignRecipient, error) {
	var rec model.CampaignRecipient
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("campaign_id = ? AND phone = ?", campaignID, phone).
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.RecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}
	return &rec, nil
}

func (r *recipientRepository) ResetFailed(ctx context.Context, campaignID int64) ([]model.CampaignRecipient, error) {
	var rows []model.CampaignRecipient
	err := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("campaign_id = ? AND status = ?", campaignID, model.RecipientStatusFailed).
		UpdateColumns(map[string]interface{}{
			"status":     model.RecipientStatusPending,
			"error":      "",
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reset failed recipients: %w", err)
	}
	return rows, nil
}

func (r *recipientRepository) RestoreFailed(ctx context.Context, campaignID int64, ids []int64, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.CampaignRecipient{}).
		Where("campaign_id = ? AND status = ? AND id IN ?", campaignID, model.RecipientStatusPending, ids).
		UpdateColumns(map[string]interface{}{
			"status":     model.RecipientStatusFailed,
			"error":      reason,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to restore failed recipients: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *recipientRepository) CountByStatus(ctx context.Context, campaignID int64) (StatusCounts, error) {
	var rows []struct {
		Status model.RecipientStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Model(&model.CampaignRecipient{}).
		Select("status, COUNT(*) AS total").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return StatusCounts{}, fmt.Errorf("failed to count recipients: %w", err)
	}

	var out StatusCounts
	for _, row := range rows {
		switch row.Status {
		case model.RecipientStatusPending:
			out.Pending = row.Total
		case model.RecipientStatusSent:
			out.Sent = row.Total
		case model.RecipientStatusFailed:
			out.Failed = row.Total
		}
	}
	return out, nil
}

func (r *recipientRepository) ListStaleNonFinal(ctx context.Context, sentAfter, olderThan time.Time, afterID int64, limit int) ([]model.CampaignRecipient, error) {
	var out []model.CampaignRecipient
	err := r.db.WithContext(ctx).
		Where("status = ? AND provider_message_id IS NOT NULL", model.RecipientStatusSent).
		Where("delivery_state IN ?", model.NonFinalDeliveryStates).
		Where("sent_at >= ? AND updated_at < ? AND id > ?", sentAfter, olderThan, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list non-final recipients: %w", err)
	}
	return out, nil
}

func incrementMetric(tx *gorm.DB, campaignID int64, field model.MetricField) error {
	if field == "" {
		return nil
	}
	col := string(field)
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:          gorm.Expr("campaign_metrics." + col + " + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(newMetricsRow(campaignID, field)).Error
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", col, err)
	}
	return nil
}

func newMetricsRow(campaignID int64, field model.MetricField) *model.CampaignMetrics {
	m := &model.CampaignMetrics{CampaignID: campaignID, UpdatedAt: time.Now()}
	switch field {
	case model.MetricTotalSent:
		m.TotalSent = 1
	case model.MetricTotalDelivered:
		m.TotalDelivered = 1
	case model.MetricTotalFailed:
		m.TotalFailed = 1
	}
	return m
}

func appendLog(tx *gorm.DB, entry model.MessageLog) error {
	if entry.Event == "" {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append message log: %w", err)
	}
	return nil
}
