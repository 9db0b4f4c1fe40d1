package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"BulkSMS/internal/model"
	"BulkSMS/pkg/errors"
)

type CampaignRepository interface {
	// Get 按店铺作用域加载，始终读主库
	Get(ctx context.Context, storeID, campaignID int64) (*model.Campaign, error)
	// TransitionStatus 条件更新 from -> to，返回是否实际发生了状态变化
	TransitionStatus(ctx context.Context, campaignID int64, from, to model.CampaignStatus, fields map[string]interface{}) (bool, error)
	MarkQueued(ctx context.Context, campaignID int64, at time.Time) error
	// RequestCancel 仅对 sending 状态设置取消标记
	RequestCancel(ctx context.Context, campaignID int64, at time.Time) (bool, error)
	CancelRequested(ctx context.Context, campaignID int64) (bool, error)
	// ListDue 返回到期的定时活动
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Campaign, error)
	// ListQueuedSending 返回已完成投递、等待收尾的 sending 活动
	ListQueuedSending(ctx context.Context, limit int) ([]model.Campaign, error)
}

type campaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Get(ctx context.Context, storeID, campaignID int64) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("id = ? AND store_id = ?", campaignID, storeID).
		First(&c).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.CampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return &c, nil
}

func (r *campaignRepository) TransitionStatus(ctx context.Context, campaignID int64, from, to model.CampaignStatus, fields map[string]interface{}) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", errors.CampaignStateConflict, from, to)
	}

	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	res := r.db.WithContext(ctx).
		Model(&model.Campaign{}).
		Where("id = ? AND status = ?", campaignID, from).
		UpdateColumns(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *campaignRepository) MarkQueued(ctx context.Context, campaignID int64, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.Campaign{}).
		Where("id = ?", campaignID).
		UpdateColumns(map[string]interface{}{"queued_at": at, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to mark campaign queued: %w", err)
	}
	return nil
}

func (r *campaignRepository) RequestCancel(ctx context.Context, campaignID int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Campaign{}).
		Where("id = ? AND status = ? AND cancel_requested_at IS NULL", campaignID, model.CampaignStatusSending).
		UpdateColumns(map[string]interface{}{"cancel_requested_at": at, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to request cancel: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *campaignRepository) CancelRequested(ctx context.Context, campaignID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Model(&model.Campaign{}).
		Where("id = ? AND cancel_requested_at IS NOT NULL", campaignID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check cancel flag: %w", err)
	}
	return count > 0, nil
}

func (r *campaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Campaign, error) {
	var out []model.Campaign
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("status = ? AND scheduled_at <= ?", model.CampaignStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	return out, nil
}

func (r *campaignRepository) ListQueuedSending(ctx context.Context, limit int) ([]model.Campaign, error) {
	var out []model.Campaign
	err := r.db.WithContext(ctx).
		Where("status = ? AND queued_at IS NOT NULL", model.CampaignStatusSending).
		Order("queued_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sending campaigns: %w", err)
	}
	return out, nil
}
