package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"BulkSMS/internal/model"
)

type MetricsRepository interface {
	// Ensure 创建全零计数行，已存在时不变
	Ensure(ctx context.Context, campaignID int64) error
	// Get 计数行不存在时返回全零
	Get(ctx context.Context, campaignID int64) (*model.CampaignMetrics, error)
}

type metricsRepository struct {
	db *gorm.DB
}

func NewMetricsRepository(db *gorm.DB) MetricsRepository {
	return &metricsRepository{db: db}
}

func (r *metricsRepository) Ensure(ctx context.Context, campaignID int64) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CampaignMetrics{CampaignID: campaignID, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to create campaign metrics: %w", err)
	}
	return nil
}

func (r *metricsRepository) Get(ctx context.Context, campaignID int64) (*model.CampaignMetrics, error) {
	var m model.CampaignMetrics
	err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).First(&m).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return &model.CampaignMetrics{CampaignID: campaignID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign metrics: %w", err)
	}
	return &m, nil
}
