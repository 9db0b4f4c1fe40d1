package database

import (
	"BulkSMS/internal/model"
	"BulkSMS/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 运行数据库迁移，创建所有表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.Contact{},
		&model.Segment{},
		&model.SegmentMember{},
		&model.Campaign{},
		&model.CampaignRecipient{},
		&model.CampaignMetrics{},
		&model.MessageLog{},
		&model.Wallet{},
		&model.WalletTransaction{},
	)

	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
