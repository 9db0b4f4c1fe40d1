package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"BulkSMS/internal/model"
)

// ContactRepository 受众查询，只读；配置了只读副本时由 dbresolver 路由到副本
type ContactRepository interface {
	CountAudience(ctx context.Context, storeID int64, sel model.AudienceSelector) (int64, error)
	// ListAudience 按 contact id 升序返回 id > afterID 的成员，limit <= 0 表示不分页
	ListAudience(ctx context.Context, storeID int64, sel model.AudienceSelector, afterID int64, limit int) ([]model.AudienceMember, error)
}

type contactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

// audienceScope 已订阅且属于该店铺；分组必须同属该店铺，否则结果为空
func audienceScope(storeID int64, sel model.AudienceSelector) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("contacts.store_id = ? AND contacts.opted_in = ?", storeID, true)

		switch sel.Kind {
		case model.AudienceGender:
			db = db.Where("contacts.gender IN ?", sel.Genders)
		case model.AudienceSegment:
			db = db.
				Joins("JOIN segment_members ON segment_members.contact_id = contacts.id").
				Joins("JOIN segments ON segments.id = segment_members.segment_id AND segments.deleted_at IS NULL").
				Where("segment_members.segment_id = ? AND segments.store_id = ?", sel.SegmentID, storeID)
		}
		return db
	}
}

func (r *contactRepository) CountAudience(ctx context.Context, storeID int64, sel model.AudienceSelector) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Contact{}).
		Scopes(audienceScope(storeID, sel)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}
	return count, nil
}

func (r *contactRepository) ListAudience(ctx context.Context, storeID int64, sel model.AudienceSelector, afterID int64, limit int) ([]model.AudienceMember, error) {
	q := r.db.WithContext(ctx).
		Model(&model.Contact{}).
		Select("contacts.id AS contact_id, contacts.phone AS phone").
		Scopes(audienceScope(storeID, sel)).
		Where("contacts.id > ?", afterID).
		Order("contacts.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []model.AudienceMember
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list audience: %w", err)
	}
	return out, nil
}
