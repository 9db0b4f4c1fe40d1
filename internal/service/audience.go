package service

import (
	"context"
	"sync"

	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/storage/database"
)

// AudienceService 把受众选择器解析为具体的联系人列表
// 是否已订阅只在解析的那一刻判断，之后退订的联系人仍会收到本次活动
type AudienceService struct {
	contacts repository.ContactRepository
}

var (
	audienceService *AudienceService
	audienceOnce    sync.Once
)

func Audience() *AudienceService {
	audienceOnce.Do(func() {
		audienceService = NewAudienceService(repository.NewContactRepository(database.DB()))
	})
	return audienceService
}

func NewAudienceService(contacts repository.ContactRepository) *AudienceService {
	return &AudienceService{contacts: contacts}
}

// Count 受众人数
func (s *AudienceService) Count(ctx context.Context, storeID int64, sel model.AudienceSelector) (int64, error) {
	if err := sel.Validate(); err != nil {
		return 0, err
	}
	return s.contacts.CountAudience(ctx, storeID, sel)
}

// ResolveEager 一次性加载全部成员，只用于小体量受众
func (s *AudienceService) ResolveEager(ctx context.Context, storeID int64, sel model.AudienceSelector) ([]model.AudienceMember, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return s.contacts.ListAudience(ctx, storeID, sel, 0, 0)
}

// ResolveStream 按 contact id 游标分页，每批不超过 batchSize
func (s *AudienceService) ResolveStream(storeID int64, sel model.AudienceSelector, batchSize int) *AudienceStream {
	st := &AudienceStream{
		contacts:  s.contacts,
		storeID:   storeID,
		sel:       sel,
		batchSize: batchSize,
	}
	if err := sel.Validate(); err != nil {
		st.err = err
		st.done = true
	}
	if batchSize <= 0 {
		st.batchSize = 1000
	}
	return st
}

// AudienceStream 一次性的游标迭代器，耗尽或出错后不能重新开始
type AudienceStream struct {
	contacts  repository.ContactRepository
	storeID   int64
	sel       model.AudienceSelector
	batchSize int

	cursor int64
	batch  []model.AudienceMember
	err    error
	done   bool
}

// Next 拉取下一批，没有更多数据或出错时返回 false
func (st *AudienceStream) Next(ctx context.Context) bool {
	st.batch = nil
	if st.done {
		return false
	}

	rows, err := st.contacts.ListAudience(ctx, st.storeID, st.sel, st.cursor, st.batchSize)
	if err != nil {
		st.err = err
		st.done = true
		return false
	}
	if len(rows) == 0 {
		st.done = true
		return false
	}

	st.batch = rows
	st.cursor = rows[len(rows)-1].ContactID
	// 不足一批说明已经到底，省掉一次空查询
	if len(rows) < st.batchSize {
		st.done = true
	}
	return true
}

func (st *AudienceStream) Batch() []model.AudienceMember {
	return st.batch
}

func (st *AudienceStream) Err() error {
	return st.err
}
