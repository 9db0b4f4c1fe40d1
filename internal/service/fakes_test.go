package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
)

// memStore 内存版仓储，语义与 SQL 实现一致：条件更新、幂等键、唯一约束
type memStore struct {
	mu sync.Mutex

	contacts []model.Contact
	segments map[int64]int64   // segment id -> store id
	members  map[int64][]int64 // segment id -> contact ids

	wallets map[int64]int64
	entries []model.WalletTransaction
	keys    map[string]bool

	campaigns map[int64]*model.Campaign

	recipients map[int64]*model.CampaignRecipient
	nextRecID  int64
	metrics    map[int64]*model.CampaignMetrics
	logs       []model.MessageLog
}

func newMemStore() *memStore {
	return &memStore{
		segments:   make(map[int64]int64),
		members:    make(map[int64][]int64),
		wallets:    make(map[int64]int64),
		keys:       make(map[string]bool),
		campaigns:  make(map[int64]*model.Campaign),
		recipients: make(map[int64]*model.CampaignRecipient),
		metrics:    make(map[int64]*model.CampaignMetrics),
	}
}

// addContacts 为店铺添加 n 个已订阅联系人，返回其 id
func (m *memStore) addContacts(storeID int64, n int, gender model.Gender) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id := int64(len(m.contacts) + 1)
		c := model.Contact{
			StoreID: storeID,
			Phone:   "+1415555" + pad4(id),
			Gender:  gender,
			OptedIn: true,
		}
		c.ID = id
		m.contacts = append(m.contacts, c)
		ids = append(ids, id)
	}
	return ids
}

// addContactPhones 按给定号码添加已订阅联系人
func (m *memStore) addContactPhones(storeID int64, phones ...string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(phones))
	for _, p := range phones {
		id := int64(len(m.contacts) + 1)
		c := model.Contact{StoreID: storeID, Phone: p, OptedIn: true}
		c.ID = id
		m.contacts = append(m.contacts, c)
		ids = append(ids, id)
	}
	return ids
}

func (m *memStore) optOut(contactIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range contactIDs {
		m.contacts[id-1].OptedIn = false
	}
}

func (m *memStore) entriesOf(storeID int64) []model.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WalletTransaction
	for _, e := range m.entries {
		if e.StoreID == storeID {
			out = append(out, e)
		}
	}
	return out
}

func pad4(n int64) string {
	s := strconv.FormatInt(n, 10)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

func (m *memStore) addSegment(segmentID, storeID int64, contactIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[segmentID] = storeID
	m.members[segmentID] = append(m.members[segmentID], contactIDs...)
}

func (m *memStore) addCampaign(c model.Campaign) *model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = int64(len(m.campaigns) + 1)
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.Audience.Kind == "" {
		c.Audience = model.AllOptedIn()
	}
	cp := c
	m.campaigns[c.ID] = &cp
	return &cp
}

func (m *memStore) campaign(id int64) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memStore) setBalance(storeID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[storeID] = balance
	m.entries = append(m.entries, model.WalletTransaction{
		ID:      int64(len(m.entries) + 1),
		StoreID: storeID,
		Type:    model.TransactionTypePurchase,
		Amount:  balance,
	})
}

func (m *memStore) balance(storeID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[storeID]
}

func (m *memStore) recipientsOf(campaignID int64) []model.CampaignRecipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CampaignRecipient
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) metricsOf(campaignID int64) model.CampaignMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.metrics[campaignID]; ok {
		return *row
	}
	return model.CampaignMetrics{CampaignID: campaignID}
}

// ---- ContactRepository ----

type memContacts struct{ *memStore }

func (r memContacts) matching(storeID int64, sel model.AudienceSelector) []model.AudienceMember {
	inSegment := map[int64]bool{}
	if sel.Kind == model.AudienceSegment {
		if owner, ok := r.segments[sel.SegmentID]; ok && owner == storeID {
			for _, id := range r.members[sel.SegmentID] {
				inSegment[id] = true
			}
		}
	}

	var out []model.AudienceMember
	for _, c := range r.contacts {
		if c.StoreID != storeID || !c.OptedIn {
			continue
		}
		switch sel.Kind {
		case model.AudienceGender:
			ok := false
			for _, g := range sel.Genders {
				if c.Gender == g {
					ok = true
				}
			}
			if !ok {
				continue
			}
		case model.AudienceSegment:
			if !inSegment[c.ID] {
				continue
			}
		}
		out = append(out, model.AudienceMember{ContactID: c.ID, Phone: c.Phone})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out
}

func (r memContacts) CountAudience(_ context.Context, storeID int64, sel model.AudienceSelector) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(storeID, sel))), nil
}

func (r memContacts) ListAudience(_ context.Context, storeID int64, sel model.AudienceSelector, afterID int64, limit int) ([]model.AudienceMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AudienceMember
	for _, m := range r.matching(storeID, sel) {
		if m.ContactID <= afterID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- WalletRepository ----

type memWallets struct{ *memStore }

func (r memWallets) Reserve(_ context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, ok := r.wallets[storeID]
	if !ok || balance < amount {
		return nil, &errors.InsufficientCreditsError{Required: amount, Available: balance}
	}
	r.wallets[storeID] = balance - amount
	entry := model.WalletTransaction{
		ID:        int64(len(r.entries) + 1),
		StoreID:   storeID,
		Type:      model.TransactionTypeDebit,
		Amount:    -amount,
		Reference: reference,
		Metadata:  meta,
	}
	r.entries = append(r.entries, entry)
	return &entry, nil
}

func (r memWallets) credit(storeID, amount int64, typ model.TransactionType, reference, key string, duplicate errors.Definition, check func() error) (*model.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.keys[key] {
		return nil, duplicate
	}
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}
	r.keys[key] = true
	r.wallets[storeID] += amount
	entry := model.WalletTransaction{
		ID:             int64(len(r.entries) + 1),
		StoreID:        storeID,
		Type:           typ,
		Amount:         amount,
		Reference:      reference,
		IdempotencyKey: &key,
	}
	r.entries = append(r.entries, entry)
	return &entry, nil
}

func (r memWallets) Refund(_ context.Context, storeID, amount int64, reference string, _ model.JSONB) (*model.WalletTransaction, error) {
	// 调用时已持有锁
	bound := func() error {
		var reserved int64
		for _, e := range r.entries {
			if e.StoreID == storeID && e.Reference == reference && e.Type == model.TransactionTypeDebit {
				reserved -= e.Amount
			}
		}
		if amount > reserved {
			return errors.RefundExceedsReserve
		}
		return nil
	}
	return r.credit(storeID, amount, model.TransactionTypeRefund, reference, model.RefundKey(storeID, reference), errors.RefundAlreadyApplied, bound)
}

func (r memWallets) Purchase(_ context.Context, storeID, amount int64, reference string, _ model.JSONB) (*model.WalletTransaction, error) {
	key := "purchase:" + strconv.FormatInt(storeID, 10) + ":" + reference
	return r.credit(storeID, amount, model.TransactionTypePurchase, reference, key, errors.TransactionDuplicate, nil)
}

func (r memWallets) Balance(_ context.Context, storeID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.wallets[storeID]
	if !ok {
		return 0, errors.WalletNotFound
	}
	return balance, nil
}

func (r memWallets) SumEntries(_ context.Context, storeID int64) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum, count int64
	for _, e := range r.entries {
		if e.StoreID == storeID {
			sum += e.Amount
			count++
		}
	}
	return sum, count, nil
}

func (r memWallets) ListEntries(_ context.Context, storeID int64, limit int) ([]model.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.WalletTransaction
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].StoreID == storeID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

// ---- CampaignRepository ----

type memCampaigns struct{ *memStore }

func (r memCampaigns) Get(_ context.Context, storeID, campaignID int64) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.StoreID != storeID {
		return nil, errors.CampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (r memCampaigns) TransitionStatus(_ context.Context, campaignID int64, from, to model.CampaignStatus, fields map[string]interface{}) (bool, error) {
	if !from.CanTransition(to) {
		return false, errors.CampaignStateConflict
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if v, ok := fields["completed_at"].(time.Time); ok {
		c.CompletedAt = &v
	}
	return true, nil
}

func (r memCampaigns) MarkQueued(_ context.Context, campaignID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[campaignID].QueuedAt = &at
	return nil
}

func (r memCampaigns) RequestCancel(_ context.Context, campaignID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[campaignID]
	if c.Status != model.CampaignStatusSending || c.CancelRequestedAt != nil {
		return false, nil
	}
	c.CancelRequestedAt = &at
	return true, nil
}

func (r memCampaigns) CancelRequested(_ context.Context, campaignID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[campaignID].CancelRequestedAt != nil, nil
}

func (r memCampaigns) ListDue(_ context.Context, now time.Time, limit int) ([]model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Campaign
	for _, c := range r.campaigns {
		if c.Status == model.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memCampaigns) ListQueuedSending(_ context.Context, limit int) ([]model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Campaign
	for _, c := range r.campaigns {
		if c.Status == model.CampaignStatusSending && c.QueuedAt != nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- RecipientRepository / MetricsRepository ----

type memRecipients struct{ *memStore }

func (r memRecipients) findLocked(campaignID int64, phone string) *model.CampaignRecipient {
	for _, rec := range r.recipients {
		if rec.CampaignID == campaignID && rec.Phone == phone {
			return rec
		}
	}
	return nil
}

func (r memRecipients) incrementLocked(campaignID int64, field model.MetricField) {
	if field == "" {
		return
	}
	row, ok := r.metrics[campaignID]
	if !ok {
		row = &model.CampaignMetrics{CampaignID: campaignID}
		r.metrics[campaignID] = row
	}
	switch field {
	case model.MetricTotalSent:
		row.TotalSent++
	case model.MetricTotalDelivered:
		row.TotalDelivered++
	case model.MetricTotalFailed:
		row.TotalFailed++
	}
}

func (r memRecipients) CreatePending(_ context.Context, campaignID int64, members []model.AudienceMember) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted int64
	for _, m := range members {
		if r.findLocked(campaignID, m.Phone) != nil {
			continue
		}
		r.nextRecID++
		contactID := m.ContactID
		rec := &model.CampaignRecipient{
			CampaignID: campaignID,
			ContactID:  &contactID,
			Phone:      m.Phone,
			Status:     model.RecipientStatusPending,
		}
		rec.ID = r.nextRecID
		r.recipients[rec.ID] = rec
		inserted++
	}
	return inserted, nil
}

func (r memRecipients) DeletePending(_ context.Context, campaignID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.recipients {
		if rec.CampaignID == campaignID && rec.Status == model.RecipientStatusPending {
			delete(r.recipients, id)
			n++
		}
	}
	return n, nil
}

func (r memRecipients) RecordOutcome(_ context.Context, u repository.OutcomeUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findLocked(u.Recipient.CampaignID, u.Recipient.Phone)
	if rec == nil {
		r.nextRecID++
		cp := u.Recipient
		cp.ID = r.nextRecID
		r.recipients[cp.ID] = &cp
	} else {
		if rec.Status != model.RecipientStatusPending {
			return false, nil
		}
		rec.Status = u.Recipient.Status
		rec.ProviderMessageID = u.Recipient.ProviderMessageID
		rec.DeliveryState = u.Recipient.DeliveryState
		rec.Error = u.Recipient.Error
		rec.SentAt = u.Recipient.SentAt
	}
	r.incrementLocked(u.Recipient.CampaignID, u.Metric)
	r.logs = append(r.logs, u.Log)
	return true, nil
}

func (r memRecipients) Find(_ context.Context, campaignID int64, phone string) (*model.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.findLocked(campaignID, phone)
	if rec == nil {
		return nil, errors.RecipientNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r memRecipients) FindByProviderID(_ context.Context, providerMessageID string) (*model.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recipients {
		if rec.ProviderMessageID != nil && *rec.ProviderMessageID == providerMessageID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, errors.RecipientNotFound
}

func (r memRecipients) ApplyDelivery(_ context.Context, u repository.DeliveryUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[u.RecipientID]
	if !ok || rec.DeliveryState != u.From {
		return false, nil
	}
	rec.DeliveryState = u.To
	rec.DeliveredAt = u.DeliveredAt
	r.incrementLocked(u.CampaignID, u.Metric)
	r.logs = append(r.logs, u.Log)
	return true, nil
}

func (r memRecipients) ResetFailed(_ context.Context, campaignID int64) ([]model.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CampaignRecipient
	for _, rec := range r.recipients {
		if rec.CampaignID == campaignID && rec.Status == model.RecipientStatusFailed {
			rec.Status = model.RecipientStatusPending
			rec.Error = ""
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRecipients) RestoreFailed(_ context.Context, campaignID int64, ids []int64, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if rec, ok := r.recipients[id]; ok && rec.CampaignID == campaignID && rec.Status == model.RecipientStatusPending {
			rec.Status = model.RecipientStatusFailed
			rec.Error = reason
			n++
		}
	}
	return n, nil
}

func (r memRecipients) CountByStatus(_ context.Context, campaignID int64) (repository.StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out repository.StatusCounts
	for _, rec := range r.recipients {
		if rec.CampaignID != campaignID {
			continue
		}
		switch rec.Status {
		case model.RecipientStatusPending:
			out.Pending++
		case model.RecipientStatusSent:
			out.Sent++
		case model.RecipientStatusFailed:
			out.Failed++
		}
	}
	return out, nil
}

func (r memRecipients) ListStaleNonFinal(_ context.Context, sentAfter, olderThan time.Time, afterID int64, limit int) ([]model.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CampaignRecipient
	for _, rec := range r.recipients {
		if rec.ID <= afterID || rec.Status != model.RecipientStatusSent || rec.ProviderMessageID == nil {
			continue
		}
		if rec.DeliveryState.IsFinal() || rec.SentAt == nil || rec.SentAt.Before(sentAfter) || !rec.SentAt.Before(olderThan) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memMetrics struct{ *memStore }

func (r memMetrics) Ensure(_ context.Context, campaignID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[campaignID]; !ok {
		r.metrics[campaignID] = &model.CampaignMetrics{CampaignID: campaignID}
	}
	return nil
}

func (r memMetrics) Get(_ context.Context, campaignID int64) (*model.CampaignMetrics, error) {
	m := r.metricsOf(campaignID)
	return &m, nil
}

// ---- JobQueue / Locker ----

type fakeQueue struct {
	mu    sync.Mutex
	jobs  []model.Job
	calls int

	// failOn 第 n 次 AddMany（从 1 开始）返回错误，0 表示不失败
	failOn int
	// afterAdd 每次成功入队后回调
	afterAdd func(call int)
}

func (q *fakeQueue) AddOne(ctx context.Context, job model.Job) error {
	return q.AddMany(ctx, []model.Job{job})
}

// AddMany 与 Producer 一样逐个编码，任一任务校验失败则整批拒绝
func (q *fakeQueue) AddMany(_ context.Context, jobs []model.Job) error {
	q.mu.Lock()
	q.calls++
	call := q.calls
	if q.failOn == call {
		q.mu.Unlock()
		return errors.ProviderUnavailable.WithMessage("broker unavailable")
	}
	for i, job := range jobs {
		if _, err := model.EncodeJob("fake-"+strconv.Itoa(call)+"-"+strconv.Itoa(i), job); err != nil {
			q.mu.Unlock()
			return err
		}
	}
	q.jobs = append(q.jobs, jobs...)
	hook := q.afterAdd
	q.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return nil
}

func (q *fakeQueue) sendJobs() []model.SendMessageJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.SendMessageJob
	for _, j := range q.jobs {
		if s, ok := j.(model.SendMessageJob); ok {
			out = append(out, s)
		}
	}
	return out
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[int64]bool
	denyID int64
}

func (l *fakeLocker) Lock(_ context.Context, campaignID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[int64]bool)
	}
	if l.held[campaignID] || campaignID == l.denyID {
		return nil, errors.CampaignLocked
	}
	l.held[campaignID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, campaignID)
			l.mu.Unlock()
		})
	}, nil
}

// ---- fixtures ----

type fixture struct {
	store    *memStore
	queue    *fakeQueue
	locker   *fakeLocker
	ledger   *LedgerService
	audience *AudienceService
	dispatch *DispatchService
	refSeq   int
}

func newFixture(opts DispatchOptions) *fixture {
	store := newMemStore()
	f := &fixture{
		store:    store,
		queue:    &fakeQueue{},
		locker:   &fakeLocker{},
		ledger:   NewLedgerService(memWallets{store}),
		audience: NewAudienceService(memContacts{store}),
	}
	if opts.DefaultSenderID == "" {
		opts.DefaultSenderID = "+14155550000"
	}
	f.dispatch = NewDispatchService(DispatchDeps{
		Campaigns:  memCampaigns{store},
		Recipients: memRecipients{store},
		Metrics:    memMetrics{store},
		Audience:   f.audience,
		Ledger:     f.ledger,
		Queue:      f.queue,
		Locker:     f.locker,
		Renderer:   NewRenderer("Reply STOP to unsubscribe", 160),
	}, opts)
	f.dispatch.newReference = func(campaignID int64) (string, error) {
		f.refSeq++
		return "campaign:" + strconv.FormatInt(campaignID, 10) + ":dispatch:" + strconv.Itoa(f.refSeq), nil
	}
	return f
}
