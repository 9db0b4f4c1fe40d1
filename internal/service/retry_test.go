package service

import (
	"context"
	stderrors "errors"
	"testing"

	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
)

func newRetryFixture() (*memStore, *fakeQueue, *RetryService) {
	store := newMemStore()
	q := &fakeQueue{}
	svc := NewRetryService(memCampaigns{store}, memRecipients{store}, q, &fakeLocker{},
		NewRenderer("Reply STOP to unsubscribe", 160), "+14155550000")
	return store, q, svc
}

// seedOutcomes 写入 sent 与 failed 接收人
func seedOutcomes(store *memStore, campaignID int64, sent, failed int) {
	ctx := context.Background()
	recs := memRecipients{store}
	n := 0
	for i := 0; i < sent+failed; i++ {
		n++
		phone := "+1415555" + pad4(int64(n))
		_, _ = recs.CreatePending(ctx, campaignID, []model.AudienceMember{{ContactID: int64(n), Phone: phone}})
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	i := 0
	for id := int64(1); id <= store.nextRecID; id++ {
		r, ok := store.recipients[id]
		if !ok || r.CampaignID != campaignID {
			continue
		}
		if i < sent {
			r.Status = model.RecipientStatusSent
		} else {
			r.Status = model.RecipientStatusFailed
			r.Error = "provider unavailable"
		}
		i++
	}
}

func TestRetryFailedTouchesOnlyFailedRows(t *testing.T) {
	ctx := context.Background()
	store, q, svc := newRetryFixture()
	store.setBalance(1, 10)
	c := store.addCampaign(model.Campaign{StoreID: 1, Body: "Hi", Status: model.CampaignStatusSent})
	seedOutcomes(store, c.ID, 4, 3)

	n, err := svc.RetryFailed(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 3 {
		t.Errorf("requeued = %d, want 3", n)
	}
	if got := len(q.sendJobs()); got != 3 {
		t.Errorf("jobs = %d, want 3", got)
	}

	var pending, sent, failed int
	for _, r := range store.recipientsOf(c.ID) {
		switch r.Status {
		case model.RecipientStatusPending:
			pending++
			if r.Error != "" {
				t.Errorf("error not cleared on %d", r.ID)
			}
		case model.RecipientStatusSent:
			sent++
		case model.RecipientStatusFailed:
			failed++
		}
	}
	if pending != 3 || sent != 4 || failed != 0 {
		t.Errorf("pending=%d sent=%d failed=%d", pending, sent, failed)
	}
	if got := store.balance(1); got != 10 {
		t.Errorf("balance = %d, retry must not draw credits", got)
	}
	if got := store.campaign(c.ID).Status; got != model.CampaignStatusSent {
		t.Errorf("campaign status changed to %s", got)
	}

	// 第二次没有 failed 行
	n, err = svc.RetryFailed(ctx, 1, c.ID)
	if err != nil || n != 0 {
		t.Errorf("second retry = %d, %v", n, err)
	}
}

func TestRetryFailedRejectsUndispatchedCampaign(t *testing.T) {
	store, _, svc := newRetryFixture()
	c := store.addCampaign(model.Campaign{StoreID: 1, Body: "Hi"})

	if _, err := svc.RetryFailed(context.Background(), 1, c.ID); !stderrors.Is(err, errors.CampaignStateConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestRetryFailedRestoresRowsWhenEnqueueFails(t *testing.T) {
	store, q, svc := newRetryFixture()
	c := store.addCampaign(model.Campaign{StoreID: 1, Body: "Hi", Status: model.CampaignStatusSending})
	seedOutcomes(store, c.ID, 1, 2)
	q.failOn = 1

	if _, err := svc.RetryFailed(context.Background(), 1, c.ID); err == nil {
		t.Fatalf("expected enqueue error")
	}
	failed := 0
	for _, r := range store.recipientsOf(c.ID) {
		if r.Status == model.RecipientStatusFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed rows = %d, want 2", failed)
	}
}

func TestRetryFailedLeavesUnusablePhonesFailed(t *testing.T) {
	ctx := context.Background()
	store, q, svc := newRetryFixture()
	c := store.addCampaign(model.Campaign{StoreID: 1, Body: "Hi", Status: model.CampaignStatusSending})
	seedOutcomes(store, c.ID, 0, 2)
	recs := memRecipients{store}
	contactID := int64(9)
	if _, err := recs.RecordOutcome(ctx, repository.OutcomeUpdate{Recipient: model.CampaignRecipient{
		CampaignID: c.ID, ContactID: &contactID, Phone: "", Status: model.RecipientStatusFailed, Error: "Invalid phone number",
	}}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	n, err := svc.RetryFailed(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 2 || q.count() != 2 {
		t.Errorf("retried = %d jobs = %d, want 2", n, q.count())
	}
	for _, r := range store.recipientsOf(c.ID) {
		if r.Phone == "" && r.Status != model.RecipientStatusFailed {
			t.Errorf("blank phone row status = %s", r.Status)
		}
	}
}
