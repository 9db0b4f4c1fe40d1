package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"

	"BulkSMS/internal/handler"
	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/internal/service"
	"BulkSMS/pkg/errors"
)

type fakeCampaigns struct {
	sendErr error
	calls   []int64
}

func (f *fakeCampaigns) SendCampaign(_ context.Context, storeID, campaignID int64) (*service.DispatchResult, error) {
	f.calls = append(f.calls, storeID, campaignID)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &service.DispatchResult{CampaignID: campaignID, RecipientCount: 10, JobsQueued: 10, Status: model.CampaignStatusSending}, nil
}

func (f *fakeCampaigns) CancelCampaign(_ context.Context, _, _ int64) (model.CampaignStatus, error) {
	return model.CampaignStatusCancelled, nil
}

func (f *fakeCampaigns) Describe(_ context.Context, storeID, campaignID int64) (*service.CampaignView, error) {
	if campaignID == 404 {
		return nil, errors.CampaignNotFound
	}
	c := &model.Campaign{StoreID: storeID, Name: "Spring sale", Status: model.CampaignStatusSending}
	c.ID = campaignID
	return &service.CampaignView{
		Campaign: c,
		Metrics:  &model.CampaignMetrics{CampaignID: campaignID, TotalSent: 7, TotalFailed: 1},
		Counts:   repository.StatusCounts{Pending: 2, Sent: 7, Failed: 1},
	}, nil
}

type fakeRetries struct{}

func (fakeRetries) RetryFailed(context.Context, int64, int64) (int, error) { return 3, nil }

type fakeLedger struct{}

func (fakeLedger) Balance(context.Context, int64) (int64, error) { return 42, nil }

func (fakeLedger) Entries(_ context.Context, storeID int64, limit int) ([]service.LedgerEntry, error) {
	return []service.LedgerEntry{{ID: 1, StoreID: storeID, Type: model.TransactionTypePurchase, Amount: 42, Reference: "grant:1"}}, nil
}

func (fakeLedger) VerifyReplay(_ context.Context, storeID int64) (*service.ReplayReport, error) {
	return &service.ReplayReport{StoreID: storeID, Balance: 42, EntrySum: 42, Entries: 1, Consistent: true}, nil
}

type fakeJobs struct {
	jobs []model.Job
}

func (f *fakeJobs) AddOne(_ context.Context, job model.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeJobs) AddMany(_ context.Context, jobs []model.Job) error {
	f.jobs = append(f.jobs, jobs...)
	return nil
}

func newTestEngine(campaigns *fakeCampaigns, jobs *fakeJobs, token string) *route.Engine {
	engine := route.NewEngine(config.NewOptions(nil))
	hs := handler.New(campaigns, fakeRetries{}, fakeLedger{}, jobs, token)
	registerRoutes(engine.Group("/v1"), hs, nil)
	return engine
}

func decode(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid json %s: %v", body, err)
	}
	return out
}

func TestSendCampaignRoute(t *testing.T) {
	campaigns := &fakeCampaigns{}
	engine := newTestEngine(campaigns, &fakeJobs{}, "")

	w := ut.PerformRequest(engine, http.MethodPost, "/v1/stores/1/campaigns/7/send", nil)
	resp := w.Result()
	if resp.StatusCode() != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", resp.StatusCode(), resp.Body())
	}
	if len(campaigns.calls) != 2 || campaigns.calls[0] != 1 || campaigns.calls[1] != 7 {
		t.Errorf("calls = %v", campaigns.calls)
	}
	data := decode(t, resp.Body())["data"].(map[string]interface{})
	if data["jobs_queued"] != float64(10) {
		t.Errorf("data = %v", data)
	}
}

func TestSendCampaignErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"insufficient credits", &errors.InsufficientCreditsError{Required: 5, Available: 3}, http.StatusPaymentRequired, "CREDITS_INSUFFICIENT"},
		{"no recipients", errors.NoRecipients, http.StatusBadRequest, "NO_RECIPIENTS"},
		{"locked", errors.CampaignLocked, http.StatusConflict, "CAMPAIGN_LOCKED"},
		{"not found", errors.CampaignNotFound, http.StatusNotFound, "CAMPAIGN_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(&fakeCampaigns{sendErr: tt.err}, &fakeJobs{}, "")
			resp := ut.PerformRequest(engine, http.MethodPost, "/v1/stores/1/campaigns/7/send", nil).Result()
			if resp.StatusCode() != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode(), tt.want)
			}
			body := decode(t, resp.Body())["error"].(map[string]interface{})
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

func TestInvalidPathIDs(t *testing.T) {
	campaigns := &fakeCampaigns{}
	engine := newTestEngine(campaigns, &fakeJobs{}, "")

	for _, path := range []string{"/v1/stores/abc/campaigns/7/send", "/v1/stores/1/campaigns/0/send"} {
		resp := ut.PerformRequest(engine, http.MethodPost, path, nil).Result()
		if resp.StatusCode() != http.StatusBadRequest {
			t.Errorf("%s: status = %d", path, resp.StatusCode())
		}
	}
	if len(campaigns.calls) != 0 {
		t.Errorf("service should not be called")
	}
}

func TestGetCampaignRoute(t *testing.T) {
	engine := newTestEngine(&fakeCampaigns{}, &fakeJobs{}, "")

	resp := ut.PerformRequest(engine, http.MethodGet, "/v1/stores/1/campaigns/7", nil).Result()
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	data := decode(t, resp.Body())["data"].(map[string]interface{})
	counts := data["counts"].(map[string]interface{})
	if data["status"] != "sending" || counts["pending"] != float64(2) {
		t.Errorf("data = %v", data)
	}

	resp = ut.PerformRequest(engine, http.MethodGet, "/v1/stores/1/campaigns/404", nil).Result()
	if resp.StatusCode() != http.StatusNotFound {
		t.Errorf("missing campaign status = %d", resp.StatusCode())
	}
}

func TestRetryAndCancelRoutes(t *testing.T) {
	engine := newTestEngine(&fakeCampaigns{}, &fakeJobs{}, "")

	resp := ut.PerformRequest(engine, http.MethodPost, "/v1/stores/1/campaigns/7/retry", nil).Result()
	if resp.StatusCode() != http.StatusAccepted {
		t.Errorf("retry status = %d", resp.StatusCode())
	}
	if data := decode(t, resp.Body())["data"].(map[string]interface{}); data["requeued"] != float64(3) {
		t.Errorf("retry data = %v", data)
	}

	resp = ut.PerformRequest(engine, http.MethodPost, "/v1/stores/1/campaigns/7/cancel", nil).Result()
	if resp.StatusCode() != http.StatusOK {
		t.Errorf("cancel status = %d", resp.StatusCode())
	}
	if data := decode(t, resp.Body())["data"].(map[string]interface{}); data["status"] != "cancelled" {
		t.Errorf("cancel data = %v", data)
	}
}

func TestWalletRoutes(t *testing.T) {
	engine := newTestEngine(&fakeCampaigns{}, &fakeJobs{}, "")

	resp := ut.PerformRequest(engine, http.MethodGet, "/v1/stores/1/wallet?limit=10", nil).Result()
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("wallet status = %d", resp.StatusCode())
	}
	data := decode(t, resp.Body())["data"].(map[string]interface{})
	if data["balance"] != float64(42) || len(data["entries"].([]interface{})) != 1 {
		t.Errorf("wallet = %v", data)
	}

	resp = ut.PerformRequest(engine, http.MethodGet, "/v1/stores/1/wallet?limit=-1", nil).Result()
	if resp.StatusCode() != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode())
	}

	resp = ut.PerformRequest(engine, http.MethodGet, "/v1/stores/1/wallet/verify", nil).Result()
	if data := decode(t, resp.Body())["data"].(map[string]interface{}); data["consistent"] != true {
		t.Errorf("verify = %v", data)
	}
}

func TestStatusWebhook(t *testing.T) {
	jobs := &fakeJobs{}
	engine := newTestEngine(&fakeCampaigns{}, jobs, "s3cret")
	jsonHeader := ut.Header{Key: "Content-Type", Value: "application/json"}
	tokenHeader := ut.Header{Key: "X-Webhook-Token", Value: "s3cret"}

	post := func(body string, headers ...ut.Header) int {
		b := &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
		return ut.PerformRequest(engine, http.MethodPost, "/v1/webhooks/sms/status", b, headers...).Result().StatusCode()
	}

	if got := post(`{"provider_message_id":"SM1","status":"delivered"}`, jsonHeader); got != http.StatusBadRequest {
		t.Errorf("missing token status = %d", got)
	}
	if got := post(`{"provider_message_id":"SM1","status":"delivered"}`, jsonHeader, tokenHeader); got != http.StatusAccepted {
		t.Errorf("json callback status = %d", got)
	}
	form := ut.Header{Key: "Content-Type", Value: "application/x-www-form-urlencoded"}
	if got := post("MessageSid=SM2&MessageStatus=undelivered", form, tokenHeader); got != http.StatusAccepted {
		t.Errorf("form callback status = %d", got)
	}
	if got := post(`{"provider_message_id":"SM3","status":"teleported"}`, jsonHeader, tokenHeader); got != http.StatusOK {
		t.Errorf("unknown status = %d", got)
	}
	if got := post(`{"status":"delivered"}`, jsonHeader, tokenHeader); got != http.StatusBadRequest {
		t.Errorf("missing id status = %d", got)
	}

	if len(jobs.jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs.jobs))
	}
	first := jobs.jobs[0].(model.UpdateDeliveryStatusJob)
	second := jobs.jobs[1].(model.UpdateDeliveryStatusJob)
	if first.ProviderMessageID != "SM1" || first.State != model.DeliveryStateDelivered {
		t.Errorf("first = %+v", first)
	}
	if second.ProviderMessageID != "SM2" || second.State != model.DeliveryStateUndelivered {
		t.Errorf("second = %+v", second)
	}
}
