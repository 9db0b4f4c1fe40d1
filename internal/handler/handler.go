package handler

import (
	"context"
	"strconv"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"

	"BulkSMS/config"
	"BulkSMS/internal/model"
	"BulkSMS/internal/queue"
	"BulkSMS/internal/service"
	"BulkSMS/pkg/errors"
)

// CampaignService 活动派发、取消与查询
type CampaignService interface {
	SendCampaign(ctx context.Context, storeID, campaignID int64) (*service.DispatchResult, error)
	CancelCampaign(ctx context.Context, storeID, campaignID int64) (model.CampaignStatus, error)
	Describe(ctx context.Context, storeID, campaignID int64) (*service.CampaignView, error)
}

type RetryService interface {
	RetryFailed(ctx context.Context, storeID, campaignID int64) (int, error)
}

type LedgerService interface {
	Balance(ctx context.Context, storeID int64) (int64, error)
	Entries(ctx context.Context, storeID int64, limit int) ([]service.LedgerEntry, error)
	VerifyReplay(ctx context.Context, storeID int64) (*service.ReplayReport, error)
}

// Handlers 持有 HTTP 层依赖的服务
type Handlers struct {
	campaigns    CampaignService
	retries      RetryService
	ledger       LedgerService
	jobs         service.JobQueue
	webhookToken string
}

func New(campaigns CampaignService, retries RetryService, ledger LedgerService, jobs service.JobQueue, webhookToken string) *Handlers {
	return &Handlers{
		campaigns:    campaigns,
		retries:      retries,
		ledger:       ledger,
		jobs:         jobs,
		webhookToken: webhookToken,
	}
}

var (
	defaultHandlers *Handlers
	defaultOnce     sync.Once
)

// Default 使用全局服务单例
func Default() *Handlers {
	defaultOnce.Do(func() {
		defaultHandlers = New(
			service.Dispatch(),
			service.Retry(),
			service.Ledger(),
			queue.NewProducer(),
			config.Cfg.WebhookToken,
		)
	})
	return defaultHandlers
}

func pathID(c *app.RequestContext, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidRequest.WithMessage("invalid " + name)
	}
	return id, nil
}

// campaignPath 解析 store_id 与 campaign_id
func campaignPath(c *app.RequestContext) (int64, int64, error) {
	storeID, err := pathID(c, "store_id")
	if err != nil {
		return 0, 0, err
	}
	campaignID, err := pathID(c, "campaign_id")
	if err != nil {
		return 0, 0, err
	}
	return storeID, campaignID, nil
}
