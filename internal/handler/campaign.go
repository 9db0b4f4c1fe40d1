package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"BulkSMS/internal/model/dto"
	"BulkSMS/internal/service"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/response"
)

// SendCampaign 预扣额度并把活动展开为发送任务，任务入队后即返回
func (h *Handlers) SendCampaign(ctx context.Context, c *app.RequestContext) {
	storeID, campaignID, err := campaignPath(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	result, err := h.campaigns.SendCampaign(ctx, storeID, campaignID)
	if err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			logger.Logger.Error("Failed to send campaign",
				zap.Int64("store_id", storeID),
				zap.Int64("campaign_id", campaignID),
				zap.Error(err),
			)
		}
		response.Error(ctx, c, err)
		return
	}
	response.Accepted(ctx, c, result)
}

// RetryCampaign 重发失败的接收人
func (h *Handlers) RetryCampaign(ctx context.Context, c *app.RequestContext) {
	storeID, campaignID, err := campaignPath(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	n, err := h.retries.RetryFailed(ctx, storeID, campaignID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Accepted(ctx, c, dto.RetryResponse{CampaignID: campaignID, Requeued: n})
}

func (h *Handlers) CancelCampaign(ctx context.Context, c *app.RequestContext) {
	storeID, campaignID, err := campaignPath(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	status, err := h.campaigns.CancelCampaign(ctx, storeID, campaignID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, dto.CancelResponse{CampaignID: campaignID, Status: string(status)})
}

// GetCampaign 活动状态、计数器与接收人分布
func (h *Handlers) GetCampaign(ctx context.Context, c *app.RequestContext) {
	storeID, campaignID, err := campaignPath(c)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	view, err := h.campaigns.Describe(ctx, storeID, campaignID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, toCampaignResponse(view))
}

func toCampaignResponse(v *service.CampaignView) dto.CampaignResponse {
	out := dto.CampaignResponse{
		ID:                v.Campaign.ID,
		StoreID:           v.Campaign.StoreID,
		Name:              v.Campaign.Name,
		Status:            string(v.Campaign.Status),
		ScheduledAt:       v.Campaign.ScheduledAt,
		QueuedAt:          v.Campaign.QueuedAt,
		CompletedAt:       v.Campaign.CompletedAt,
		CancelRequestedAt: v.Campaign.CancelRequestedAt,
		Counts: dto.CampaignCounts{
			Pending: v.Counts.Pending,
			Sent:    v.Counts.Sent,
			Failed:  v.Counts.Failed,
		},
	}
	if v.Metrics != nil {
		out.Metrics = dto.CampaignMetrics{
			TotalSent:      v.Metrics.TotalSent,
			TotalFailed:    v.Metrics.TotalFailed,
			TotalDelivered: v.Metrics.TotalDelivered,
		}
	}
	return out
}
