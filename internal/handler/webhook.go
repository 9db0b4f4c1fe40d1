package handler

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"BulkSMS/internal/model"
	"BulkSMS/internal/model/dto"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/response"
	"BulkSMS/pkg/sms"
)

// SMSStatusCallback 供应商回执转为对账任务；HTTP 层只做入队
func (h *Handlers) SMSStatusCallback(ctx context.Context, c *app.RequestContext) {
	if h.webhookToken != "" {
		token := string(c.GetHeader("X-Webhook-Token"))
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
			response.Error(ctx, c, errors.InvalidRequest.WithMessage("invalid webhook token"))
			return
		}
	}

	var req dto.StatusCallbackRequest
	if err := c.Bind(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	req.ProviderMessageID = strings.TrimSpace(req.ProviderMessageID)
	if req.ProviderMessageID == "" {
		response.Error(ctx, c, errors.InvalidRequest.WithMessage("provider_message_id is required"))
		return
	}

	state := model.DeliveryState(sms.NormalizeStatus(req.Status))
	if !state.Valid() {
		// 未知状态直接确认，避免供应商反复重推
		logger.Logger.Warn("Ignoring unknown provider status",
			zap.String("provider_message_id", req.ProviderMessageID),
			zap.String("status", req.Status),
		)
		response.Success(ctx, c, map[string]bool{"accepted": false})
		return
	}

	now := time.Now().UTC()
	job := model.UpdateDeliveryStatusJob{
		ProviderMessageID: req.ProviderMessageID,
		State:             state,
		ObservedAt:        &now,
	}
	if err := h.jobs.AddOne(ctx, job); err != nil {
		logger.Logger.Error("Failed to enqueue delivery status",
			zap.String("provider_message_id", req.ProviderMessageID),
			zap.Error(err),
		)
		response.Error(ctx, c, err)
		return
	}
	response.Accepted(ctx, c, map[string]bool{"accepted": true})
}
