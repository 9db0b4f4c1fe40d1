package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"BulkSMS/internal/model/dto"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/response"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 500
)

// GetWallet 余额与最近的流水
func (h *Handlers) GetWallet(ctx context.Context, c *app.RequestContext) {
	storeID, err := pathID(c, "store_id")
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	limit := defaultEntryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(ctx, c, errors.InvalidRequest.WithMessage("invalid limit"))
			return
		}
		limit = min(n, maxEntryLimit)
	}

	balance, err := h.ledger.Balance(ctx, storeID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	entries, err := h.ledger.Entries(ctx, storeID, limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	out := dto.WalletResponse{StoreID: storeID, Balance: balance, Entries: make([]dto.WalletEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, dto.WalletEntry{
			ID:        e.ID,
			Type:      string(e.Type),
			Amount:    e.Amount,
			Reference: e.Reference,
			CreatedAt: e.CreatedAt,
		})
	}
	response.Success(ctx, c, out)
}

// VerifyWallet 重放流水核对余额
func (h *Handlers) VerifyWallet(ctx context.Context, c *app.RequestContext) {
	storeID, err := pathID(c, "store_id")
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	report, err := h.ledger.VerifyReplay(ctx, storeID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, report)
}
