package service

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"BulkSMS/internal/model"
	"BulkSMS/internal/repository"
	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
	"BulkSMS/pkg/metrics"
	"BulkSMS/storage/database"
)

// LedgerEntry 账本流水
type LedgerEntry = model.WalletTransaction

// ReplayReport 余额与流水合计的核对结果
type ReplayReport struct {
	StoreID    int64 `json:"store_id"`
	Balance    int64 `json:"balance"`
	EntrySum   int64 `json:"entry_sum"`
	Entries    int64 `json:"entries"`
	Consistent bool  `json:"consistent"`
}

// LedgerService 店铺额度账本，余额只能经由这里修改
type LedgerService struct {
	wallets repository.WalletRepository
}

var (
	ledgerService *LedgerService
	ledgerOnce    sync.Once
)

func Ledger() *LedgerService {
	ledgerOnce.Do(func() {
		ledgerService = NewLedgerService(repository.NewWalletRepository(database.DB()))
	})
	return ledgerService
}

func NewLedgerService(wallets repository.WalletRepository) *LedgerService {
	return &LedgerService{wallets: wallets}
}

// Reserve 预扣额度，余额不足时返回 *errors.InsufficientCreditsError 且不产生任何流水
func (s *LedgerService) Reserve(ctx context.Context, storeID, amount int64, reference string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.InvalidAmount
	}

	entry, err := s.wallets.Reserve(ctx, storeID, amount, reference, model.JSONB{"reason": "campaign_dispatch"})
	if err != nil {
		var insufficient *errors.InsufficientCreditsError
		if stderrors.As(err, &insufficient) {
			logger.Logger.Info("Reserve rejected, insufficient credits",
				zap.Int64("store_id", storeID),
				zap.Int64("required", insufficient.Required),
				zap.Int64("available", insufficient.Available),
			)
		}
		return nil, err
	}

	metrics.RecordReserve(ctx, amount)
	logger.Logger.Info("Credits reserved",
		zap.Int64("store_id", storeID),
		zap.Int64("amount", amount),
		zap.String("reference", reference),
	)
	return entry, nil
}

// Refund 按 reference 退还额度，同一 reference 第二次调用返回 applied=false；
// 金额不能超过该 reference 下的预扣
func (s *LedgerService) Refund(ctx context.Context, storeID, amount int64, reference string) (bool, error) {
	if amount <= 0 {
		return false, errors.InvalidAmount
	}

	_, err := s.wallets.Refund(ctx, storeID, amount, reference, model.JSONB{"reason": "campaign_refund"})
	if stderrors.Is(err, errors.RefundAlreadyApplied) {
		logger.Logger.Info("Refund already applied",
			zap.Int64("store_id", storeID),
			zap.String("reference", reference),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.RecordRefund(ctx, amount)
	logger.Logger.Info("Credits refunded",
		zap.Int64("store_id", storeID),
		zap.Int64("amount", amount),
		zap.String("reference", reference),
	)
	return true, nil
}

// Purchase 充值入账，同一 reference 只记一次
func (s *LedgerService) Purchase(ctx context.Context, storeID, amount int64, reference string) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.InvalidAmount
	}

	entry, err := s.wallets.Purchase(ctx, storeID, amount, reference, model.JSONB{"reason": "purchase"})
	if err != nil {
		return nil, err
	}

	logger.Logger.Info("Credits purchased",
		zap.Int64("store_id", storeID),
		zap.Int64("amount", amount),
		zap.String("reference", reference),
	)
	return entry, nil
}

// Balance 当前余额；钱包不存在时返回 WalletNotFound
func (s *LedgerService) Balance(ctx context.Context, storeID int64) (int64, error) {
	return s.wallets.Balance(ctx, storeID)
}

func (s *LedgerService) Entries(ctx context.Context, storeID int64, limit int) ([]LedgerEntry, error) {
	return s.wallets.ListEntries(ctx, storeID, limit)
}

// VerifyReplay 校验余额等于全部流水之和
func (s *LedgerService) VerifyReplay(ctx context.Context, storeID int64) (*ReplayReport, error) {
	balance, err := s.wallets.Balance(ctx, storeID)
	if err != nil && !stderrors.Is(err, errors.WalletNotFound) {
		return nil, err
	}

	sum, count, err := s.wallets.SumEntries(ctx, storeID)
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{
		StoreID:    storeID,
		Balance:    balance,
		EntrySum:   sum,
		Entries:    count,
		Consistent: balance == sum,
	}
	if !report.Consistent {
		logger.Logger.Error("Ledger replay mismatch",
			zap.Int64("store_id", storeID),
			zap.Int64("balance", balance),
			zap.Int64("entry_sum", sum),
		)
	}
	return report, nil
}
