package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"BulkSMS/internal/model"
	"BulkSMS/pkg/errors"
)

// WalletRepository 额度账户与流水，所有写操作都在单个事务内完成余额变更与流水追加
type WalletRepository interface {
	// Reserve 条件扣减，余额不足返回 *errors.InsufficientCreditsError
	Reserve(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error)
	// Refund 按 reference 幂等退还，重复退款返回 errors.RefundAlreadyApplied；
	// 金额超过该 reference 下的预扣返回 errors.RefundExceedsReserve
	Refund(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error)
	// Purchase 充值，重复 reference 返回 errors.TransactionDuplicate
	Purchase(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error)
	Balance(ctx context.Context, storeID int64) (int64, error)
	// SumEntries 返回流水合计与条数
	SumEntries(ctx context.Context, storeID int64) (sum int64, count int64, err error)
	ListEntries(ctx context.Context, storeID int64, limit int) ([]model.WalletTransaction, error)
}

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Reserve(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error) {
	var entry *model.WalletTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Wallet{}).
			Where("store_id = ? AND balance >= ?", storeID, amount).
			UpdateColumns(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", amount),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to decrement wallet: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			var available int64
			if err := tx.Model(&model.Wallet{}).
				Select("balance").
				Where("store_id = ?", storeID).
				Scan(&available).Error; err != nil {
				return fmt.Errorf("failed to query wallet balance: %w", err)
			}
			return &errors.InsufficientCreditsError{Required: amount, Available: available}
		}

		entry = &model.WalletTransaction{
			StoreID:   storeID,
			Type:      model.TransactionTypeDebit,
			Amount:    -amount,
			Reference: reference,
			Metadata:  meta,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append debit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *walletRepository) Refund(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error) {
	key := model.RefundKey(storeID, reference)
	return r.credit(ctx, storeID, amount, model.TransactionTypeRefund, reference, key, meta, errors.RefundAlreadyApplied,
		func(tx *gorm.DB) error {
			return checkRefundBound(tx, storeID, amount, reference)
		})
}

// checkRefundBound 每个 reference 只有一笔退款，上限就是该 reference 下的预扣金额
func checkRefundBound(tx *gorm.DB, storeID, amount int64, reference string) error {
	var reserved int64
	err := tx.Model(&model.WalletTransaction{}).
		Select("COALESCE(-SUM(amount), 0)").
		Where("store_id = ? AND reference = ? AND type = ?", storeID, reference, model.TransactionTypeDebit).
		Scan(&reserved).Error
	if err != nil {
		return fmt.Errorf("failed to query reserved amount: %w", err)
	}
	if amount > reserved {
		return errors.RefundExceedsReserve.WithMessage(
			fmt.Sprintf("refund of %d exceeds %d reserved under %s", amount, reserved, reference))
	}
	return nil
}

func (r *walletRepository) Purchase(ctx context.Context, storeID, amount int64, reference string, meta model.JSONB) (*model.WalletTransaction, error) {
	key := "purchase:" + strconv.FormatInt(storeID, 10) + ":" + reference
	return r.credit(ctx, storeID, amount, model.TransactionTypePurchase, reference, key, meta, errors.TransactionDuplicate, nil)
}

// credit 先以幂等键插入流水，插入成功且 check 通过才增加余额；钱包不存在时创建
func (r *walletRepository) credit(
	ctx context.Context,
	storeID, amount int64,
	typ model.TransactionType,
	reference, key string,
	meta model.JSONB,
	duplicate errors.Definition,
	check func(tx *gorm.DB) error,
) (*model.WalletTransaction, error) {
	entry := &model.WalletTransaction{
		StoreID:        storeID,
		Type:           typ,
		Amount:         amount,
		Reference:      reference,
		Metadata:       meta,
		IdempotencyKey: &key,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(entry)
		if res.Error != nil {
			return fmt.Errorf("failed to append %s entry: %w", typ, res.Error)
		}
		if res.RowsAffected == 0 {
			return duplicate
		}
		if check != nil {
			if err := check(tx); err != nil {
				return err
			}
		}

		now := time.Now()
		wallet := &model.Wallet{StoreID: storeID, Balance: amount, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("wallets.balance + ?", amount),
				"updated_at": now,
			}),
		}).Create(wallet).Error; err != nil {
			return fmt.Errorf("failed to credit wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *walletRepository) Balance(ctx context.Context, storeID int64) (int64, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("store_id = ?", storeID).
		First(&wallet).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, errors.WalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query wallet: %w", err)
	}
	return wallet.Balance, nil
}

func (r *walletRepository) SumEntries(ctx context.Context, storeID int64) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Model(&model.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("store_id = ?", storeID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum wallet entries: %w", err)
	}
	return row.Total, row.Count, nil
}

func (r *walletRepository) ListEntries(ctx context.Context, storeID int64, limit int) ([]model.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet entries: %w", err)
	}
	return entries, nil
}
