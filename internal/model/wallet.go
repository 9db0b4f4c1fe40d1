package model

import (
	"strconv"
	"time"
)

// TransactionType 流水类型枚举
type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase" // 充值
	TransactionTypeDebit    TransactionType = "debit"    // 预扣
	TransactionTypeRefund   TransactionType = "refund"   // 退还
)

// Wallet 店铺额度余额，只能经由账本修改
type Wallet struct {
	StoreID   int64     `gorm:"primaryKey;autoIncrement:false" json:"store_id"`
	Balance   int64     `gorm:"not null;default:0;check:chk_wallets_balance_non_negative,balance >= 0" json:"balance"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}

// WalletTransaction 额度流水，只追加；Amount 带符号
type WalletTransaction struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StoreID   int64           `gorm:"not null;index:idx_wallet_transactions_store" json:"store_id"`
	Type      TransactionType `gorm:"type:varchar(16);not null" json:"type"`
	Amount    int64           `gorm:"not null" json:"amount"`
	Reference string          `gorm:"type:varchar(128);not null;index" json:"reference"`
	Metadata  JSONB           `gorm:"type:jsonb" json:"metadata,omitempty"`
	// 幂等键，退款与充值流水设置；NULL 不参与唯一约束
	IdempotencyKey *string   `gorm:"type:varchar(160);uniqueIndex" json:"-"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
}

// TableName 指定表名
func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}

// RefundKey 同一店铺同一 reference 只能退一次
func RefundKey(storeID int64, reference string) string {
	return "refund:" + strconv.FormatInt(storeID, 10) + ":" + reference
}
