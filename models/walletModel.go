package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WalletTransactionType string

const (
	WalletTopUp      WalletTransactionType = "TOP_UP"
	WalletPayment    WalletTransactionType = "PAYMENT"
	WalletRefund     WalletTransactionType = "REFUND"
	WalletAdjustment WalletTransactionType = "ADJUSTMENT"
	WalletWithdrawal WalletTransactionType = "WITHDRAWAL"
)

type WalletTransactionStatus string

const (
	WalletTxPending    WalletTransactionStatus = "PENDING"
	WalletTxProcessing WalletTransactionStatus = "PROCESSING"
	WalletTxCompleted  WalletTransactionStatus = "COMPLETED"
	WalletTxFailed     WalletTransactionStatus = "FAILED"
)

type Wallet struct {
	gorm.Model
	RestaurantID uint            `json:"restaurantId" gorm:"not null;uniqueIndex"`
	Balance      decimal.Decimal `json:"balance" gorm:"type:decimal(14,2);not null"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null;default:'RWF'"`
	IsActive     bool            `json:"isActive" gorm:"not null"`
	Version      int64           `json:"-" gorm:"not null;default:0"`
}

// WalletTransaction is append-only. Amount is negative for debits.
// Sequence is the wallet version the entry produced and orders the balance
// chain; it stays nil until the entry moves the balance.
type WalletTransaction struct {
	ID                uint                    `json:"id" gorm:"primarykey"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
	WalletID          uint                    `json:"walletId" gorm:"not null;index;uniqueIndex:idx_wallet_sequence,priority:1"`
	Sequence          *int64                  `json:"sequence,omitempty" gorm:"uniqueIndex:idx_wallet_sequence,priority:2"`
	Type              WalletTransactionType   `json:"type" gorm:"type:varchar(20);not null"`
	Amount            decimal.Decimal         `json:"amount" gorm:"type:decimal(14,2);not null"`
	PreviousBalance   decimal.Decimal         `json:"previousBalance" gorm:"type:decimal(14,2);not null"`
	NewBalance        decimal.Decimal         `json:"newBalance" gorm:"type:decimal(14,2);not null"`
	Status            WalletTransactionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Reference         string                  `json:"reference" gorm:"type:varchar(64);uniqueIndex;not null"`
	PaymentMethod     PaymentMethod           `json:"paymentMethod" gorm:"type:varchar(20)"`
	Provider          string                  `json:"provider"`
	ProviderReference string                  `json:"providerReference" gorm:"index"`
	FailureReason     string                  `json:"failureReason"`
	Metadata          datatypes.JSON          `json:"metadata"`
}
