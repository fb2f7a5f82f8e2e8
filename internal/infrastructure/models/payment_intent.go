package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentIntent struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	BlockchainPaymentID *string         `gorm:"type:varchar(100);uniqueIndex"`
	Amount              decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Currency            string          `gorm:"type:varchar(20);not null"`
	FeeRate             decimal.Decimal `gorm:"type:decimal(10,6);not null;default:0"`
	TotalAmount         decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Platform            string          `gorm:"type:varchar(50)"`
	UserWalletAddress   string          `gorm:"type:varchar(42);not null;index"`
	LPWalletAddress     *string         `gorm:"column:lp_wallet_address;type:varchar(42);index"`
	LockedAmount        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	Status              string          `gorm:"type:varchar(30);not null;index"`
	StatusHistory       datatypes.JSON  `gorm:"type:jsonb;not null"`
	PaymentProof        datatypes.JSON  `gorm:"type:jsonb"`

	TransactionHash    *string `gorm:"type:varchar(66);index"`
	TxStatus           string  `gorm:"type:varchar(20);index"`
	BlockConfirmations int64   `gorm:"default:0"`
	LastSyncedAt       *time.Time
	SyncErrors         int     `gorm:"default:0"`
	LastSyncError      *string `gorm:"type:text"`

	ExpiresAt   time.Time `gorm:"not null;index"`
	ClaimedAt   *time.Time
	PaidAt      *time.Time
	ConfirmedAt *time.Time
	SettledAt   *time.Time
	ReleasedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PaymentIntent) TableName() string { return "payment_intents" }
