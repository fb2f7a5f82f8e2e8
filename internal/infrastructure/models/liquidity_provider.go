package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type LiquidityProvider struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	WalletAddress       string          `gorm:"type:varchar(42);not null;uniqueIndex"`
	TotalQuota          decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	LockedQuota         decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	AvailableQuota      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	PerTransactionQuota decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	FeeRate             decimal.Decimal `gorm:"type:decimal(10,6);not null;default:0"`
	SupportedPlatforms  datatypes.JSON  `gorm:"type:jsonb"`
	IsActive            bool            `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (LiquidityProvider) TableName() string { return "liquidity_providers" }
