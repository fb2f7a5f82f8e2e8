package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LiquidityProvider fronts the fiat leg and is reimbursed on-chain.
type LiquidityProvider struct {
	ID                  uuid.UUID       `json:"id"`
	WalletAddress       string          `json:"walletAddress"`
	TotalQuota          decimal.Decimal `json:"totalQuota"`
	LockedQuota         decimal.Decimal `json:"lockedQuota"`
	AvailableQuota      decimal.Decimal `json:"availableQuota"`
	PerTransactionQuota decimal.Decimal `json:"perTransactionQuota"`
	FeeRate             decimal.Decimal `json:"feeRate"`
	SupportedPlatforms  []string        `json:"supportedPlatforms"`
	IsActive            bool            `json:"isActive"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// CanLock reports whether amount fits both the free capacity and the
// per-transaction ceiling.
func (lp *LiquidityProvider) CanLock(amount decimal.Decimal) bool {
	if !lp.IsActive || !amount.IsPositive() {
		return false
	}
	return amount.LessThanOrEqual(lp.AvailableQuota) && amount.LessThanOrEqual(lp.PerTransactionQuota)
}

// Lock commits amount of capacity. Callers check CanLock first.
func (lp *LiquidityProvider) Lock(amount decimal.Decimal) {
	lp.LockedQuota = lp.LockedQuota.Add(amount)
	lp.recompute()
}

// Unlock releases amount of capacity, never dropping below zero.
func (lp *LiquidityProvider) Unlock(amount decimal.Decimal) {
	lp.LockedQuota = lp.LockedQuota.Sub(amount)
	if lp.LockedQuota.IsNegative() {
		lp.LockedQuota = decimal.Zero
	}
	lp.recompute()
}

func (lp *LiquidityProvider) recompute() {
	lp.AvailableQuota = lp.TotalQuota.Sub(lp.LockedQuota)
}

// CheckInvariant enforces 0 <= locked <= total and available == total - locked.
func (lp *LiquidityProvider) CheckInvariant() error {
	if lp.LockedQuota.IsNegative() {
		return fmt.Errorf("lp %s: locked quota %s is negative", lp.WalletAddress, lp.LockedQuota)
	}
	if lp.LockedQuota.GreaterThan(lp.TotalQuota) {
		return fmt.Errorf("lp %s: locked quota %s exceeds total %s", lp.WalletAddress, lp.LockedQuota, lp.TotalQuota)
	}
	if !lp.AvailableQuota.Equal(lp.TotalQuota.Sub(lp.LockedQuota)) {
		return fmt.Errorf("lp %s: available quota %s out of sync", lp.WalletAddress, lp.AvailableQuota)
	}
	return nil
}

// SupportsPlatform reports whether the LP accepts payments on platform. An
// empty list accepts everything.
func (lp *LiquidityProvider) SupportsPlatform(platform string) bool {
	if len(lp.SupportedPlatforms) == 0 || platform == "" {
		return true
	}
	for _, p := range lp.SupportedPlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// RegisterLPInput is the request to create or refresh an LP record.
type RegisterLPInput struct {
	WalletAddress       string   `json:"walletAddress" binding:"required"`
	TotalQuota          string   `json:"totalQuota" binding:"required"`
	PerTransactionQuota string   `json:"perTransactionQuota" binding:"required"`
	FeeRate             string   `json:"feeRate"`
	SupportedPlatforms  []string `json:"supportedPlatforms"`
}
