package repositories

import (
	"context"

	"escrow-pay.backend/internal/domain/entities"
)

// LiquidityProviderRepository defines LP persistence
type LiquidityProviderRepository interface {
	Create(ctx context.Context, lp *entities.LiquidityProvider) error
	GetByWallet(ctx context.Context, walletAddress string) (*entities.LiquidityProvider, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entities.LiquidityProvider, int64, error)
	// UpdateQuota writes total, locked and available quota together.
	UpdateQuota(ctx context.Context, lp *entities.LiquidityProvider) error
	Update(ctx context.Context, lp *entities.LiquidityProvider) error
}
