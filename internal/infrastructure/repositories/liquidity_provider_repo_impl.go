package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	"escrow-pay.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LiquidityProviderRepository implements LP data operations
type LiquidityProviderRepository struct {
	db *gorm.DB
}

func NewLiquidityProviderRepository(db *gorm.DB) *LiquidityProviderRepository {
	return &LiquidityProviderRepository{db: db}
}

func (r *LiquidityProviderRepository) Create(ctx context.Context, lp *entities.LiquidityProvider) error {
	if lp.ID == uuid.Nil {
		lp.ID = uuid.New()
	}
	now := time.Now().UTC()
	lp.CreatedAt = now
	lp.UpdatedAt = now

	m, err := r.toModel(lp)
	if err != nil {
		return err
	}
	if err := GetDB(ctx, r.db).WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByWallet loads an LP, locking the row when ctx asks for it
func (r *LiquidityProviderRepository) GetByWallet(ctx context.Context, walletAddress string) (*entities.LiquidityProvider, error) {
	var m models.LiquidityProvider
	if err := readDB(ctx, r.db).Where("wallet_address = ?", walletAddress).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m)
}

func (r *LiquidityProviderRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entities.LiquidityProvider, int64, error) {
	query := GetDB(ctx, r.db).WithContext(ctx).Model(&models.LiquidityProvider{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.LiquidityProvider
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	lps := make([]*entities.LiquidityProvider, 0, len(ms))
	for i := range ms {
		lp, err := r.toEntity(&ms[i])
		if err != nil {
			return nil, 0, err
		}
		lps = append(lps, lp)
	}
	return lps, total, nil
}

// UpdateQuota writes the three quota columns together
func (r *LiquidityProviderRepository) UpdateQuota(ctx context.Context, lp *entities.LiquidityProvider) error {
	lp.UpdatedAt = time.Now().UTC()
	res := GetDB(ctx, r.db).WithContext(ctx).Model(&models.LiquidityProvider{}).
		Where("wallet_address = ?", lp.WalletAddress).
		Updates(map[string]interface{}{
			"total_quota":     lp.TotalQuota,
			"locked_quota":    lp.LockedQuota,
			"available_quota": lp.AvailableQuota,
			"updated_at":      lp.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// Update writes the LP profile columns. Quota columns go through UpdateQuota.
func (r *LiquidityProviderRepository) Update(ctx context.Context, lp *entities.LiquidityProvider) error {
	lp.UpdatedAt = time.Now().UTC()
	m, err := r.toModel(lp)
	if err != nil {
		return err
	}
	return GetDB(ctx, r.db).WithContext(ctx).Model(&models.LiquidityProvider{}).
		Where("wallet_address = ?", lp.WalletAddress).
		Updates(map[string]interface{}{
			"per_transaction_quota": m.PerTransactionQuota,
			"fee_rate":              m.FeeRate,
			"supported_platforms":   m.SupportedPlatforms,
			"is_active":             m.IsActive,
			"updated_at":            m.UpdatedAt,
		}).Error
}

func (r *LiquidityProviderRepository) toModel(lp *entities.LiquidityProvider) (*models.LiquidityProvider, error) {
	platforms, err := json.Marshal(lp.SupportedPlatforms)
	if err != nil {
		return nil, fmt.Errorf("marshal supported platforms: %w", err)
	}
	return &models.LiquidityProvider{
		ID:                  lp.ID,
		WalletAddress:       lp.WalletAddress,
		TotalQuota:          lp.TotalQuota,
		LockedQuota:         lp.LockedQuota,
		AvailableQuota:      lp.AvailableQuota,
		PerTransactionQuota: lp.PerTransactionQuota,
		FeeRate:             lp.FeeRate,
		SupportedPlatforms:  datatypes.JSON(platforms),
		IsActive:            lp.IsActive,
		CreatedAt:           lp.CreatedAt,
		UpdatedAt:           lp.UpdatedAt,
	}, nil
}

func (r *LiquidityProviderRepository) toEntity(m *models.LiquidityProvider) (*entities.LiquidityProvider, error) {
	lp := &entities.LiquidityProvider{
		ID:                  m.ID,
		WalletAddress:       m.WalletAddress,
		TotalQuota:          m.TotalQuota,
		LockedQuota:         m.LockedQuota,
		AvailableQuota:      m.AvailableQuota,
		PerTransactionQuota: m.PerTransactionQuota,
		FeeRate:             m.FeeRate,
		IsActive:            m.IsActive,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if len(m.SupportedPlatforms) > 0 {
		if err := json.Unmarshal(m.SupportedPlatforms, &lp.SupportedPlatforms); err != nil {
			return nil, fmt.Errorf("lp %s: decode supported platforms: %w", m.WalletAddress, err)
		}
	}
	return lp, nil
}
