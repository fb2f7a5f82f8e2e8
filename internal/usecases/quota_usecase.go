package usecases

import (
	"context"
	"errors"
	"fmt"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"escrow-pay.backend/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuotaUsecase is the LP capacity ledger. Every mutation runs under a row
// lock on the LP inside the caller's transaction, if any.
type QuotaUsecase struct {
	lpRepo domainRepos.LiquidityProviderRepository
	uow    domainRepos.UnitOfWork
}

func NewQuotaUsecase(lpRepo domainRepos.LiquidityProviderRepository, uow domainRepos.UnitOfWork) *QuotaUsecase {
	return &QuotaUsecase{lpRepo: lpRepo, uow: uow}
}

// TryLock commits amount of the LP's capacity. It returns false, leaving the
// LP untouched, when the amount exceeds what is available or the
// per-transaction ceiling.
func (uc *QuotaUsecase) TryLock(ctx context.Context, lpWallet string, amount decimal.Decimal) (bool, error) {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return false, err
	}

	locked := false
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		lp, err := uc.lpRepo.GetByWallet(uc.uow.WithLock(txCtx), wallet)
		if err != nil {
			return err
		}
		if !lp.CanLock(amount) {
			metrics.QuotaLockRejections.Inc()
			return nil
		}

		lp.Lock(amount)
		if err := lp.CheckInvariant(); err != nil {
			return err
		}
		if err := uc.lpRepo.UpdateQuota(txCtx, lp); err != nil {
			return err
		}
		locked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return locked, nil
}

// Unlock returns amount of capacity to the LP, flooring locked quota at zero.
func (uc *QuotaUsecase) Unlock(ctx context.Context, lpWallet string, amount decimal.Decimal) error {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return err
	}

	return uc.uow.Do(ctx, func(txCtx context.Context) error {
		lp, err := uc.lpRepo.GetByWallet(uc.uow.WithLock(txCtx), wallet)
		if err != nil {
			return err
		}
		if amount.GreaterThan(lp.LockedQuota) {
			logger.Warn(ctx, "Unlock exceeds locked quota, flooring at zero",
				zap.String("lp_wallet", wallet),
				zap.String("amount", amount.String()),
				zap.String("locked", lp.LockedQuota.String()),
			)
		}
		lp.Unlock(amount)
		if err := lp.CheckInvariant(); err != nil {
			return err
		}
		return uc.lpRepo.UpdateQuota(txCtx, lp)
	})
}

// Check reports why amount could not be locked for the LP, without mutating it.
func (uc *QuotaUsecase) Check(ctx context.Context, lpWallet string, amount decimal.Decimal) (*entities.LiquidityProvider, error) {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return nil, err
	}
	lp, err := uc.lpRepo.GetByWallet(uc.uow.WithLock(ctx), wallet)
	if err != nil {
		return nil, err
	}
	if !lp.IsActive {
		return nil, fmt.Errorf("%w: %s", domainerrors.ErrLPInactive, wallet)
	}
	if !lp.CanLock(amount) {
		return nil, fmt.Errorf("%w: requested %s, available %s, per-transaction %s",
			domainerrors.ErrQuotaExceeded, amount, lp.AvailableQuota, lp.PerTransactionQuota)
	}
	return lp, nil
}

// ReleaseHook is a TransitionHook returning locked capacity to the LP once a
// payment reaches escrow refunded or released.
func (uc *QuotaUsecase) ReleaseHook(ctx context.Context, from status.Main, intent *entities.PaymentIntent) error {
	if !intent.HasLockedQuota() {
		return nil
	}
	switch intent.EscrowStatus() {
	case status.EscrowRefunded, status.EscrowReleased:
	default:
		return nil
	}

	if err := uc.Unlock(ctx, intent.LPWalletAddress.String, intent.LockedAmount); err != nil {
		return fmt.Errorf("release quota for payment %s: %w", intent.ID, err)
	}
	logger.Info(ctx, "LP quota released",
		zap.String("payment_id", intent.ID.String()),
		zap.String("lp_wallet", intent.LPWalletAddress.String),
		zap.String("amount", intent.LockedAmount.String()),
		zap.String("from", string(from)),
		zap.String("to", string(intent.Status)),
	)
	intent.LockedAmount = decimal.Zero
	return nil
}

// RegisterLP creates an LP or refreshes its declared capacity. Locked quota
// is preserved; the new total may not drop below it. A refresh never changes
// the active flag, which only SetActive controls.
func (uc *QuotaUsecase) RegisterLP(ctx context.Context, in entities.RegisterLPInput) (*entities.LiquidityProvider, error) {
	wallet, err := normalizeWallet(in.WalletAddress)
	if err != nil {
		return nil, err
	}
	total, err := parseDecimal("totalQuota", in.TotalQuota, true)
	if err != nil {
		return nil, err
	}
	perTx, err := parseDecimal("perTransactionQuota", in.PerTransactionQuota, false)
	if err != nil {
		return nil, err
	}
	feeRate := decimal.Zero
	if in.FeeRate != "" {
		if feeRate, err = parseDecimal("feeRate", in.FeeRate, true); err != nil {
			return nil, err
		}
	}

	var out *entities.LiquidityProvider
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		lp, err := uc.lpRepo.GetByWallet(uc.uow.WithLock(txCtx), wallet)
		switch {
		case errors.Is(err, domainerrors.ErrNotFound):
			lp = &entities.LiquidityProvider{
				ID:                  utils.GenerateUUIDv7(),
				WalletAddress:       wallet,
				TotalQuota:          total,
				LockedQuota:         decimal.Zero,
				AvailableQuota:      total,
				PerTransactionQuota: perTx,
				FeeRate:             feeRate,
				SupportedPlatforms:  in.SupportedPlatforms,
				IsActive:            true,
			}
			if err := lp.CheckInvariant(); err != nil {
				return err
			}
			if err := uc.lpRepo.Create(txCtx, lp); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if total.LessThan(lp.LockedQuota) {
				return fmt.Errorf("%w: totalQuota %s is below locked quota %s", domainerrors.ErrInvalidInput, total, lp.LockedQuota)
			}
			lp.TotalQuota = total
			lp.AvailableQuota = total.Sub(lp.LockedQuota)
			lp.PerTransactionQuota = perTx
			lp.FeeRate = feeRate
			lp.SupportedPlatforms = in.SupportedPlatforms
			if err := lp.CheckInvariant(); err != nil {
				return err
			}
			if err := uc.lpRepo.UpdateQuota(txCtx, lp); err != nil {
				return err
			}
			if err := uc.lpRepo.Update(txCtx, lp); err != nil {
				return err
			}
		}
		out = lp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetActive toggles whether the LP can take new claims.
func (uc *QuotaUsecase) SetActive(ctx context.Context, lpWallet string, active bool) (*entities.LiquidityProvider, error) {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return nil, err
	}
	var out *entities.LiquidityProvider
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		lp, err := uc.lpRepo.GetByWallet(uc.uow.WithLock(txCtx), wallet)
		if err != nil {
			return err
		}
		lp.IsActive = active
		if err := uc.lpRepo.Update(txCtx, lp); err != nil {
			return err
		}
		out = lp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (uc *QuotaUsecase) GetLP(ctx context.Context, lpWallet string) (*entities.LiquidityProvider, error) {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return nil, err
	}
	return uc.lpRepo.GetByWallet(ctx, wallet)
}

func (uc *QuotaUsecase) ListLPs(ctx context.Context, activeOnly bool, page, limit int) ([]*entities.LiquidityProvider, utils.PaginationMeta, error) {
	p := utils.GetPaginationParams(page, limit)
	lps, total, err := uc.lpRepo.List(ctx, activeOnly, p.Limit, p.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}
	return lps, utils.CalculateMeta(total, p.Page, p.Limit), nil
}
