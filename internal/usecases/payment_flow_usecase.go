package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actor roles.
const (
	RoleUser  = "user"
	RoleLP    = "lp"
	RoleAdmin = "admin"
)

// Actor is the authenticated caller of a human-triggered transition.
type Actor struct {
	Wallet string
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ConfirmInput links the payment to its on-chain escrow when confirming.
type ConfirmInput struct {
	TransactionHash     string         `json:"transactionHash"`
	BlockchainPaymentID string         `json:"blockchainPaymentId"`
	Note                string         `json:"note"`
	Proof               map[string]any `json:"proof,omitempty"`
}

// PaymentFlowUsecase implements intake and the human side of the lifecycle.
// Every status change goes through the transition service.
type PaymentFlowUsecase struct {
	paymentRepo domainRepos.PaymentIntentRepository
	uow         domainRepos.UnitOfWork
	transitions *StatusTransitionUsecase
	quota       *QuotaUsecase
	ttl         time.Duration
	maxFeeRate  decimal.Decimal
	now         func() time.Time
}

func NewPaymentFlowUsecase(
	paymentRepo domainRepos.PaymentIntentRepository,
	uow domainRepos.UnitOfWork,
	transitions *StatusTransitionUsecase,
	quota *QuotaUsecase,
	ttl time.Duration,
) *PaymentFlowUsecase {
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	return &PaymentFlowUsecase{
		paymentRepo: paymentRepo,
		uow:         uow,
		transitions: transitions,
		quota:       quota,
		ttl:         ttl,
		maxFeeRate:  decimal.RequireFromString(MaxFeeRate),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreatePayment validates an intake request and stores the intent in created.
func (uc *PaymentFlowUsecase) CreatePayment(ctx context.Context, in entities.CreatePaymentInput) (*entities.PaymentIntent, error) {
	amount, err := parseDecimal("amount", in.Amount, false)
	if err != nil {
		return nil, err
	}
	feeRate := decimal.Zero
	if in.FeeRate != "" {
		if feeRate, err = parseDecimal("feeRate", in.FeeRate, true); err != nil {
			return nil, err
		}
	}
	if feeRate.GreaterThan(uc.maxFeeRate) {
		return nil, fmt.Errorf("%w: feeRate may not exceed %s", domainerrors.ErrInvalidInput, uc.maxFeeRate)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domainerrors.ErrInvalidInput)
	}
	wallet, err := normalizeWallet(in.UserWalletAddress)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	history, err := entities.StatusHistory(nil).Append(entities.StatusHistoryEntry{
		Status:       status.Created,
		EscrowStatus: status.EscrowNone,
		Timestamp:    now,
		Note:         "payment created",
	})
	if err != nil {
		return nil, err
	}

	intent := &entities.PaymentIntent{
		ID:                utils.GenerateUUIDv7(),
		Amount:            amount,
		Currency:          currency,
		FeeRate:           feeRate,
		TotalAmount:       amount.Mul(decimal.NewFromInt(1).Add(feeRate)),
		Platform:          strings.ToLower(strings.TrimSpace(in.Platform)),
		UserWalletAddress: wallet,
		LockedAmount:      decimal.Zero,
		Status:            status.Created,
		StatusHistory:     history,
		PaymentProof:      in.PaymentProof,
		ExpiresAt:         now.Add(uc.ttl),
		CreatedAt:         now,
	}
	if err := uc.paymentRepo.Create(ctx, intent); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Payment created",
		zap.String("payment_id", intent.ID.String()),
		zap.String("amount", intent.Amount.String()),
		zap.String("currency", intent.Currency),
	)
	return intent, nil
}

func (uc *PaymentFlowUsecase) GetPayment(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error) {
	return uc.paymentRepo.GetByID(ctx, id)
}

func (uc *PaymentFlowUsecase) ListPayments(ctx context.Context, filter domainRepos.PaymentIntentFilter, page, limit int) ([]*entities.PaymentIntent, utils.PaginationMeta, error) {
	p := utils.GetPaginationParams(page, limit)
	intents, total, err := uc.paymentRepo.List(ctx, filter, p.Limit, p.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}
	return intents, utils.CalculateMeta(total, p.Page, p.Limit), nil
}

// TryClaim locks amount of the LP's quota and moves the payment to claimed in
// one transaction. A zero amount claims the full payment amount. A repeat of
// the holding LP's claim succeeds without touching quota; any other amount is
// checked against capacity first.
func (uc *PaymentFlowUsecase) TryClaim(ctx context.Context, paymentID uuid.UUID, lpWallet string, amount decimal.Decimal) (*entities.PaymentIntent, error) {
	wallet, err := normalizeWallet(lpWallet)
	if err != nil {
		return nil, err
	}

	var out *entities.PaymentIntent
	err = uc.uow.Do(ctx, func(txCtx context.Context) error {
		intent, err := uc.paymentRepo.GetByID(uc.uow.WithLock(txCtx), paymentID)
		if err != nil {
			return err
		}
		heldByCaller := intent.Status.Canonical() == status.Claimed && intent.LPWalletAddress.String == wallet
		if heldByCaller && (amount.IsZero() || amount.Equal(intent.LockedAmount)) {
			out = intent
			return nil
		}
		if amount.IsZero() {
			amount = intent.Amount
		}

		lp, err := uc.quota.Check(txCtx, wallet, amount)
		if err != nil {
			return err
		}
		if !lp.SupportsPlatform(intent.Platform) {
			return fmt.Errorf("%w: lp does not support platform %q", domainerrors.ErrInvalidInput, intent.Platform)
		}

		if heldByCaller {
			out = intent
			return nil
		}
		if intent.Status != status.Created {
			return &domainerrors.TransitionError{
				PaymentID:       paymentID,
				CurrentMain:     intent.Status,
				CurrentEscrow:   intent.EscrowStatus(),
				AttemptedMain:   status.Claimed,
				AttemptedEscrow: status.EscrowLocked,
				Reason:          "payment is not open for claims",
			}
		}

		locked, err := uc.quota.TryLock(txCtx, wallet, amount)
		if err != nil {
			return err
		}
		if !locked {
			return fmt.Errorf("%w: lp %s cannot lock %s", domainerrors.ErrQuotaExceeded, wallet, amount)
		}

		out, err = uc.transitions.UpdateStatus(txCtx, paymentID, status.Claimed, nil, TransitionInput{
			Note:     "claimed by lp",
			Metadata: map[string]any{"lpWalletAddress": wallet, "lockedAmount": amount.String()},
			Updates: entities.PaymentIntentUpdate{
				LPWalletAddress: &wallet,
				LockedAmount:    &amount,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaid records the LP's fiat transfer evidence.
func (uc *PaymentFlowUsecase) MarkPaid(ctx context.Context, paymentID uuid.UUID, actor Actor, proof map[string]any, note string) (*entities.PaymentIntent, error) {
	if err := uc.authorize(ctx, paymentID, actor, RoleLP); err != nil {
		return nil, err
	}
	if note == "" {
		note = "fiat transfer sent"
	}
	return uc.transitions.UpdateStatus(ctx, paymentID, status.Paid, nil, TransitionInput{
		Note:     note,
		Metadata: map[string]any{"actor": actor.Wallet},
		Proof:    proof,
	})
}

// Confirm records the user's acknowledgement that the fiat arrived, together
// with the escrow transaction that will settle it.
func (uc *PaymentFlowUsecase) Confirm(ctx context.Context, paymentID uuid.UUID, actor Actor, in ConfirmInput) (*entities.PaymentIntent, error) {
	if err := uc.authorize(ctx, paymentID, actor, RoleUser); err != nil {
		return nil, err
	}

	ti := TransitionInput{
		Note:     in.Note,
		Metadata: map[string]any{"actor": actor.Wallet},
		Proof:    in.Proof,
	}
	if ti.Note == "" {
		ti.Note = "fiat receipt confirmed"
	}
	if h := normalizeHash(in.TransactionHash); h != "" {
		ti.Updates.TransactionHash = &h
	}
	if id := normalizeHash(in.BlockchainPaymentID); id != "" {
		ti.Updates.BlockchainPaymentID = &id
	}
	return uc.transitions.UpdateStatus(ctx, paymentID, status.Confirmed, nil, ti)
}

// Cancel stops a payment before confirmation. Any locked quota is returned.
func (uc *PaymentFlowUsecase) Cancel(ctx context.Context, paymentID uuid.UUID, actor Actor, note string) (*entities.PaymentIntent, error) {
	if err := uc.authorize(ctx, paymentID, actor, RoleUser, RoleLP); err != nil {
		return nil, err
	}
	if note == "" {
		note = "cancelled"
	}
	return uc.transitions.UpdateStatus(ctx, paymentID, status.Cancelled, nil, TransitionInput{
		Note:     note,
		Metadata: map[string]any{"actor": actor.Wallet},
	})
}

// OpenDispute escalates a payment for review.
func (uc *PaymentFlowUsecase) OpenDispute(ctx context.Context, paymentID uuid.UUID, actor Actor, note string) (*entities.PaymentIntent, error) {
	if err := uc.authorize(ctx, paymentID, actor, RoleUser, RoleLP); err != nil {
		return nil, err
	}
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: a dispute needs a reason", domainerrors.ErrInvalidInput)
	}
	return uc.transitions.UpdateStatus(ctx, paymentID, status.Disputed, nil, TransitionInput{
		Note:     note,
		Metadata: map[string]any{"actor": actor.Wallet},
	})
}

// Expire moves an unclaimed or unpaid payment past its deadline to expired.
func (uc *PaymentFlowUsecase) Expire(ctx context.Context, paymentID uuid.UUID) (*entities.PaymentIntent, error) {
	return uc.transitions.UpdateStatus(ctx, paymentID, status.Expired, nil, TransitionInput{
		Note:     "payment deadline passed",
		Metadata: map[string]any{"source": "expiry"},
	})
}

// ExpireDue expires up to limit payments whose deadline passed. Payments
// that moved on in the meantime are skipped.
func (uc *PaymentFlowUsecase) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := uc.paymentRepo.ListExpired(ctx, []status.Main{status.Created, status.Claimed, status.Processing}, uc.now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, intent := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if _, err := uc.Expire(ctx, intent.ID); err != nil {
			if errors.Is(err, domainerrors.ErrInvalidTransition) {
				continue
			}
			logger.Error(ctx, "Failed to expire payment",
				zap.String("payment_id", intent.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

// AuthorizeView checks that actor may read the payment. Parties to it can,
// and any LP can see a payment still open for claims.
func (uc *PaymentFlowUsecase) AuthorizeView(ctx context.Context, paymentID uuid.UUID, actor Actor) error {
	err := uc.authorize(ctx, paymentID, actor, RoleUser, RoleLP)
	if !errors.Is(err, domainerrors.ErrForbidden) || actor.Role != RoleLP {
		return err
	}
	intent, getErr := uc.paymentRepo.GetByID(ctx, paymentID)
	if getErr != nil {
		return getErr
	}
	if intent.Status == status.Created {
		return nil
	}
	return err
}

// authorize checks actor against the parties of the payment. Admins may act
// for anyone.
func (uc *PaymentFlowUsecase) authorize(ctx context.Context, paymentID uuid.UUID, actor Actor, roles ...string) error {
	if actor.IsAdmin() {
		return nil
	}
	intent, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	wallet := strings.ToLower(actor.Wallet)
	for _, role := range roles {
		switch role {
		case RoleUser:
			if wallet == intent.UserWalletAddress {
				return nil
			}
		case RoleLP:
			if intent.LPWalletAddress.Valid && wallet == intent.LPWalletAddress.String {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s is not a party to payment %s", domainerrors.ErrForbidden, actor.Wallet, paymentID)
}
