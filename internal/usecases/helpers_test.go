package usecases_test

import (
	"context"
	"testing"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/infrastructure/repositories"
	"escrow-pay.backend/internal/usecases"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	userWallet  = "0x1111111111111111111111111111111111111111"
	lpWallet    = "0x2222222222222222222222222222222222222222"
	otherLP     = "0x3333333333333333333333333333333333333333"
	strangerWal = "0x4444444444444444444444444444444444444444"
	txHash      = "0xaaaa000000000000000000000000000000000000000000000000000000000001"
	chainID     = "0xbbbb000000000000000000000000000000000000000000000000000000000001"
)

var (
	asUser  = usecases.Actor{Wallet: userWallet, Role: usecases.RoleUser}
	asLP    = usecases.Actor{Wallet: lpWallet, Role: usecases.RoleLP}
	asAdmin = usecases.Actor{Wallet: strangerWal, Role: usecases.RoleAdmin}
)

type testEnv struct {
	payments    *repositories.PaymentIntentRepository
	lps         *repositories.LiquidityProviderRepository
	retryRepo   *repositories.RetryQueueRepository
	uow         domainRepos.UnitOfWork
	notifier    *recordingNotifier
	chain       *MockChainClient
	quota       *usecases.QuotaUsecase
	transitions *usecases.StatusTransitionUsecase
	flow        *usecases.PaymentFlowUsecase
	retry       *usecases.RetryQueueUsecase
	recon       *usecases.ReconciliationUsecase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := repositories.NewTestDB(t)

	env := &testEnv{
		payments:  repositories.NewPaymentIntentRepository(db),
		lps:       repositories.NewLiquidityProviderRepository(db),
		retryRepo: repositories.NewRetryQueueRepository(db),
		uow:       repositories.NewUnitOfWork(db),
		notifier:  &recordingNotifier{},
		chain:     new(MockChainClient),
	}
	env.quota = usecases.NewQuotaUsecase(env.lps, env.uow)
	env.transitions = usecases.NewStatusTransitionUsecase(env.payments, env.uow, env.notifier, env.quota.ReleaseHook)
	env.flow = usecases.NewPaymentFlowUsecase(env.payments, env.uow, env.transitions, env.quota, time.Hour)
	env.retry = usecases.NewRetryQueueUsecase(env.retryRepo)
	env.recon = usecases.NewReconciliationUsecase(env.chain, env.payments, env.transitions, env.retry, usecases.ReconciliationConfig{
		ConfirmationThreshold: 3,
		RPCTimeout:            time.Second,
	})
	return env
}

func (e *testEnv) registerLP(t *testing.T, wallet, total, perTx string) *entities.LiquidityProvider {
	t.Helper()
	lp, err := e.quota.RegisterLP(context.Background(), entities.RegisterLPInput{
		WalletAddress:       wallet,
		TotalQuota:          total,
		PerTransactionQuota: perTx,
		SupportedPlatforms:  []string{"paypal"},
	})
	require.NoError(t, err)
	return lp
}

func (e *testEnv) createPayment(t *testing.T, amount string) *entities.PaymentIntent {
	t.Helper()
	intent, err := e.flow.CreatePayment(context.Background(), entities.CreatePaymentInput{
		Amount:            amount,
		Currency:          "usd",
		FeeRate:           "0.01",
		Platform:          "paypal",
		UserWalletAddress: userWallet,
	})
	require.NoError(t, err)
	return intent
}

// confirmedPayment drives a fresh payment through claim, paid and confirm.
func (e *testEnv) confirmedPayment(t *testing.T, amount string) *entities.PaymentIntent {
	t.Helper()
	return e.confirmedPaymentWith(t, amount, txHash, chainID)
}

func (e *testEnv) confirmedPaymentWith(t *testing.T, amount, tx, bcID string) *entities.PaymentIntent {
	t.Helper()
	ctx := context.Background()
	intent := e.createPayment(t, amount)

	_, err := e.flow.TryClaim(ctx, intent.ID, lpWallet, decimal.Zero)
	require.NoError(t, err)
	_, err = e.flow.MarkPaid(ctx, intent.ID, asLP, map[string]any{"captureId": "cap-1"}, "")
	require.NoError(t, err)
	confirmed, err := e.flow.Confirm(ctx, intent.ID, asUser, usecases.ConfirmInput{
		TransactionHash:     tx,
		BlockchainPaymentID: bcID,
	})
	require.NoError(t, err)
	return confirmed
}

func (e *testEnv) lp(t *testing.T, wallet string) *entities.LiquidityProvider {
	t.Helper()
	lp, err := e.lps.GetByWallet(context.Background(), wallet)
	require.NoError(t, err)
	return lp
}

func requireQuota(t *testing.T, lp *entities.LiquidityProvider, locked, available string) {
	t.Helper()
	require.True(t, lp.LockedQuota.Equal(decimal.RequireFromString(locked)), "locked quota %s, want %s", lp.LockedQuota, locked)
	require.True(t, lp.AvailableQuota.Equal(decimal.RequireFromString(available)), "available quota %s, want %s", lp.AvailableQuota, available)
	require.NoError(t, lp.CheckInvariant())
}
