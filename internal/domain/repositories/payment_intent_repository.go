package repositories

import (
	"context"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/domain/status"
	"github.com/google/uuid"
)

// PaymentIntentFilter narrows List queries. Zero values are ignored.
type PaymentIntentFilter struct {
	Status            status.Main
	UserWalletAddress string
	LPWalletAddress   string
}

// PaymentIntentRepository defines payment intent persistence
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *entities.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error)
	GetByBlockchainPaymentID(ctx context.Context, blockchainPaymentID string) (*entities.PaymentIntent, error)
	GetByTransactionHash(ctx context.Context, txHash string) (*entities.PaymentIntent, error)
	// FindByHistoryTxHash searches the status history for an entry carrying txHash.
	FindByHistoryTxHash(ctx context.Context, txHash string) (*entities.PaymentIntent, error)
	List(ctx context.Context, filter PaymentIntentFilter, limit, offset int) ([]*entities.PaymentIntent, int64, error)
	// Save writes the status, history and every mutable field of intent.
	Save(ctx context.Context, intent *entities.PaymentIntent) error
	// UpdateSyncState writes reconciliation bookkeeping only. It never touches status.
	UpdateSyncState(ctx context.Context, id uuid.UUID, state entities.SyncState) error
	// RecordSyncError increments syncErrors and stores the message.
	RecordSyncError(ctx context.Context, id uuid.UUID, message string, at time.Time) error
	// ListForReconciliation returns non-terminal intents with a transaction hash
	// whose chain transaction is in flight or whose status is confirmed.
	ListForReconciliation(ctx context.Context, limit int) ([]*entities.PaymentIntent, error)
	// ListExpired returns intents in one of statuses whose expiresAt is before now.
	ListExpired(ctx context.Context, statuses []status.Main, now time.Time, limit int) ([]*entities.PaymentIntent, error)
}
