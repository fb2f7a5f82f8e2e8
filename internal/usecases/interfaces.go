package usecases

import (
	"context"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/infrastructure/blockchain"
)

// ChainClient is the read side of the chain provider used by reconciliation.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash string) (blockchain.ReceiptResult, error)
	SubscribeEvents(ctx context.Context, sink blockchain.EventSink) (blockchain.Subscription, error)
}

// StatusNotifier receives committed status changes. Implementations must not
// block or fail the caller.
type StatusNotifier interface {
	NotifyStatusChanged(ctx context.Context, ev entities.StatusChangedEvent)
}

type noopNotifier struct{}

func (noopNotifier) NotifyStatusChanged(context.Context, entities.StatusChangedEvent) {}
