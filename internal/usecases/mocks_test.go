package usecases_test

import (
	"context"
	"sync"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/infrastructure/blockchain"
	"github.com/stretchr/testify/mock"
)

// Mock ChainClient
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) TransactionReceipt(ctx context.Context, txHash string) (blockchain.ReceiptResult, error) {
	args := m.Called(ctx, txHash)
	return args.Get(0).(blockchain.ReceiptResult), args.Error(1)
}

func (m *MockChainClient) SubscribeEvents(ctx context.Context, sink blockchain.EventSink) (blockchain.Subscription, error) {
	args := m.Called(ctx, sink)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(blockchain.Subscription), args.Error(1)
}

// stubSubscription is a Subscription that never fails.
type stubSubscription struct {
	errCh chan error
	once  sync.Once
}

func newStubSubscription() *stubSubscription {
	return &stubSubscription{errCh: make(chan error)}
}

func (s *stubSubscription) Err() <-chan error { return s.errCh }

func (s *stubSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

// recordingNotifier keeps every committed status change.
type recordingNotifier struct {
	mu     sync.Mutex
	events []entities.StatusChangedEvent
}

func (n *recordingNotifier) NotifyStatusChanged(_ context.Context, ev entities.StatusChangedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []entities.StatusChangedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]entities.StatusChangedEvent, len(n.events))
	copy(out, n.events)
	return out
}
