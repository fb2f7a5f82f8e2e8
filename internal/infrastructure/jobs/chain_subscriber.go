package jobs

import (
	"context"
	"sync"
	"time"

	"escrow-pay.backend/internal/infrastructure/blockchain"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"go.uber.org/zap"
)

type eventSource interface {
	Subscribe(ctx context.Context) (blockchain.Subscription, error)
}

// ChainEventSubscriber keeps the contract event subscription alive,
// resubscribing from the chain head with capped exponential backoff after
// every drop. Events missed in between are left to the reconciliation poll.
type ChainEventSubscriber struct {
	source     eventSource
	minBackoff time.Duration
	maxBackoff time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewChainEventSubscriber(source eventSource, minBackoff, maxBackoff time.Duration) *ChainEventSubscriber {
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &ChainEventSubscriber{
		source:     source,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *ChainEventSubscriber) Start(ctx context.Context) {
	defer close(s.done)
	defer metrics.SubscriptionStatus.Set(0)

	backoff := s.minBackoff
	for {
		sub, err := s.source.Subscribe(ctx)
		if err != nil {
			metrics.SubscriptionStatus.Set(0)
			logger.Warn(ctx, "Chain event subscription failed, retrying",
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if !s.wait(ctx, backoff) {
				return
			}
			backoff = s.next(backoff)
			continue
		}

		metrics.SubscriptionStatus.Set(1)
		logger.Info(ctx, "Chain event subscription active")
		backoff = s.minBackoff

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		case <-s.stop:
			sub.Unsubscribe()
			return
		case err := <-sub.Err():
			sub.Unsubscribe()
			metrics.SubscriptionStatus.Set(0)
			logger.Warn(ctx, "Chain event subscription dropped, resubscribing", zap.Error(err))
		}

		if !s.wait(ctx, backoff) {
			return
		}
	}
}

func (s *ChainEventSubscriber) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once Start has returned.
func (s *ChainEventSubscriber) Done() <-chan struct{} { return s.done }

func (s *ChainEventSubscriber) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (s *ChainEventSubscriber) next(d time.Duration) time.Duration {
	d *= 2
	if d > s.maxBackoff {
		return s.maxBackoff
	}
	return d
}
