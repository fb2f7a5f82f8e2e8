package blockchain

import (
	"context"
	"errors"
	"sync"

	"escrow-pay.backend/pkg/logger"
	"go.uber.org/zap"
)

// Client is the escrow-facing view of one chain endpoint.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash string) (ReceiptResult, error)
	SubscribeEvents(ctx context.Context, sink EventSink) (Subscription, error)
}

// FailoverClient spreads calls over several endpoints. The active endpoint is
// kept until it fails failThreshold times in a row, then the next one takes
// over. Subscriptions go to the dedicated subscriber when one is set.
type FailoverClient struct {
	clients       []Client
	subscriber    Client
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

// NewFailoverClient wraps clients in priority order.
func NewFailoverClient(clients []Client, subscriber Client, failThreshold int) (*FailoverClient, error) {
	list := make([]Client, 0, len(clients))
	for _, c := range clients {
		if c != nil {
			list = append(list, c)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &FailoverClient{
		clients:       list,
		subscriber:    subscriber,
		failThreshold: failThreshold,
	}, nil
}

func (f *FailoverClient) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := f.call(ctx, func(c Client) error {
		var err error
		out, err = c.BlockNumber(ctx)
		return err
	})
	return out, err
}

func (f *FailoverClient) TransactionReceipt(ctx context.Context, txHash string) (ReceiptResult, error) {
	var out ReceiptResult
	err := f.call(ctx, func(c Client) error {
		var err error
		out, err = c.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}

func (f *FailoverClient) SubscribeEvents(ctx context.Context, sink EventSink) (Subscription, error) {
	if f.subscriber != nil {
		return f.subscriber.SubscribeEvents(ctx, sink)
	}
	var out Subscription
	err := f.call(ctx, func(c Client) error {
		var err error
		out, err = c.SubscribeEvents(ctx, sink)
		return err
	})
	return out, err
}

// call tries endpoints starting at the active one, at most once each. A
// cancelled context stops the walk.
func (f *FailoverClient) call(ctx context.Context, fn func(Client) error) error {
	var lastErr error
	for attempts := 0; attempts < len(f.clients); attempts++ {
		client, idx := f.currentClient()
		err := fn(client)
		if err == nil {
			f.resetFailures(idx)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		f.noteFailure(idx)
		if !f.shouldRotate() {
			return err
		}
		f.rotate(ctx)
	}
	return lastErr
}

func (f *FailoverClient) currentClient() (Client, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[f.index], f.index
}

func (f *FailoverClient) resetFailures(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == idx {
		f.failCount = 0
	}
}

func (f *FailoverClient) noteFailure(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == idx {
		f.failCount++
	}
}

func (f *FailoverClient) shouldRotate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients) > 1 && f.failCount >= f.failThreshold
}

func (f *FailoverClient) rotate(ctx context.Context) {
	f.mu.Lock()
	f.index = (f.index + 1) % len(f.clients)
	f.failCount = 0
	idx := f.index
	f.mu.Unlock()
	logger.Warn(ctx, "Rotating chain rpc endpoint", zap.Int("endpoint_index", idx))
}

// ActiveIndex reports which endpoint is currently in use.
func (f *FailoverClient) ActiveIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}
