package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"escrow-pay.backend/internal/infrastructure/blockchain"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	errCh        chan error
	mu           sync.Mutex
	unsubscribed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
}

func (s *fakeSubscription) Unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type fakeSource struct {
	mu    sync.Mutex
	errs  []error
	subs  []*fakeSubscription
	calls int
}

func (f *fakeSource) Subscribe(context.Context) (blockchain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) Sub(i int) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return f.subs[i]
}

func TestChainEventSubscriber_RetriesUntilSubscribed(t *testing.T) {
	source := &fakeSource{errs: []error{errors.New("dial failed"), errors.New("dial failed")}}
	s := NewChainEventSubscriber(source, time.Millisecond, 4*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	require.Eventually(t, func() bool { return source.Sub(0) != nil }, time.Second, time.Millisecond)
	require.Equal(t, 3, source.Calls())

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
	require.True(t, source.Sub(0).Unsubscribed())
}

func TestChainEventSubscriber_ResubscribesAfterDrop(t *testing.T) {
	source := &fakeSource{}
	s := NewChainEventSubscriber(source, time.Millisecond, time.Millisecond)
	go s.Start(context.Background())

	require.Eventually(t, func() bool { return source.Sub(0) != nil }, time.Second, time.Millisecond)
	source.Sub(0).errCh <- errors.New("websocket closed")

	require.Eventually(t, func() bool { return source.Sub(1) != nil }, time.Second, time.Millisecond)
	require.True(t, source.Sub(0).Unsubscribed())

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop")
	}
	require.True(t, source.Sub(1).Unsubscribed())
}

func TestChainEventSubscriber_BackoffIsCapped(t *testing.T) {
	s := NewChainEventSubscriber(&fakeSource{}, time.Second, 5*time.Second)
	require.Equal(t, 2*time.Second, s.next(time.Second))
	require.Equal(t, 4*time.Second, s.next(2*time.Second))
	require.Equal(t, 5*time.Second, s.next(4*time.Second))

	defaulted := NewChainEventSubscriber(&fakeSource{}, 0, 0)
	require.Equal(t, time.Second, defaulted.minBackoff)
	require.Equal(t, time.Second, defaulted.maxBackoff)
}
