package blockchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	name    string
	fail    bool
	calls   int
	subbed  int
	receipt ReceiptResult
}

func (c *scriptedClient) BlockNumber(context.Context) (uint64, error) {
	c.calls++
	if c.fail {
		return 0, errors.New(c.name + " down")
	}
	return 100, nil
}

func (c *scriptedClient) TransactionReceipt(context.Context, string) (ReceiptResult, error) {
	c.calls++
	if c.fail {
		return ReceiptResult{}, errors.New(c.name + " down")
	}
	return c.receipt, nil
}

func (c *scriptedClient) SubscribeEvents(context.Context, EventSink) (Subscription, error) {
	c.subbed++
	if c.fail {
		return nil, errors.New(c.name + " down")
	}
	return nil, nil
}

func TestNewFailoverClient_RequiresEndpoints(t *testing.T) {
	_, err := NewFailoverClient(nil, nil, 3)
	require.Error(t, err)

	_, err = NewFailoverClient([]Client{nil}, nil, 3)
	require.Error(t, err)

	fc, err := NewFailoverClient([]Client{&scriptedClient{}}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 3, fc.failThreshold)
}

func TestFailoverClient_RotatesAfterThreshold(t *testing.T) {
	primary := &scriptedClient{name: "primary", fail: true}
	backup := &scriptedClient{name: "backup", receipt: ReceiptResult{Found: true, Succeeded: true, BlockNumber: 7}}
	fc, err := NewFailoverClient([]Client{primary, backup}, nil, 2)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fc.BlockNumber(ctx)
	require.Error(t, err, "below threshold the error surfaces and the endpoint is kept")
	require.Equal(t, 0, fc.ActiveIndex())

	block, err := fc.BlockNumber(ctx)
	require.NoError(t, err, "second consecutive failure rotates and retries on the backup")
	require.Equal(t, uint64(100), block)
	require.Equal(t, 1, fc.ActiveIndex())

	res, err := fc.TransactionReceipt(ctx, "0x01")
	require.NoError(t, err)
	require.Equal(t, uint64(7), res.BlockNumber)
	require.Equal(t, 2, primary.calls)
}

func TestFailoverClient_AllEndpointsDown(t *testing.T) {
	a := &scriptedClient{name: "a", fail: true}
	b := &scriptedClient{name: "b", fail: true}
	fc, err := NewFailoverClient([]Client{a, b}, nil, 1)
	require.NoError(t, err)

	_, err = fc.BlockNumber(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
}

func TestFailoverClient_CancelledContextDoesNotRotate(t *testing.T) {
	a := &scriptedClient{name: "a", fail: true}
	b := &scriptedClient{name: "b"}
	fc, err := NewFailoverClient([]Client{a, b}, nil, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fc.BlockNumber(ctx)
	require.Error(t, err)
	require.Equal(t, 0, fc.ActiveIndex())
	require.Equal(t, 0, b.calls)
}

func TestFailoverClient_SubscribeUsesDedicatedSubscriber(t *testing.T) {
	http := &scriptedClient{name: "http"}
	ws := &scriptedClient{name: "ws"}
	fc, err := NewFailoverClient([]Client{http}, ws, 1)
	require.NoError(t, err)

	_, err = fc.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, ws.subbed)
	require.Equal(t, 0, http.subbed)

	fc, err = NewFailoverClient([]Client{http}, nil, 1)
	require.NoError(t, err)
	_, err = fc.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, http.subbed)
}
