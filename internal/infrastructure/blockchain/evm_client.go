package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/pkg/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	dialEVMClient    = ethclient.DialContext
	getClientChainID = func(client *ethclient.Client, ctx context.Context) (*big.Int, error) {
		return client.ChainID(ctx)
	}
)

// ReceiptResult is the tagged outcome of a receipt lookup.
type ReceiptResult struct {
	Found       bool
	Succeeded   bool
	BlockNumber uint64
}

// Subscription is a live event stream. Err yields once when the stream dies.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// EventSink receives decoded escrow events.
type EventSink func(ctx context.Context, event entities.ChainEvent)

// rpcBackend is the part of ethclient the EVM client uses.
type rpcBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// EVMClient provides EVM blockchain interaction for the escrow contract
type EVMClient struct {
	client  rpcBackend
	chainID *big.Int
	rpcURL  string
	decoder *EscrowEventDecoder
}

// NewEVMClient dials rpcURL (http(s) or ws(s)) and reads the chain ID
func NewEVMClient(ctx context.Context, rpcURL string, decoder *EscrowEventDecoder) (*EVMClient, error) {
	client, err := dialEVMClient(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	chainID, err := getClientChainID(client, ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &EVMClient{
		client:  client,
		chainID: chainID,
		rpcURL:  rpcURL,
		decoder: decoder,
	}, nil
}

// ChainID returns the chain ID
func (c *EVMClient) ChainID() *big.Int {
	return c.chainID
}

// URL returns the endpoint this client talks to
func (c *EVMClient) URL() string {
	return c.rpcURL
}

// BlockNumber gets the latest block number
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

// TransactionReceipt looks up a receipt. A missing receipt is not an error.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash string) (ReceiptResult, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ReceiptResult{}, nil
		}
		return ReceiptResult{}, err
	}
	if receipt == nil {
		return ReceiptResult{}, nil
	}

	res := ReceiptResult{
		Found:     true,
		Succeeded: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res, nil
}

// SubscribeEvents streams decoded escrow events into sink until the
// subscription fails or is unsubscribed. Needs a websocket endpoint.
func (c *EVMClient) SubscribeEvents(ctx context.Context, sink EventSink) (Subscription, error) {
	if c.decoder == nil {
		return nil, errors.New("evm client has no escrow decoder configured")
	}

	logs := make(chan types.Log, 64)
	sub, err := c.client.SubscribeFilterLogs(ctx, c.decoder.FilterQuery(), logs)
	if err != nil {
		return nil, err
	}

	s := &logSubscription{
		inner: sub,
		errc:  make(chan error, 1),
		quit:  make(chan struct{}),
	}
	go s.loop(ctx, logs, c.decoder, sink)
	return s, nil
}

// Close closes the client connection
func (c *EVMClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

type logSubscription struct {
	inner ethereum.Subscription
	errc  chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *logSubscription) loop(ctx context.Context, logs <-chan types.Log, decoder *EscrowEventDecoder, sink EventSink) {
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case err := <-s.inner.Err():
			if err == nil {
				err = errors.New("log subscription closed")
			}
			s.fail(err)
			return
		case l := <-logs:
			event, err := decoder.Decode(l)
			if err != nil {
				logger.Warn(ctx, "Dropping undecodable escrow log",
					zap.String("tx_hash", l.TxHash.Hex()),
					zap.Uint("log_index", l.Index),
					zap.Error(err))
				continue
			}
			sink(ctx, event)
		}
	}
}

func (s *logSubscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *logSubscription) Err() <-chan error {
	return s.errc
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.inner.Unsubscribe()
	})
}
