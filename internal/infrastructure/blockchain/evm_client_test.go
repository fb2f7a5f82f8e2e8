package blockchain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const (
	minedTx   = "0x1111111111111111111111111111111111111111111111111111111111111111"
	revertTx  = "0x5555555555555555555555555555555555555555555555555555555555555555"
	pendingTx = "0x6666666666666666666666666666666666666666666666666666666666666666"
	brokenTx  = "0x7777777777777777777777777777777777777777777777777777777777777777"
)

type rpcReq struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

func receiptJSON(status string) map[string]interface{} {
	return map[string]interface{}{
		"transactionHash":   minedTx,
		"transactionIndex":  "0x0",
		"blockHash":         "0x2222222222222222222222222222222222222222222222222222222222222222",
		"blockNumber":       "0x1e",
		"from":              "0x3333333333333333333333333333333333333333",
		"to":                "0x4444444444444444444444444444444444444444",
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
		"contractAddress":   nil,
		"logs":              []interface{}{},
		"logsBloom":         "0x" + strings.Repeat("0", 512),
		"status":            status,
		"effectiveGasPrice": "0x3b9aca00",
		"type":              "0x0",
	}
}

func newEVMRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("skip: httptest server unavailable in this environment: %v", r)
		}
	}()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req rpcReq
		_ = json.NewDecoder(r.Body).Decode(&req)

		res := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			res["result"] = "0x2105"
		case "eth_blockNumber":
			res["result"] = "0x2a"
		case "eth_getTransactionReceipt":
			params := string(req.Params)
			switch {
			case strings.Contains(params, minedTx[2:]):
				res["result"] = receiptJSON("0x1")
			case strings.Contains(params, revertTx[2:]):
				res["result"] = receiptJSON("0x0")
			case strings.Contains(params, brokenTx[2:]):
				res["error"] = map[string]interface{}{"code": -32000, "message": "upstream unavailable"}
			default:
				res["result"] = nil
			}
		default:
			res["result"] = "0x0"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}))
}

func TestEVMClient_Methods_WithMockRPC(t *testing.T) {
	srv := newEVMRPCServer(t)
	defer srv.Close()

	client, err := NewEVMClient(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Equal(t, big.NewInt(8453), client.ChainID())
	require.Equal(t, srv.URL, client.URL())

	block, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), block)

	res, err := client.TransactionReceipt(context.Background(), minedTx)
	require.NoError(t, err)
	require.Equal(t, ReceiptResult{Found: true, Succeeded: true, BlockNumber: 30}, res)

	res, err = client.TransactionReceipt(context.Background(), revertTx)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.False(t, res.Succeeded)

	res, err = client.TransactionReceipt(context.Background(), pendingTx)
	require.NoError(t, err)
	require.False(t, res.Found, "null receipt is a pending transaction, not an error")

	_, err = client.TransactionReceipt(context.Background(), brokenTx)
	require.Error(t, err)

	_, err = client.SubscribeEvents(context.Background(), func(context.Context, entities.ChainEvent) {})
	require.Error(t, err, "no decoder configured")
}

func TestNewEVMClient_InvalidURL(t *testing.T) {
	_, err := NewEVMClient(context.Background(), "://bad-url", nil)
	require.Error(t, err)
}

type fakeEthSub struct {
	errc         chan error
	unsubscribed bool
}

func (s *fakeEthSub) Err() <-chan error { return s.errc }
func (s *fakeEthSub) Unsubscribe()      { s.unsubscribed = true }

type stubBackend struct {
	logs chan<- types.Log
	sub  *fakeEthSub
	q    ethereum.FilterQuery
}

func (b *stubBackend) BlockNumber(context.Context) (uint64, error) { return 0, nil }
func (b *stubBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (b *stubBackend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.q = q
	b.logs = ch
	b.sub = &fakeEthSub{errc: make(chan error, 1)}
	return b.sub, nil
}
func (b *stubBackend) Close() {}

func TestEVMClient_SubscribeEvents_DecodesAndReportsErrors(t *testing.T) {
	decoder := newTestDecoder(t)
	backend := &stubBackend{}
	client := &EVMClient{client: backend, decoder: decoder}

	var (
		mu  sync.Mutex
		got []entities.ChainEvent
	)
	sub, err := client.SubscribeEvents(context.Background(), func(_ context.Context, ev entities.ChainEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	require.NoError(t, err)
	require.Equal(t, []common.Address{decoder.Contract()}, backend.q.Addresses)
	require.Len(t, backend.q.Topics[0], len(entities.ChainEventKinds))

	backend.logs <- settledLog(t, decoder, paymentIDHex)
	backend.logs <- types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	backend.logs <- settledLog(t, decoder, "0x"+strings.Repeat("ab", 32))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, paymentIDHex, got[0].BlockchainPaymentID)

	backend.sub.errc <- errors.New("connection reset")
	select {
	case err := <-sub.Err():
		require.EqualError(t, err, "connection reset")
	case <-time.After(time.Second):
		t.Fatal("subscription error not propagated")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.True(t, backend.sub.unsubscribed)
}
