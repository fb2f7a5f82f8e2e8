package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"escrow-pay.backend/internal/domain/entities"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// escrowEventsABI covers the escrow contract events the reconciliation engine
// listens to.
const escrowEventsABI = `[
	{"type":"event","name":"PaymentConfirmed","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentRejected","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"reason","type":"string","indexed":false}]},
	{"type":"event","name":"PaymentSettled","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"lp","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentFailed","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"reason","type":"string","indexed":false}]},
	{"type":"event","name":"PaymentStatusChanged","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"oldStatus","type":"uint8","indexed":false},
		{"name":"newStatus","type":"uint8","indexed":false}]},
	{"type":"event","name":"PaymentReleased","anonymous":false,"inputs":[
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	errUnknownEvent = errors.New("log does not match an escrow event")
	errRemovedLog   = errors.New("log removed by reorg")
)

// EscrowEventDecoder turns raw escrow contract logs into ChainEvents.
type EscrowEventDecoder struct {
	abi      abi.ABI
	contract common.Address
}

// NewEscrowEventDecoder parses the escrow ABI for the contract at address.
func NewEscrowEventDecoder(contractAddress string) (*EscrowEventDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowEventsABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	return &EscrowEventDecoder{abi: parsed, contract: common.HexToAddress(contractAddress)}, nil
}

// Contract returns the watched contract address.
func (d *EscrowEventDecoder) Contract() common.Address {
	return d.contract
}

// FilterQuery selects every subscribed event emitted by the contract.
func (d *EscrowEventDecoder) FilterQuery() ethereum.FilterQuery {
	ids := make([]common.Hash, 0, len(entities.ChainEventKinds))
	for _, kind := range entities.ChainEventKinds {
		if ev, ok := d.abi.Events[string(kind)]; ok {
			ids = append(ids, ev.ID)
		}
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{d.contract},
		Topics:    [][]common.Hash{ids},
	}
}

// Decode maps one log onto a ChainEvent. Non-indexed values are unpacked from
// data, indexed ones from topics; big integers become decimal strings and
// addresses/bytes32 become hex.
func (d *EscrowEventDecoder) Decode(log types.Log) (entities.ChainEvent, error) {
	if log.Removed {
		return entities.ChainEvent{}, errRemovedLog
	}
	if len(log.Topics) == 0 {
		return entities.ChainEvent{}, errUnknownEvent
	}
	ev, err := d.abi.EventByID(log.Topics[0])
	if err != nil {
		return entities.ChainEvent{}, errUnknownEvent
	}

	args := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := d.abi.UnpackIntoMap(args, ev.Name, log.Data); err != nil {
			return entities.ChainEvent{}, fmt.Errorf("unpack %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return entities.ChainEvent{}, fmt.Errorf("parse %s topics: %w", ev.Name, err)
	}

	out := entities.ChainEvent{
		Kind:        entities.ChainEventKind(ev.Name),
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Args:        make(map[string]any, len(args)),
	}
	for name, v := range args {
		out.Args[name] = normalizeArg(v)
	}
	if id, ok := out.Args["paymentId"].(string); ok {
		out.BlockchainPaymentID = id
		delete(out.Args, "paymentId")
	}
	if v, ok := args["newStatus"].(uint8); ok {
		code := v
		out.NewStatus = &code
	}
	return out, nil
}

func normalizeArg(v interface{}) any {
	switch val := v.(type) {
	case *big.Int:
		return val.String()
	case common.Address:
		return strings.ToLower(val.Hex())
	case [32]byte:
		return strings.ToLower(common.Hash(val).Hex())
	case common.Hash:
		return strings.ToLower(val.Hex())
	case uint8:
		return int(val)
	default:
		return val
	}
}
