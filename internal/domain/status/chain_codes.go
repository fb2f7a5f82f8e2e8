package status

import "fmt"

// ChainCode is the uint8 status enumeration stored by the escrow contract.
type ChainCode uint8

// Pair is a (main, escrow) target.
type Pair struct {
	Main   Main
	Escrow Escrow
}

var chainCodes = map[ChainCode]Pair{
	0: {Created, EscrowNone},
	1: {Claimed, EscrowLocked},
	2: {Paid, EscrowLocked},
	3: {Confirmed, EscrowConfirmed},
	4: {Settled, EscrowReleased},
	5: {Refunded, EscrowRefunded},
	6: {Cancelled, EscrowRefunded},
}

// FromChainCode maps a contract status code onto the local state space.
// Unknown codes are rejected.
func FromChainCode(code ChainCode) (Pair, error) {
	p, ok := chainCodes[code]
	if !ok {
		return Pair{}, fmt.Errorf("unknown chain status code %d", code)
	}
	return p, nil
}

// TxStatus tracks the confirmation progress of the payment's settlement
// transaction. It is reconciliation bookkeeping, separate from Main.
type TxStatus string

const (
	TxNone       TxStatus = ""
	TxPending    TxStatus = "pending"
	TxProcessing TxStatus = "processing"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
)

// InFlight reports whether the poll should keep looking at the transaction.
func (t TxStatus) InFlight() bool {
	return t == TxPending || t == TxProcessing
}
