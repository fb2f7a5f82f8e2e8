package entities

import (
	"time"

	"escrow-pay.backend/internal/domain/status"
	"github.com/google/uuid"
)

// StatusChangedTopic names the notification published after every committed transition.
const StatusChangedTopic = "payment.status_changed"

// StatusChangedEvent is the payload of StatusChangedTopic.
type StatusChangedEvent struct {
	PaymentID  uuid.UUID      `json:"paymentId"`
	OldMain    status.Main    `json:"oldMain"`
	NewMain    status.Main    `json:"newMain"`
	OldEscrow  status.Escrow  `json:"oldEscrow"`
	NewEscrow  status.Escrow  `json:"newEscrow"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// ChainEventKind names the escrow contract events the engine consumes.
type ChainEventKind string

const (
	ChainEventPaymentConfirmed     ChainEventKind = "PaymentConfirmed"
	ChainEventPaymentRejected      ChainEventKind = "PaymentRejected"
	ChainEventPaymentSettled       ChainEventKind = "PaymentSettled"
	ChainEventPaymentFailed        ChainEventKind = "PaymentFailed"
	ChainEventPaymentStatusChanged ChainEventKind = "PaymentStatusChanged"
	ChainEventPaymentReleased      ChainEventKind = "PaymentReleased"
)

// ChainEventKinds lists every subscribed event.
var ChainEventKinds = []ChainEventKind{
	ChainEventPaymentConfirmed,
	ChainEventPaymentRejected,
	ChainEventPaymentSettled,
	ChainEventPaymentFailed,
	ChainEventPaymentStatusChanged,
	ChainEventPaymentReleased,
}

// Known reports whether k is a subscribed event kind.
func (k ChainEventKind) Known() bool {
	for _, known := range ChainEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ChainEvent is a decoded escrow contract log. Args holds the non-indexed
// fields by ABI name; NewStatus is set for PaymentStatusChanged.
type ChainEvent struct {
	Kind                ChainEventKind `json:"kind"`
	BlockchainPaymentID string         `json:"blockchainPaymentId,omitempty"`
	TxHash              string         `json:"txHash,omitempty"`
	BlockNumber         uint64         `json:"blockNumber,omitempty"`
	LogIndex            uint           `json:"logIndex,omitempty"`
	NewStatus           *uint8         `json:"newStatus,omitempty"`
	Args                map[string]any `json:"args,omitempty"`
}
