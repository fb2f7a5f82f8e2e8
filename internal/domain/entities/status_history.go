package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"escrow-pay.backend/internal/domain/status"
	"github.com/ethereum/go-ethereum/crypto"
)

// StatusHistoryEntry is one link of a payment's tamper-evident audit log.
type StatusHistoryEntry struct {
	Status              status.Main    `json:"status"`
	EscrowStatus        status.Escrow  `json:"escrowStatus"`
	Timestamp           time.Time      `json:"timestamp"`
	Note                string         `json:"note,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	TxHash              string         `json:"txHash,omitempty"`
	BlockchainPaymentID string         `json:"blockchainPaymentId,omitempty"`
	Hash                string         `json:"hash"`
	PreviousHash        string         `json:"previousHash"`
}

// hashInput is the canonical form hashed for an entry. Metadata marshals with
// sorted keys, so the encoding is stable across a JSON round trip.
type hashInput struct {
	Status              status.Main    `json:"status"`
	EscrowStatus        status.Escrow  `json:"escrowStatus"`
	Timestamp           string         `json:"timestamp"`
	Note                string         `json:"note"`
	Metadata            map[string]any `json:"metadata"`
	TxHash              string         `json:"txHash"`
	BlockchainPaymentID string         `json:"blockchainPaymentId"`
	PreviousHash        string         `json:"previousHash"`
}

// ComputeHash returns the Keccak-256 digest of the entry content, hex encoded.
func (e StatusHistoryEntry) ComputeHash() (string, error) {
	raw, err := json.Marshal(hashInput{
		Status:              e.Status,
		EscrowStatus:        e.EscrowStatus,
		Timestamp:           e.Timestamp.UTC().Format(time.RFC3339Nano),
		Note:                e.Note,
		Metadata:            e.Metadata,
		TxHash:              e.TxHash,
		BlockchainPaymentID: e.BlockchainPaymentID,
		PreviousHash:        e.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode history entry: %w", err)
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

// StatusHistory is the ordered, append-only audit log of a payment.
type StatusHistory []StatusHistoryEntry

// Last returns the newest entry, if any.
func (h StatusHistory) Last() (StatusHistoryEntry, bool) {
	if len(h) == 0 {
		return StatusHistoryEntry{}, false
	}
	return h[len(h)-1], true
}

// Append links entry to the chain, sealing its hash, and returns the new history.
func (h StatusHistory) Append(entry StatusHistoryEntry) (StatusHistory, error) {
	entry.Timestamp = entry.Timestamp.UTC().Truncate(time.Microsecond)
	entry.PreviousHash = ""
	if len(entry.Metadata) == 0 {
		entry.Metadata = nil
	}
	if last, ok := h.Last(); ok {
		entry.PreviousHash = last.Hash
	}
	hash, err := entry.ComputeHash()
	if err != nil {
		return h, err
	}
	entry.Hash = hash

	out := make(StatusHistory, len(h), len(h)+1)
	copy(out, h)
	return append(out, entry), nil
}

// HistoryIntegrityError pinpoints the first entry whose hash or link does not verify.
type HistoryIntegrityError struct {
	Index  int
	Reason string
}

func (e *HistoryIntegrityError) Error() string {
	return fmt.Sprintf("status history broken at entry %d: %s", e.Index, e.Reason)
}

// Verify recomputes every hash from entry 0 and checks each back-link.
func (h StatusHistory) Verify() error {
	prev := ""
	for i, entry := range h {
		if entry.PreviousHash != prev {
			return &HistoryIntegrityError{Index: i, Reason: "previousHash does not match prior entry"}
		}
		hash, err := entry.ComputeHash()
		if err != nil {
			return &HistoryIntegrityError{Index: i, Reason: err.Error()}
		}
		if hash != entry.Hash {
			return &HistoryIntegrityError{Index: i, Reason: "stored hash does not match content"}
		}
		prev = entry.Hash
	}
	return nil
}
