package entities

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"escrow-pay.backend/internal/domain/status"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

// PaymentIntent is one fiat-for-stablecoin payment moving through escrow.
type PaymentIntent struct {
	ID                  uuid.UUID       `json:"id"`
	BlockchainPaymentID null.String     `json:"blockchainPaymentId"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	FeeRate             decimal.Decimal `json:"feeRate"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	Platform            string          `json:"platform,omitempty"`
	UserWalletAddress   string          `json:"userWalletAddress"`
	LPWalletAddress     null.String     `json:"lpWalletAddress"`
	LockedAmount        decimal.Decimal `json:"lockedAmount"`
	Status              status.Main     `json:"status"`
	StatusHistory       StatusHistory   `json:"statusHistory"`
	PaymentProof        map[string]any  `json:"paymentProof,omitempty"`

	TransactionHash    null.String     `json:"transactionHash"`
	TxStatus           status.TxStatus `json:"txStatus,omitempty"`
	BlockConfirmations int64           `json:"blockConfirmations"`
	LastSyncedAt       *time.Time      `json:"lastSyncedAt,omitempty"`
	SyncErrors         int             `json:"syncErrors"`
	LastSyncError      null.String     `json:"lastSyncError"`

	ExpiresAt   time.Time  `json:"expiresAt"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EscrowStatus is derived from the main status; it is never stored.
func (p *PaymentIntent) EscrowStatus() status.Escrow {
	return status.MainToEscrow(p.Status)
}

// MarshalJSON adds the derived escrowStatus to the wire form.
func (p PaymentIntent) MarshalJSON() ([]byte, error) {
	type plain PaymentIntent
	return json.Marshal(struct {
		plain
		EscrowStatus status.Escrow `json:"escrowStatus"`
	}{plain(p), p.EscrowStatus()})
}

// HasLockedQuota reports whether an LP's capacity is committed to this payment.
func (p *PaymentIntent) HasLockedQuota() bool {
	return p.LPWalletAddress.Valid && p.LockedAmount.IsPositive()
}

// IsExpired reports whether the intake deadline has passed at now.
func (p *PaymentIntent) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// MergeProof folds new evidence into the payment proof. Recorded evidence is
// never replaced: keys already present keep their value, and the ones the new
// evidence tried to change are returned sorted.
func (p *PaymentIntent) MergeProof(proof map[string]any) []string {
	if len(proof) == 0 {
		return nil
	}
	if p.PaymentProof == nil {
		p.PaymentProof = make(map[string]any, len(proof))
	}
	var ignored []string
	for k, v := range proof {
		cur, ok := p.PaymentProof[k]
		if !ok {
			p.PaymentProof[k] = v
			continue
		}
		if !reflect.DeepEqual(cur, v) {
			ignored = append(ignored, k)
		}
	}
	sort.Strings(ignored)
	return ignored
}

// PaymentIntentUpdate carries optional field changes applied together with a
// status transition. Nil fields are left untouched.
type PaymentIntentUpdate struct {
	TransactionHash     *string
	BlockchainPaymentID *string
	LPWalletAddress     *string
	LockedAmount        *decimal.Decimal
	ReleasedAt          *time.Time
}

// Apply copies the set fields onto p.
func (u PaymentIntentUpdate) Apply(p *PaymentIntent) {
	if u.TransactionHash != nil {
		p.TransactionHash = null.StringFrom(*u.TransactionHash)
	}
	if u.BlockchainPaymentID != nil {
		p.BlockchainPaymentID = null.StringFrom(*u.BlockchainPaymentID)
	}
	if u.LPWalletAddress != nil {
		p.LPWalletAddress = null.StringFrom(*u.LPWalletAddress)
	}
	if u.LockedAmount != nil {
		p.LockedAmount = *u.LockedAmount
	}
	if u.ReleasedAt != nil {
		t := *u.ReleasedAt
		p.ReleasedAt = &t
	}
}

// SyncState is the reconciliation bookkeeping written by the chain poller.
type SyncState struct {
	TxStatus           status.TxStatus
	BlockConfirmations int64
	LastSyncedAt       time.Time
	SyncError          string
}

// CreatePaymentInput is the intake request for a new payment intent.
type CreatePaymentInput struct {
	Amount            string         `json:"amount" binding:"required"`
	Currency          string         `json:"currency" binding:"required"`
	FeeRate           string         `json:"feeRate"`
	Platform          string         `json:"platform"`
	UserWalletAddress string         `json:"userWalletAddress" binding:"required"`
	PaymentProof      map[string]any `json:"paymentProof,omitempty"`
}
