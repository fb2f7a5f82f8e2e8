package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentIntentRepository implements payment intent data operations
type PaymentIntentRepository struct {
	db *gorm.DB
}

// NewPaymentIntentRepository creates a new payment intent repository
func NewPaymentIntentRepository(db *gorm.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

// Create persists a new intent
func (r *PaymentIntentRepository) Create(ctx context.Context, intent *entities.PaymentIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now

	m, err := r.toModel(intent)
	if err != nil {
		return err
	}
	return GetDB(ctx, r.db).WithContext(ctx).Create(m).Error
}

// GetByID gets an intent by ID, honouring a row lock requested on ctx
func (r *PaymentIntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentIntentRepository) GetByBlockchainPaymentID(ctx context.Context, blockchainPaymentID string) (*entities.PaymentIntent, error) {
	return r.first(ctx, "blockchain_payment_id = ?", blockchainPaymentID)
}

func (r *PaymentIntentRepository) GetByTransactionHash(ctx context.Context, txHash string) (*entities.PaymentIntent, error) {
	return r.first(ctx, "transaction_hash = ?", txHash)
}

// FindByHistoryTxHash looks for txHash inside the JSON status history. Postgres
// uses jsonb containment; other dialects fall back to a text match.
func (r *PaymentIntentRepository) FindByHistoryTxHash(ctx context.Context, txHash string) (*entities.PaymentIntent, error) {
	if r.db.Dialector.Name() == "postgres" {
		needle, err := json.Marshal([]map[string]string{{"txHash": txHash}})
		if err != nil {
			return nil, err
		}
		return r.first(ctx, "status_history @> ?::jsonb", string(needle))
	}
	return r.first(ctx, "CAST(status_history AS TEXT) LIKE ?", fmt.Sprintf(`%%"txHash":"%s"%%`, txHash))
}

func (r *PaymentIntentRepository) first(ctx context.Context, query string, args ...interface{}) (*entities.PaymentIntent, error) {
	var m models.PaymentIntent
	if err := readDB(ctx, r.db).Where(query, args...).Order("created_at ASC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m)
}

// List returns intents matching filter, newest first
func (r *PaymentIntentRepository) List(ctx context.Context, filter domainRepos.PaymentIntentFilter, limit, offset int) ([]*entities.PaymentIntent, int64, error) {
	query := GetDB(ctx, r.db).WithContext(ctx).Model(&models.PaymentIntent{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.UserWalletAddress != "" {
		query = query.Where("user_wallet_address = ?", filter.UserWalletAddress)
	}
	if filter.LPWalletAddress != "" {
		query = query.Where("lp_wallet_address = ?", filter.LPWalletAddress)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.PaymentIntent
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}
	intents, err := r.toEntities(ms)
	if err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}

// Save writes every mutable column of intent
func (r *PaymentIntentRepository) Save(ctx context.Context, intent *entities.PaymentIntent) error {
	intent.UpdatedAt = time.Now().UTC()
	m, err := r.toModel(intent)
	if err != nil {
		return err
	}
	res := GetDB(ctx, r.db).WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ?", intent.ID).
		Updates(map[string]interface{}{
			"blockchain_payment_id": m.BlockchainPaymentID,
			"lp_wallet_address":     m.LPWalletAddress,
			"locked_amount":         m.LockedAmount,
			"status":                m.Status,
			"status_history":        m.StatusHistory,
			"payment_proof":         m.PaymentProof,
			"transaction_hash":      m.TransactionHash,
			"tx_status":             m.TxStatus,
			"block_confirmations":   m.BlockConfirmations,
			"last_synced_at":        m.LastSyncedAt,
			"sync_errors":           m.SyncErrors,
			"last_sync_error":       m.LastSyncError,
			"claimed_at":            m.ClaimedAt,
			"paid_at":               m.PaidAt,
			"confirmed_at":          m.ConfirmedAt,
			"settled_at":            m.SettledAt,
			"released_at":           m.ReleasedAt,
			"updated_at":            m.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// UpdateSyncState writes reconciliation bookkeeping only
func (r *PaymentIntentRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, state entities.SyncState) error {
	updates := map[string]interface{}{
		"tx_status":           string(state.TxStatus),
		"block_confirmations": state.BlockConfirmations,
		"last_synced_at":      state.LastSyncedAt,
		"updated_at":          time.Now().UTC(),
	}
	if state.SyncError != "" {
		updates["last_sync_error"] = state.SyncError
	}
	return GetDB(ctx, r.db).WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// RecordSyncError bumps the per-intent error counter
func (r *PaymentIntentRepository) RecordSyncError(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return GetDB(ctx, r.db).WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_errors":     gorm.Expr("sync_errors + ?", 1),
			"last_sync_error": message,
			"last_synced_at":  at,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// ListForReconciliation returns the poll batch, least recently synced first
func (r *PaymentIntentRepository) ListForReconciliation(ctx context.Context, limit int) ([]*entities.PaymentIntent, error) {
	terminal := make([]string, 0)
	for _, m := range status.AllMain() {
		if status.IsTerminal(m) {
			terminal = append(terminal, string(m))
		}
	}

	var ms []models.PaymentIntent
	err := GetDB(ctx, r.db).WithContext(ctx).
		Where("transaction_hash IS NOT NULL AND transaction_hash <> ''").
		Where("status NOT IN ?", terminal).
		Where("(tx_status IN ? OR status = ?)",
			[]string{string(status.TxPending), string(status.TxProcessing)}, string(status.Confirmed)).
		Order("last_synced_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return r.toEntities(ms)
}

// ListExpired returns intents in statuses whose deadline passed
func (r *PaymentIntentRepository) ListExpired(ctx context.Context, statuses []status.Main, now time.Time, limit int) ([]*entities.PaymentIntent, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	var ms []models.PaymentIntent
	if err := GetDB(ctx, r.db).WithContext(ctx).
		Where("status IN ? AND expires_at < ?", names, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return r.toEntities(ms)
}

func (r *PaymentIntentRepository) toEntities(ms []models.PaymentIntent) ([]*entities.PaymentIntent, error) {
	intents := make([]*entities.PaymentIntent, 0, len(ms))
	for i := range ms {
		e, err := r.toEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		intents = append(intents, e)
	}
	return intents, nil
}

func (r *PaymentIntentRepository) toModel(e *entities.PaymentIntent) (*models.PaymentIntent, error) {
	history, err := json.Marshal(e.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal status history: %w", err)
	}
	m := &models.PaymentIntent{
		ID:                  e.ID,
		BlockchainPaymentID: e.BlockchainPaymentID.Ptr(),
		Amount:              e.Amount,
		Currency:            e.Currency,
		FeeRate:             e.FeeRate,
		TotalAmount:         e.TotalAmount,
		Platform:            e.Platform,
		UserWalletAddress:   e.UserWalletAddress,
		LPWalletAddress:     e.LPWalletAddress.Ptr(),
		LockedAmount:        e.LockedAmount,
		Status:              string(e.Status),
		StatusHistory:       datatypes.JSON(history),
		TransactionHash:     e.TransactionHash.Ptr(),
		TxStatus:            string(e.TxStatus),
		BlockConfirmations:  e.BlockConfirmations,
		LastSyncedAt:        e.LastSyncedAt,
		SyncErrors:          e.SyncErrors,
		LastSyncError:       e.LastSyncError.Ptr(),
		ExpiresAt:           e.ExpiresAt,
		ClaimedAt:           e.ClaimedAt,
		PaidAt:              e.PaidAt,
		ConfirmedAt:         e.ConfirmedAt,
		SettledAt:           e.SettledAt,
		ReleasedAt:          e.ReleasedAt,
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
	if len(e.PaymentProof) > 0 {
		proof, err := json.Marshal(e.PaymentProof)
		if err != nil {
			return nil, fmt.Errorf("marshal payment proof: %w", err)
		}
		m.PaymentProof = datatypes.JSON(proof)
	}
	return m, nil
}

func (r *PaymentIntentRepository) toEntity(m *models.PaymentIntent) (*entities.PaymentIntent, error) {
	e := &entities.PaymentIntent{
		ID:                  m.ID,
		BlockchainPaymentID: null.StringFromPtr(m.BlockchainPaymentID),
		Amount:              m.Amount,
		Currency:            m.Currency,
		FeeRate:             m.FeeRate,
		TotalAmount:         m.TotalAmount,
		Platform:            m.Platform,
		UserWalletAddress:   m.UserWalletAddress,
		LPWalletAddress:     null.StringFromPtr(m.LPWalletAddress),
		LockedAmount:        m.LockedAmount,
		Status:              status.Main(m.Status),
		TransactionHash:     null.StringFromPtr(m.TransactionHash),
		TxStatus:            status.TxStatus(m.TxStatus),
		BlockConfirmations:  m.BlockConfirmations,
		LastSyncedAt:        m.LastSyncedAt,
		SyncErrors:          m.SyncErrors,
		LastSyncError:       null.StringFromPtr(m.LastSyncError),
		ExpiresAt:           m.ExpiresAt,
		ClaimedAt:           m.ClaimedAt,
		PaidAt:              m.PaidAt,
		ConfirmedAt:         m.ConfirmedAt,
		SettledAt:           m.SettledAt,
		ReleasedAt:          m.ReleasedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if len(m.StatusHistory) > 0 {
		if err := json.Unmarshal(m.StatusHistory, &e.StatusHistory); err != nil {
			return nil, fmt.Errorf("payment %s: decode status history: %w", m.ID, err)
		}
	}
	if len(m.PaymentProof) > 0 && string(m.PaymentProof) != "null" {
		if err := json.Unmarshal(m.PaymentProof, &e.PaymentProof); err != nil {
			return nil, fmt.Errorf("payment %s: decode payment proof: %w", m.ID, err)
		}
	}
	return e, nil
}
