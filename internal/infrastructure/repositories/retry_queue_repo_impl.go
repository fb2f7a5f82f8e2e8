package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	"escrow-pay.backend/internal/infrastructure/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RetryQueueRepository implements RetryQueueRepository
type RetryQueueRepository struct {
	db *gorm.DB
}

func NewRetryQueueRepository(db *gorm.DB) *RetryQueueRepository {
	return &RetryQueueRepository{db: db}
}

func (r *RetryQueueRepository) Create(ctx context.Context, entry *entities.RetryQueueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return GetDB(ctx, r.db).WithContext(ctx).Create(r.toModel(entry)).Error
}

func (r *RetryQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error) {
	var m models.RetryQueueEntry
	if err := readDB(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *RetryQueueRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*entities.RetryQueueEntry, error) {
	var ms []models.RetryQueueEntry
	if err := GetDB(ctx, r.db).WithContext(ctx).
		Where("status = ? AND next_retry_at <= ? AND retry_count < max_retries", string(entities.RetryQueueStatusPending), now).
		Order("next_retry_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return r.toEntities(ms), nil
}

func (r *RetryQueueRepository) Update(ctx context.Context, entry *entities.RetryQueueEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	res := GetDB(ctx, r.db).WithContext(ctx).Model(&models.RetryQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"retry_count":   entry.RetryCount,
			"max_retries":   entry.MaxRetries,
			"status":        string(entry.Status),
			"next_retry_at": entry.NextRetryAt,
			"last_error":    entry.LastError,
			"processed_at":  entry.ProcessedAt,
			"updated_at":    entry.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *RetryQueueRepository) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := GetDB(ctx, r.db).WithContext(ctx).Model(&models.RetryQueueEntry{}).
		Where("status = ? AND updated_at < ?", string(entities.RetryQueueStatusProcessing), cutoff).
		Updates(map[string]interface{}{
			"status":     string(entities.RetryQueueStatusPending),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *RetryQueueRepository) List(ctx context.Context, status entities.RetryQueueStatus, limit, offset int) ([]*entities.RetryQueueEntry, int64, error) {
	query := GetDB(ctx, r.db).WithContext(ctx).Model(&models.RetryQueueEntry{})
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.RetryQueueEntry
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ms).Error; err != nil {
		return nil, 0, err
	}
	return r.toEntities(ms), total, nil
}

func (r *RetryQueueRepository) CountByStatus(ctx context.Context) (map[entities.RetryQueueStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := GetDB(ctx, r.db).WithContext(ctx).Model(&models.RetryQueueEntry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[entities.RetryQueueStatus]int64, len(rows))
	for _, row := range rows {
		out[entities.RetryQueueStatus(row.Status)] = row.Count
	}
	return out, nil
}

func (r *RetryQueueRepository) toEntities(ms []models.RetryQueueEntry) []*entities.RetryQueueEntry {
	out := make([]*entities.RetryQueueEntry, 0, len(ms))
	for i := range ms {
		out = append(out, r.toEntity(&ms[i]))
	}
	return out
}

func (r *RetryQueueRepository) toModel(e *entities.RetryQueueEntry) *models.RetryQueueEntry {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return &models.RetryQueueEntry{
		ID:          e.ID,
		Type:        e.Type,
		Data:        datatypes.JSON(data),
		RetryCount:  e.RetryCount,
		MaxRetries:  e.MaxRetries,
		Status:      string(e.Status),
		NextRetryAt: e.NextRetryAt,
		LastError:   e.LastError,
		ProcessedAt: e.ProcessedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (r *RetryQueueRepository) toEntity(m *models.RetryQueueEntry) *entities.RetryQueueEntry {
	return &entities.RetryQueueEntry{
		ID:          m.ID,
		Type:        m.Type,
		Data:        json.RawMessage(m.Data),
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		Status:      entities.RetryQueueStatus(m.Status),
		NextRetryAt: m.NextRetryAt,
		LastError:   m.LastError,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
