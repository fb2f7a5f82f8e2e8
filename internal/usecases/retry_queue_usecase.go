package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/metrics"
	"escrow-pay.backend/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryQueueUsecase schedules at-least-once redelivery of opaque payloads.
type RetryQueueUsecase struct {
	repo domainRepos.RetryQueueRepository
	now  func() time.Time
}

func NewRetryQueueUsecase(repo domainRepos.RetryQueueRepository) *RetryQueueUsecase {
	return &RetryQueueUsecase{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores payload for a first redelivery attempt in RetryInitialDelay.
func (uc *RetryQueueUsecase) Enqueue(ctx context.Context, eventType string, payload any) (*entities.RetryQueueEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode retry payload: %w", err)
	}

	now := uc.now()
	entry := &entities.RetryQueueEntry{
		ID:          utils.GenerateUUIDv7(),
		Type:        eventType,
		Data:        data,
		MaxRetries:  entities.DefaultMaxRetries,
		Status:      entities.RetryQueueStatusPending,
		NextRetryAt: now.Add(RetryInitialDelay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeQueued).Inc()
	logger.Info(ctx, "Event queued for retry",
		zap.String("retry_id", entry.ID.String()),
		zap.String("type", eventType),
	)
	return entry, nil
}

// DueEntries returns pending entries whose retry time has come.
func (uc *RetryQueueUsecase) DueEntries(ctx context.Context, limit int) ([]*entities.RetryQueueEntry, error) {
	return uc.repo.GetDue(ctx, uc.now(), limit)
}

func (uc *RetryQueueUsecase) MarkProcessing(ctx context.Context, entry *entities.RetryQueueEntry) error {
	entry.Status = entities.RetryQueueStatusProcessing
	return uc.repo.Update(ctx, entry)
}

func (uc *RetryQueueUsecase) MarkProcessed(ctx context.Context, entry *entities.RetryQueueEntry) error {
	now := uc.now()
	entry.Status = entities.RetryQueueStatusProcessed
	entry.ProcessedAt = &now
	if err := uc.repo.Update(ctx, entry); err != nil {
		return err
	}
	metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeProcessed).Inc()
	return nil
}

// MarkFailed records a failed attempt. The entry is rescheduled with
// exponential backoff, or parked as failed once its retries are spent.
func (uc *RetryQueueUsecase) MarkFailed(ctx context.Context, entry *entities.RetryQueueEntry, cause error) error {
	now := uc.now()
	entry.RetryCount++
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if entry.Exhausted() {
		entry.Status = entities.RetryQueueStatusFailed
		entry.ProcessedAt = &now
		if err := uc.repo.Update(ctx, entry); err != nil {
			return err
		}
		metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger.Error(ctx, "Retry entry exhausted",
			zap.String("retry_id", entry.ID.String()),
			zap.String("type", entry.Type),
			zap.Int("retry_count", entry.RetryCount),
			zap.String("last_error", entry.LastError),
		)
		return nil
	}

	entry.Status = entities.RetryQueueStatusPending
	entry.NextRetryAt = now.Add(backoff(entry.RetryCount))
	if err := uc.repo.Update(ctx, entry); err != nil {
		return err
	}
	metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeRetried).Inc()
	return nil
}

// RecoverStale returns entries left in processing by a crashed drain to pending.
func (uc *RetryQueueUsecase) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := uc.repo.ResetStale(ctx, uc.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeRecovered).Add(float64(n))
		logger.Warn(ctx, "Recovered stale retry entries", zap.Int64("count", n))
	}
	return n, nil
}

func (uc *RetryQueueUsecase) List(ctx context.Context, status entities.RetryQueueStatus, page, limit int) ([]*entities.RetryQueueEntry, utils.PaginationMeta, error) {
	p := utils.GetPaginationParams(page, limit)
	entries, total, err := uc.repo.List(ctx, status, p.Limit, p.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, err
	}
	return entries, utils.CalculateMeta(total, p.Page, p.Limit), nil
}

func (uc *RetryQueueUsecase) Stats(ctx context.Context) (map[entities.RetryQueueStatus]int64, error) {
	return uc.repo.CountByStatus(ctx)
}

// Requeue gives a failed entry a fresh set of attempts, due immediately.
func (uc *RetryQueueUsecase) Requeue(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error) {
	entry, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != entities.RetryQueueStatusFailed {
		return nil, fmt.Errorf("%w: entry %s is %s, only failed entries can be requeued", domainerrors.ErrInvalidInput, id, entry.Status)
	}

	entry.Status = entities.RetryQueueStatusPending
	entry.RetryCount = 0
	entry.NextRetryAt = uc.now()
	entry.ProcessedAt = nil
	if err := uc.repo.Update(ctx, entry); err != nil {
		return nil, err
	}
	metrics.RetryQueueOutcomes.WithLabelValues(metrics.OutcomeRequeued).Inc()
	return entry, nil
}

// backoff is 2^attempt minutes.
func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * RetryBackoffUnit
}
