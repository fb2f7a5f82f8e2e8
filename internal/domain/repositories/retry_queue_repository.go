package repositories

import (
	"context"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"github.com/google/uuid"
)

// RetryQueueRepository defines retry queue persistence
type RetryQueueRepository interface {
	Create(ctx context.Context, entry *entities.RetryQueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error)
	// GetDue returns pending entries due at now with retries left, oldest first.
	GetDue(ctx context.Context, now time.Time, limit int) ([]*entities.RetryQueueEntry, error)
	Update(ctx context.Context, entry *entities.RetryQueueEntry) error
	// ResetStale moves entries stuck in processing since before cutoff back to pending.
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, status entities.RetryQueueStatus, limit, offset int) ([]*entities.RetryQueueEntry, int64, error)
	CountByStatus(ctx context.Context) (map[entities.RetryQueueStatus]int64, error)
}
