package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RetryQueueStatus is the delivery state of a queued event.
type RetryQueueStatus string

const (
	RetryQueueStatusPending    RetryQueueStatus = "pending"
	RetryQueueStatusProcessing RetryQueueStatus = "processing"
	RetryQueueStatusProcessed  RetryQueueStatus = "processed"
	RetryQueueStatusFailed     RetryQueueStatus = "failed"
)

// DefaultMaxRetries bounds redelivery before an entry is parked as failed.
const DefaultMaxRetries = 5

// RetryQueueEntry is a durable at-least-once redelivery record. Data is an
// opaque payload owned by whoever enqueued it.
type RetryQueueEntry struct {
	ID          uuid.UUID        `json:"id"`
	Type        string           `json:"type"`
	Data        json.RawMessage  `json:"data"`
	RetryCount  int              `json:"retryCount"`
	MaxRetries  int              `json:"maxRetries"`
	Status      RetryQueueStatus `json:"status"`
	NextRetryAt time.Time        `json:"nextRetryAt"`
	LastError   string           `json:"lastError,omitempty"`
	ProcessedAt *time.Time       `json:"processedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Exhausted reports whether no redelivery attempts remain.
func (e *RetryQueueEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}
