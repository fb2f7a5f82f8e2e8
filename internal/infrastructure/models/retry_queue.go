package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RetryQueueEntry struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Type        string         `gorm:"type:varchar(50);not null;index"`
	Data        datatypes.JSON `gorm:"type:jsonb;not null"`
	RetryCount  int            `gorm:"not null;default:0"`
	MaxRetries  int            `gorm:"not null"`
	Status      string         `gorm:"type:varchar(20);not null;index"`
	NextRetryAt time.Time      `gorm:"index"`
	LastError   string         `gorm:"type:text"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RetryQueueEntry) TableName() string { return "retry_queue_entries" }
