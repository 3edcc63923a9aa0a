package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReceiptRecord is one committed ledger call.
type ReceiptRecord struct {
	TxID       string    `gorm:"primaryKey;size:36"`
	Op         string    `gorm:"size:64;index"`
	Height     uint64    `gorm:"uniqueIndex"`
	Timestamp  time.Time `gorm:"index"`
	EventCount int
	CreatedAt  time.Time
}

// EventRecord is one event emitted by a committed call.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TxID       string    `gorm:"size:36;index"`
	Height     uint64    `gorm:"index:idx_event_position,priority:1"`
	Seq        int       `gorm:"index:idx_event_position,priority:2"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	Timestamp  time.Time
}

// IdempotencyKey stores the response served for an operator request key.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:36"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ReceiptRecord{}, &EventRecord{}, &IdempotencyKey{})
}
