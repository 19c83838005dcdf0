package model

import "time"

// Event types written by the transaction engine and the accrual job. The
// poller ships them to Kafka for downstream SMS/push senders.
const (
	EventTransactionCompleted = "TransactionCompleted"
	EventTransactionFailed    = "TransactionFailed"
	EventSavingMatured        = "SavingMatured"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
