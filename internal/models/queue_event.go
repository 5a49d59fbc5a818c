package models

import "time"

// Queue event types.
const (
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventRequeued  = "requeued"
)

// QueueEvent is the durable notification feed written alongside queue state
// transitions. Downstream orchestration polls it for completed groups; the
// dashboard streams it; alerting tails it in-process.
type QueueEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	GroupKey  string `gorm:"size:32;index"`
	Type      string `gorm:"size:16;index"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}
