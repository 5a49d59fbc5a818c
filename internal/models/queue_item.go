package models

import "time"

// Queue item states. Only the queue package transitions State; the assembler
// requests pending→ready and workers drive ready→claimed→terminal, but all
// writes go through the queue's atomic operations.
const (
	StatePending   = "pending"
	StateReady     = "ready"
	StateClaimed   = "claimed"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// TerminalStates are the states a queue item never leaves.
var TerminalStates = []string{StateCompleted, StateFailed, StateCancelled}

// QueueItem is one unit of conversion work: a sub-band group keyed by its
// observation timestamp.
type QueueItem struct {
	GroupKey   string `gorm:"primaryKey;size:32"`
	State      string `gorm:"size:16;default:pending;index"`
	RetryCount int    `gorm:"default:0"`
	ClaimOwner string `gorm:"size:64"`
	ClaimedAt  *time.Time
	LastUpdate time.Time
	Error      string `gorm:"type:text"`
	OutputPath string `gorm:"size:512"`
	CreatedAt  time.Time
}

// Terminal reports whether the item is in a terminal state.
func (q *QueueItem) Terminal() bool {
	switch q.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}
