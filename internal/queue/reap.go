package queue

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/gorm"
)

// ReapStaleClaims reclaims claimed items whose lease was not renewed within
// threshold. Each item returns to pending with its retry count incremented,
// or lands terminal failed once retries are exhausted. Returns the group keys
// reclaimed. Run this periodically; a crashed worker's claim must never be
// stuck claimed forever.
func ReapStaleClaims(db *gorm.DB, threshold time.Duration, maxRetries int) ([]string, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("queue: threshold must be positive")
	}

	cutoff := time.Now().Add(-threshold)
	var stale []models.QueueItem
	if err := db.Where("state = ? AND claimed_at < ?", models.StateClaimed, cutoff).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("queue: find stale claims: %w", err)
	}

	var reclaimed []string
	for _, item := range stale {
		ok, err := reapOne(db, item, cutoff, maxRetries)
		if err != nil {
			return reclaimed, err
		}
		if ok {
			reclaimed = append(reclaimed, item.GroupKey)
		}
	}
	return reclaimed, nil
}

// reapOne reclaims a single stale item. The claimed_at guard makes the
// transition race-safe against an owner whose heartbeat lands between the
// scan and the update: a renewed lease is no longer stale and the reap is a
// no-op.
func reapOne(db *gorm.DB, item models.QueueItem, cutoff time.Time, maxRetries int) (bool, error) {
	ok := false
	err := db.Transaction(func(tx *gorm.DB) error {
		next := models.StatePending
		event := models.EventRequeued
		detail := fmt.Sprintf("claim lease expired (owner %s)", item.ClaimOwner)
		if item.RetryCount >= maxRetries {
			next = models.StateFailed
			event = models.EventFailed
		}

		result := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state = ? AND claimed_at < ?",
				item.GroupKey, models.StateClaimed, cutoff).
			Updates(map[string]interface{}{
				"state":       next,
				"retry_count": item.RetryCount + 1,
				"claim_owner": "",
				"claimed_at":  nil,
				"error":       detail,
				"last_update": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("queue: reap %s: %w", item.GroupKey, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		ok = true
		return recordEvent(tx, item.GroupKey, event, detail)
	})
	return ok, err
}
