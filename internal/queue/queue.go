// Package queue implements the durable ingest queue: one state-machine-backed
// item per sub-band group, with atomic claim, heartbeat, completion, retry,
// and stale-lease reaping. The queue is the sole mutator of item state; every
// transition is a conditional update checked against the expected prior state
// so concurrent callers can never double-apply one.
package queue

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enqueue creates a pending item for the group if none exists. Idempotent:
// an existing item, in whatever state, is returned unchanged.
func Enqueue(db *gorm.DB, groupKey string) (*models.QueueItem, error) {
	if groupKey == "" {
		return nil, fmt.Errorf("queue: groupKey is required")
	}

	now := time.Now()
	item := models.QueueItem{
		GroupKey:   groupKey,
		State:      models.StatePending,
		LastUpdate: now,
		CreatedAt:  now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_key"}},
		DoNothing: true,
	}).Create(&item).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue %s: %w", groupKey, err)
	}

	// Re-read: on conflict the local struct does not reflect the stored row.
	var stored models.QueueItem
	if err := db.First(&stored, "group_key = ?", groupKey).Error; err != nil {
		return nil, fmt.Errorf("queue: read back %s: %w", groupKey, err)
	}
	return &stored, nil
}

// MarkReady transitions pending→ready. Returns false without error if the
// item is missing or already past ready, which callers treat as a lost (and
// harmless) promotion race.
func MarkReady(db *gorm.DB, groupKey string) (bool, error) {
	result := db.Model(&models.QueueItem{}).
		Where("group_key = ? AND state = ?", groupKey, models.StatePending).
		Updates(map[string]interface{}{
			"state":       models.StateReady,
			"last_update": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("queue: mark ready %s: %w", groupKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Demote transitions ready→pending, used when a group regresses below its
// eligibility floor before any worker claimed it.
func Demote(db *gorm.DB, groupKey string) (bool, error) {
	result := db.Model(&models.QueueItem{}).
		Where("group_key = ? AND state = ?", groupKey, models.StateReady).
		Updates(map[string]interface{}{
			"state":       models.StatePending,
			"last_update": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("queue: demote %s: %w", groupKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Claim atomically selects the oldest ready item and assigns it to the
// worker. Two concurrent callers can never claim the same item: the row is
// locked where the backend supports it, and the transition itself is a
// compare-and-swap on state whose affected-row count decides the winner. The
// loser gets (nil, nil), the same as an empty queue.
func Claim(db *gorm.DB, workerID string) (*models.QueueItem, error) {
	if workerID == "" {
		return nil, fmt.Errorf("queue: workerID is required")
	}

	var claimed models.QueueItem
	found := false

	err := db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("state = ?", models.StateReady).
			Order("created_at ASC").
			Limit(1)
		// SQLite has no row locks; its single-writer transaction plus the
		// conditional update below gives the same guarantee.
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		result := q.Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("queue: find ready item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		now := time.Now()
		res := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state = ?", claimed.GroupKey, models.StateReady).
			Updates(map[string]interface{}{
				"state":       models.StateClaimed,
				"claim_owner": workerID,
				"claimed_at":  now,
				"last_update": now,
			})
		if res.Error != nil {
			return fmt.Errorf("queue: claim %s: %w", claimed.GroupKey, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race after the read; same outcome as no work.
			return nil
		}

		claimed.State = models.StateClaimed
		claimed.ClaimOwner = workerID
		claimed.ClaimedAt = &now
		claimed.LastUpdate = now
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &claimed, nil
}

// Heartbeat renews the claim lease. Returns false if the worker no longer
// owns the item (lease expired and the item was reclaimed).
func Heartbeat(db *gorm.DB, groupKey, workerID string) (bool, error) {
	now := time.Now()
	result := db.Model(&models.QueueItem{}).
		Where("group_key = ? AND state = ? AND claim_owner = ?",
			groupKey, models.StateClaimed, workerID).
		Updates(map[string]interface{}{
			"claimed_at":  now,
			"last_update": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("queue: heartbeat %s: %w", groupKey, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Complete transitions claimed→completed and records the completion event.
// The owner guard rejects a late report from a worker whose claim was
// reclaimed.
func Complete(db *gorm.DB, groupKey, workerID, outputPath string) (bool, error) {
	ok := false
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state = ? AND claim_owner = ?",
				groupKey, models.StateClaimed, workerID).
			Updates(map[string]interface{}{
				"state":       models.StateCompleted,
				"output_path": outputPath,
				"last_update": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("queue: complete %s: %w", groupKey, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		ok = true
		return recordEvent(tx, groupKey, models.EventCompleted, outputPath)
	})
	return ok, err
}

// Fail reports an execution failure. Depending on the retry budget the item
// returns to pending (retry count incremented) or lands terminal failed. The
// owner guard rejects late reports, same as Complete.
func Fail(db *gorm.DB, groupKey, workerID, errMsg string, maxRetries int) (bool, error) {
	ok := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		result := tx.Where("group_key = ? AND state = ? AND claim_owner = ?",
			groupKey, models.StateClaimed, workerID).
			Limit(1).
			Find(&item)
		if result.Error != nil {
			return fmt.Errorf("queue: fail %s: %w", groupKey, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		next := models.StatePending
		event := models.EventRequeued
		if item.RetryCount >= maxRetries {
			next = models.StateFailed
			event = models.EventFailed
		}

		res := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state = ? AND claim_owner = ?",
				groupKey, models.StateClaimed, workerID).
			Updates(map[string]interface{}{
				"state":       next,
				"retry_count": item.RetryCount + 1,
				"claim_owner": "",
				"claimed_at":  nil,
				"error":       errMsg,
				"last_update": time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("queue: fail %s: %w", groupKey, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		ok = true
		return recordEvent(tx, groupKey, event, errMsg)
	})
	return ok, err
}

// Cancel transitions a pending or ready item to terminal cancelled. A claimed
// item is not cancelled mid-execution; the operator retries once the in-flight
// report lands.
func Cancel(db *gorm.DB, groupKey string) (bool, error) {
	ok := false
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state IN ?", groupKey,
				[]string{models.StatePending, models.StateReady}).
			Updates(map[string]interface{}{
				"state":       models.StateCancelled,
				"last_update": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("queue: cancel %s: %w", groupKey, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		ok = true
		return recordEvent(tx, groupKey, models.EventCancelled, "cancelled by operator")
	})
	return ok, err
}

// Requeue resets a terminal failed item to pending with a fresh retry budget.
// Operator action for after the underlying fault is fixed.
func Requeue(db *gorm.DB, groupKey string) (bool, error) {
	ok := false
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.QueueItem{}).
			Where("group_key = ? AND state = ?", groupKey, models.StateFailed).
			Updates(map[string]interface{}{
				"state":       models.StatePending,
				"retry_count": 0,
				"error":       "",
				"last_update": time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("queue: requeue %s: %w", groupKey, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		ok = true
		return recordEvent(tx, groupKey, models.EventRequeued, "requeued by operator")
	})
	return ok, err
}

// Get returns the item for a group, or nil if absent.
func Get(db *gorm.DB, groupKey string) (*models.QueueItem, error) {
	var item models.QueueItem
	result := db.Limit(1).Find(&item, "group_key = ?", groupKey)
	if result.Error != nil {
		return nil, fmt.Errorf("queue: get %s: %w", groupKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &item, nil
}
