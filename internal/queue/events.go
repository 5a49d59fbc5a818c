package queue

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/gorm"
)

// recordEvent appends to the durable notification feed inside the caller's
// transaction, so an event exists exactly when its transition committed.
func recordEvent(tx *gorm.DB, groupKey, eventType, detail string) error {
	ev := models.QueueEvent{
		GroupKey:  groupKey,
		Type:      eventType,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("queue: record %s event for %s: %w", eventType, groupKey, err)
	}
	return nil
}

// EventsSince returns events with ID greater than afterID, oldest first.
// Consumers track the last ID they saw and poll.
func EventsSince(db *gorm.DB, afterID uint, limit int) ([]models.QueueEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.QueueEvent
	if err := db.Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("queue: events since %d: %w", afterID, err)
	}
	return events, nil
}

// LastEventID returns the highest event ID, or 0 for an empty feed. New
// consumers start here to skip history.
func LastEventID(db *gorm.DB) (uint, error) {
	var ev models.QueueEvent
	result := db.Order("id DESC").Limit(1).Find(&ev)
	if result.Error != nil {
		return 0, fmt.Errorf("queue: last event id: %w", result.Error)
	}
	return ev.ID, nil
}
