package queue

import (
	"fmt"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/gorm"
)

// StateCount is one row of the queue summary.
type StateCount struct {
	State string
	Count int64
}

// Summary returns item counts per state.
func Summary(db *gorm.DB) ([]StateCount, error) {
	var rows []StateCount
	if err := db.Model(&models.QueueItem{}).
		Select("state, count(*) as count").
		Group("state").
		Order("state ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: summary: %w", err)
	}
	return rows, nil
}

// List returns items, newest observation first, optionally filtered by state.
func List(db *gorm.DB, state string, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Order("group_key DESC").Limit(limit)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var items []models.QueueItem
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return items, nil
}
