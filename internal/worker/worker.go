// Package worker runs the conversion worker pool: each worker polls the
// ingest queue, claims one group at a time, invokes the external conversion
// executor, and reports the outcome back.
package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Worker statuses.
const (
	StatusIdle    = "idle"
	StatusWorking = "working"
	StatusStopped = "stopped"
)

// NewID generates a worker identity. Hostname-prefixed so operators can tell
// at a glance where a claim lives.
func NewID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Register creates the worker's row. Visibility only; claim ownership is
// enforced by the queue, not by this table.
func Register(db *gorm.DB, id string) (*models.Worker, error) {
	if id == "" {
		return nil, fmt.Errorf("worker: id is required")
	}
	host, _ := os.Hostname()
	w := models.Worker{
		ID:           id,
		Hostname:     host,
		PID:          os.Getpid(),
		Status:       StatusIdle,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := db.Create(&w).Error; err != nil {
		return nil, fmt.Errorf("worker: register %s: %w", id, err)
	}
	return &w, nil
}

// Deregister marks the worker stopped. The row is kept for history.
func Deregister(db *gorm.DB, id string) error {
	result := db.Model(&models.Worker{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        StatusStopped,
		"current_group": "",
		"last_activity": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("worker: deregister %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("worker: deregister %s: not registered", id)
	}
	return nil
}

// setStatus updates the worker's status and current group.
func setStatus(db *gorm.DB, id, status, currentGroup string) error {
	result := db.Model(&models.Worker{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"current_group": currentGroup,
		"last_activity": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("worker: set status %s: %w", id, result.Error)
	}
	return nil
}
