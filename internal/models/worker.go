package models

import "time"

// Worker represents one conversion worker instance. Workers register on
// startup, touch LastActivity while alive, and are marked stopped on
// graceful shutdown.
type Worker struct {
	ID           string `gorm:"primaryKey;size:64"`
	Hostname     string `gorm:"size:128"`
	PID          int
	Status       string `gorm:"size:16;index"`
	CurrentGroup string `gorm:"size:32"`
	StartedAt    time.Time
	LastActivity time.Time `gorm:"index"`
}
