package models

import "time"

// IndexedFile is one discovered sub-band input file. Rows are append-only:
// when a file disappears from disk, Present flips to false; the row is never
// deleted, preserving history for audits.
type IndexedFile struct {
	Path          string `gorm:"primaryKey;size:512"`
	GroupKey      string `gorm:"size:32;index"`
	Slot          int    `gorm:"index"`
	Fingerprint   string `gorm:"size:16"`
	Size          int64
	ModTime       time.Time
	Present       bool   `gorm:"index"`
	IsPlaceholder bool   `gorm:"default:false"`
	Error         string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
