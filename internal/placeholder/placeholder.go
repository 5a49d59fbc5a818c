// Package placeholder synthesizes inert filler entries for missing sub-band
// slots so a semi-complete group can be converted. Placeholders carry no
// signal; downstream consumers see IsPlaceholder and treat the group as
// reduced-confidence.
package placeholder

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/subband"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Synthesize ensures a placeholder file and index row exist for each missing
// slot of a group. It is deterministic in (groupKey, missing): re-invocation
// upserts the same paths and never creates duplicates. A failure on one slot
// is logged and skipped; the successfully ensured rows are returned.
func Synthesize(db *gorm.DB, dir, groupKey string, missing []int) ([]models.IndexedFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("placeholder: dir is required")
	}
	if groupKey == "" {
		return nil, fmt.Errorf("placeholder: groupKey is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("placeholder: ensure dir %s: %w", dir, err)
	}

	var ensured []models.IndexedFile
	for _, slot := range missing {
		rec, err := synthesizeSlot(db, dir, groupKey, slot)
		if err != nil {
			log.Printf("placeholder: %s slot %d: %v", groupKey, slot, err)
			continue
		}
		ensured = append(ensured, *rec)
	}
	return ensured, nil
}

func synthesizeSlot(db *gorm.DB, dir, groupKey string, slot int) (*models.IndexedFile, error) {
	path := filepath.Join(dir, subband.PlaceholderFilename(groupKey, slot))
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	// The marker file is empty: the conversion step recognizes the
	// .placeholder suffix and emits fully flagged, zero-valued data for the
	// slot. O_EXCL keeps an existing marker untouched.
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		f.Close()
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("create marker: %w", err)
	}

	rec := models.IndexedFile{
		Path:          abs,
		GroupKey:      groupKey,
		Slot:          slot,
		Present:       true,
		IsPlaceholder: true,
		UpdatedAt:     time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"group_key", "slot", "present", "is_placeholder", "updated_at",
		}),
	}).Create(&rec)
	if result.Error != nil {
		return nil, fmt.Errorf("upsert: %w", result.Error)
	}
	return &rec, nil
}
