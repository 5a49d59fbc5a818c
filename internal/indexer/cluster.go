package indexer

import (
	"fmt"
	"time"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/subband"
	"gorm.io/gorm"
)

// resolveGroup maps a file's timestamp key onto an existing group within the
// cluster tolerance. Correlator dumps belonging to one observation can carry
// filename timestamps a second or two apart; without clustering such a group
// fragments into several permanently-incomplete groups. Only groups whose
// queue item is absent or non-terminal attract new files; among candidates
// the nearest timestamp wins, and a key with no neighbor keeps itself.
func resolveGroup(db *gorm.DB, key string, tolerance time.Duration) (string, error) {
	at, err := subband.GroupTime(key)
	if err != nil {
		return "", err
	}

	// Canonical keys sort chronologically, so the tolerance window is a
	// plain range scan over the index.
	lo := at.Add(-tolerance).Format(subband.GroupKeyLayout)
	hi := at.Add(tolerance).Format(subband.GroupKeyLayout)

	var candidates []string
	err = db.Model(&models.IndexedFile{}).
		Distinct().
		Joins("LEFT JOIN queue_items ON queue_items.group_key = indexed_files.group_key").
		Where("indexed_files.group_key BETWEEN ? AND ?", lo, hi).
		Where("queue_items.group_key IS NULL OR queue_items.state NOT IN ?", models.TerminalStates).
		Pluck("indexed_files.group_key", &candidates).Error
	if err != nil {
		return "", fmt.Errorf("indexer: cluster candidates for %s: %w", key, err)
	}

	best := key
	bestDelta := tolerance + 1
	for _, c := range candidates {
		ct, err := subband.GroupTime(c)
		if err != nil {
			continue
		}
		delta := at.Sub(ct)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance && delta < bestDelta {
			best, bestDelta = c, delta
		}
	}
	return best, nil
}
