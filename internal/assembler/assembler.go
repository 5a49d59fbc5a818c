// Package assembler derives sub-band groups from the file index, classifies
// their completeness, and promotes eligible groups into the ingest queue.
// Completeness is always recomputed from present-slot facts, never cached, so
// it cannot drift when files appear or vanish between scans.
package assembler

import (
	"fmt"
	"sort"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/placeholder"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"gorm.io/gorm"
)

// Completeness classes.
const (
	ClassComplete     = "complete"
	ClassSemiComplete = "semi-complete"
	ClassIncomplete   = "incomplete"
)

// Classification is the result of classifying one group.
type Classification struct {
	Class        string
	PresentSlots []int
	MissingSlots []int
}

// Classify reads the present slots for a group and classifies it against the
// expected slot count and the semi-complete floor. Placeholder slots count as
// present; they exist precisely to let a group reach the expected count.
func Classify(db *gorm.DB, groupKey string, expected, floor int) (*Classification, error) {
	if groupKey == "" {
		return nil, fmt.Errorf("assembler: groupKey is required")
	}
	if expected < 1 || floor < 0 || floor > expected {
		return nil, fmt.Errorf("assembler: invalid thresholds expected=%d floor=%d", expected, floor)
	}

	var files []models.IndexedFile
	if err := db.Where("group_key = ? AND present = ?", groupKey, true).
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("assembler: load group %s: %w", groupKey, err)
	}

	present := make(map[int]bool)
	for _, f := range files {
		if f.Slot >= 0 && f.Slot < expected {
			present[f.Slot] = true
		}
	}

	cls := &Classification{}
	for slot := 0; slot < expected; slot++ {
		if present[slot] {
			cls.PresentSlots = append(cls.PresentSlots, slot)
		} else {
			cls.MissingSlots = append(cls.MissingSlots, slot)
		}
	}
	sort.Ints(cls.PresentSlots)
	sort.Ints(cls.MissingSlots)

	switch c := len(cls.PresentSlots); {
	case c == expected:
		cls.Class = ClassComplete
	case c >= floor:
		cls.Class = ClassSemiComplete
	default:
		cls.Class = ClassIncomplete
	}
	return cls, nil
}

// Promote re-evaluates a group's eligibility and drives its queue item:
//
//   - complete: ensure an item exists and promote it to ready.
//   - semi-complete: synthesize placeholders for the missing slots, then
//     promote once the group actually reaches the expected count.
//   - incomplete: no new item; an existing ready item is demoted back to
//     pending (the group regressed before any worker claimed it). A claimed
//     item is left to finish.
//
// Returns the queue item, or nil if the group has none.
func Promote(db *gorm.DB, groupKey string, expected, floor int, placeholderDir string) (*models.QueueItem, error) {
	cls, err := Classify(db, groupKey, expected, floor)
	if err != nil {
		return nil, err
	}

	switch cls.Class {
	case ClassComplete:
		return promoteReady(db, groupKey)

	case ClassSemiComplete:
		if _, err := placeholder.Synthesize(db, placeholderDir, groupKey, cls.MissingSlots); err != nil {
			return nil, fmt.Errorf("assembler: synthesize %s: %w", groupKey, err)
		}
		// Re-classify: a slot whose placeholder failed keeps the group
		// semi-complete and unpromoted.
		after, err := Classify(db, groupKey, expected, floor)
		if err != nil {
			return nil, err
		}
		if after.Class != ClassComplete {
			return queue.Get(db, groupKey)
		}
		return promoteReady(db, groupKey)

	default:
		item, err := queue.Get(db, groupKey)
		if err != nil || item == nil {
			return item, err
		}
		if item.State == models.StateReady {
			if _, err := queue.Demote(db, groupKey); err != nil {
				return nil, err
			}
			return queue.Get(db, groupKey)
		}
		return item, nil
	}
}

func promoteReady(db *gorm.DB, groupKey string) (*models.QueueItem, error) {
	if _, err := queue.Enqueue(db, groupKey); err != nil {
		return nil, err
	}
	// MarkReady returning false means the item is already at or past ready;
	// both outcomes leave the queue correct.
	if _, err := queue.MarkReady(db, groupKey); err != nil {
		return nil, err
	}
	return queue.Get(db, groupKey)
}
