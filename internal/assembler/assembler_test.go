package assembler

import (
	"testing"

	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	groupA   = "2025-10-02T15:41:35"
	expected = 16
	floor    = 12
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.IndexedFile{}, &models.QueueItem{}, &models.QueueEvent{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// addSlots inserts present index rows for the given slots of a group.
func addSlots(t *testing.T, db *gorm.DB, groupKey string, slots ...int) {
	t.Helper()
	for _, slot := range slots {
		rec := models.IndexedFile{
			Path:     groupKey + "/" + string(rune('a'+slot)) + ".hdf5",
			GroupKey: groupKey,
			Slot:     slot,
			Present:  true,
		}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("create slot %d: %v", slot, err)
		}
	}
}

func slotRange(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestClassify_Monotonic(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  string
	}{
		{"all sixteen", 16, ClassComplete},
		{"fourteen", 14, ClassSemiComplete},
		{"at floor", 12, ClassSemiComplete},
		{"below floor", 11, ClassIncomplete},
		{"empty", 0, ClassIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			addSlots(t, db, groupA, slotRange(tt.count)...)

			cls, err := Classify(db, groupA, expected, floor)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if cls.Class != tt.want {
				t.Errorf("class = %q, want %q", cls.Class, tt.want)
			}
			if len(cls.PresentSlots) != tt.count {
				t.Errorf("present = %d, want %d", len(cls.PresentSlots), tt.count)
			}
			if len(cls.MissingSlots) != expected-tt.count {
				t.Errorf("missing = %d, want %d", len(cls.MissingSlots), expected-tt.count)
			}
		})
	}
}

func TestClassify_DuplicateSlotCountsOnce(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(11)...)
	// Second copy of slot 0 under a different path.
	db.Create(&models.IndexedFile{
		Path: "/elsewhere/copy_sb00.hdf5", GroupKey: groupA, Slot: 0, Present: true,
	})

	cls, err := Classify(db, groupA, expected, floor)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(cls.PresentSlots) != 11 || cls.Class != ClassIncomplete {
		t.Errorf("cls = %+v, want 11 distinct present slots", cls)
	}
}

func TestClassify_AbsentFilesIgnored(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(16)...)
	db.Model(&models.IndexedFile{}).
		Where("group_key = ? AND slot < ?", groupA, 5).
		Update("present", false)

	cls, err := Classify(db, groupA, expected, floor)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(cls.PresentSlots) != 11 || cls.Class != ClassIncomplete {
		t.Errorf("cls = %+v", cls)
	}
}

// Scenario: 14 of 16 slots arrive. The group is semi-complete, placeholders
// fill slots 14 and 15, and the item is promoted to ready.
func TestPromote_SemiComplete(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	addSlots(t, db, groupA, slotRange(14)...)

	item, err := Promote(db, groupA, expected, floor, dir)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if item == nil || item.State != models.StateReady {
		t.Fatalf("item = %+v, want ready", item)
	}

	var placeholders []models.IndexedFile
	db.Where("group_key = ? AND is_placeholder = ?", groupA, true).Find(&placeholders)
	if len(placeholders) != 2 {
		t.Fatalf("placeholders = %d, want 2", len(placeholders))
	}
	got := map[int]bool{}
	for _, p := range placeholders {
		got[p.Slot] = true
	}
	if !got[14] || !got[15] {
		t.Errorf("placeholder slots = %v, want 14 and 15", got)
	}
}

// Scenario: only 10 of 16 slots arrive. The group is incomplete and no queue
// item is created.
func TestPromote_IncompleteStaysAbsent(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(10)...)

	item, err := Promote(db, groupA, expected, floor, t.TempDir())
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if item != nil {
		t.Errorf("item = %+v, want none", item)
	}

	var count int64
	db.Model(&models.QueueItem{}).Count(&count)
	if count != 0 {
		t.Errorf("queue items = %d, want 0", count)
	}

	var placeholders int64
	db.Model(&models.IndexedFile{}).Where("is_placeholder = ?", true).Count(&placeholders)
	if placeholders != 0 {
		t.Errorf("placeholders = %d, want 0 for incomplete group", placeholders)
	}
}

func TestPromote_Complete(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(16)...)

	item, err := Promote(db, groupA, expected, floor, t.TempDir())
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if item == nil || item.State != models.StateReady {
		t.Fatalf("item = %+v, want ready", item)
	}

	// Re-promotion is a no-op.
	again, err := Promote(db, groupA, expected, floor, t.TempDir())
	if err != nil {
		t.Fatalf("re-Promote: %v", err)
	}
	if again.State != models.StateReady {
		t.Errorf("state after re-promote = %q", again.State)
	}
}

// A group that regresses below the floor before being claimed is demoted back
// to pending; a claimed group is left to finish.
func TestPromote_Regression(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(16)...)
	if _, err := Promote(db, groupA, expected, floor, t.TempDir()); err != nil {
		t.Fatal(err)
	}

	// Files vanish: 16 -> 10 present.
	db.Model(&models.IndexedFile{}).
		Where("group_key = ? AND slot >= ?", groupA, 10).
		Update("present", false)

	item, err := Promote(db, groupA, expected, floor, t.TempDir())
	if err != nil {
		t.Fatalf("Promote after regression: %v", err)
	}
	if item == nil || item.State != models.StatePending {
		t.Fatalf("item = %+v, want demoted to pending", item)
	}
}

func TestPromote_ClaimedLeftAlone(t *testing.T) {
	db := testDB(t)
	addSlots(t, db, groupA, slotRange(16)...)
	if _, err := Promote(db, groupA, expected, floor, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	claimed, err := queue.Claim(db, "w1")
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}

	db.Model(&models.IndexedFile{}).
		Where("group_key = ?", groupA).
		Update("present", false)

	item, err := Promote(db, groupA, expected, floor, t.TempDir())
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if item == nil || item.State != models.StateClaimed || item.ClaimOwner != "w1" {
		t.Errorf("item = %+v, want untouched claim", item)
	}
}

func TestClassify_Validation(t *testing.T) {
	db := testDB(t)
	if _, err := Classify(db, "", expected, floor); err == nil {
		t.Error("expected error for empty group key")
	}
	if _, err := Classify(db, groupA, 0, 0); err == nil {
		t.Error("expected error for zero expected count")
	}
	if _, err := Classify(db, groupA, 16, 17); err == nil {
		t.Error("expected error for floor above expected")
	}
}
