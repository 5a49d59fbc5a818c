package placeholder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.IndexedFile{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestSynthesize(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()

	rows, err := Synthesize(db, dir, "2025-10-02T15:41:35", []int{14, 15})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	for _, r := range rows {
		if !r.IsPlaceholder || !r.Present {
			t.Errorf("row %+v: want placeholder and present", r)
		}
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("marker file missing: %v", err)
		}
	}

	want := filepath.Join(dir, "2025-10-02T15:41:35_sb14.placeholder.hdf5")
	var rec models.IndexedFile
	if err := db.First(&rec, "path = ?", want).Error; err != nil {
		t.Errorf("expected row at %s: %v", want, err)
	}
	if rec.Slot != 14 {
		t.Errorf("Slot = %d, want 14", rec.Slot)
	}
}

// Re-running synthesis for the same missing set must not create duplicates.
func TestSynthesize_Idempotent(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()

	if _, err := Synthesize(db, dir, "2025-10-02T15:41:35", []int{3}); err != nil {
		t.Fatalf("first Synthesize: %v", err)
	}
	if _, err := Synthesize(db, dir, "2025-10-02T15:41:35", []int{3}); err != nil {
		t.Fatalf("second Synthesize: %v", err)
	}

	var count int64
	db.Model(&models.IndexedFile{}).
		Where("group_key = ? AND slot = ?", "2025-10-02T15:41:35", 3).
		Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("marker files = %d, want 1", len(entries))
	}
}

func TestSynthesize_EmptyMissing(t *testing.T) {
	db := testDB(t)
	rows, err := Synthesize(db, t.TempDir(), "2025-10-02T15:41:35", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestSynthesize_Validation(t *testing.T) {
	db := testDB(t)
	if _, err := Synthesize(db, "", "2025-10-02T15:41:35", []int{1}); err == nil {
		t.Error("expected error for empty dir")
	}
	if _, err := Synthesize(db, t.TempDir(), "", []int{1}); err == nil {
		t.Error("expected error for empty group key")
	}
}
