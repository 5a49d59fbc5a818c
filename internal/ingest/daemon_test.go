package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsa110/contimg-ingest/internal/config"
	"github.com/dsa110/contimg-ingest/internal/db"
	"github.com/dsa110/contimg-ingest/internal/indexer"
	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"github.com/dsa110/contimg-ingest/internal/subband"
	"github.com/dsa110/contimg-ingest/internal/worker"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DBConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "ingest.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

func testConfig(t *testing.T, inputDir string) *config.Config {
	t.Helper()
	yamlCfg := fmt.Sprintf(`
input_dir: %s
placeholder_dir: %s
executor:
  command: "true"
  out_dir: %s
`, inputDir, filepath.Join(inputDir, "placeholders"), t.TempDir())
	cfg, err := config.Parse([]byte(yamlCfg))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

// writeSlots creates real sub-band files for the given slots under dir.
func writeSlots(t *testing.T, dir, groupKey string, slots []int) {
	t.Helper()
	for _, slot := range slots {
		path := filepath.Join(dir, subband.Filename(groupKey, slot))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("sb%02d data", slot)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func slotRange(n int) []int {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = i
	}
	return slots
}

// A group two slots short of complete is brought to the floor with
// placeholders and promoted to ready.
func TestScanOnce_SemiCompletePromoted(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(14))

	if err := d.ScanOnce(true); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	item, err := queue.Get(gdb, key)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || item.State != models.StateReady {
		t.Fatalf("item = %+v, want ready", item)
	}

	for _, slot := range []int{14, 15} {
		ph := filepath.Join(cfg.PlaceholderDir, subband.PlaceholderFilename(key, slot))
		if _, err := os.Stat(ph); err != nil {
			t.Errorf("placeholder for slot %d missing: %v", slot, err)
		}
	}

	var present int64
	gdb.Model(&models.IndexedFile{}).
		Where("group_key = ? AND present = ?", key, true).Count(&present)
	if present != 16 {
		t.Errorf("present slots = %d, want 16", present)
	}
}

// A group below the semi-complete floor gets no queue item and no
// placeholders.
func TestScanOnce_IncompleteIgnored(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:46:35"
	writeSlots(t, dir, key, slotRange(10))

	if err := d.ScanOnce(true); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	item, err := queue.Get(gdb, key)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Errorf("item = %+v, want none", item)
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.PlaceholderDir, "*"+subband.PlaceholderSuffix))
	if len(matches) != 0 {
		t.Errorf("placeholders created for incomplete group: %v", matches)
	}
}

// A group that regresses below the floor before any worker claims it is
// demoted from ready back to pending by the next full scan.
func TestScanOnce_RegressionDemotes(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.PlaceholderDir = t.TempDir() // keep placeholders out of the scan root
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(16))
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}
	item, _ := queue.Get(gdb, key)
	if item == nil || item.State != models.StateReady {
		t.Fatalf("item = %+v, want ready", item)
	}

	for _, slot := range slotRange(8) {
		if err := os.Remove(filepath.Join(dir, subband.Filename(key, slot))); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}

	item, _ = queue.Get(gdb, key)
	if item == nil || item.State != models.StatePending {
		t.Errorf("item = %+v, want pending after regression", item)
	}
}

// Incremental scans never demote: deletions are only reconciled by full
// passes, so a partial pass over a shrunken directory leaves ready items
// alone.
func TestScanOnce_IncrementalNeverDemotes(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.PlaceholderDir = t.TempDir()
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(16))
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}

	for _, slot := range slotRange(8) {
		if err := os.Remove(filepath.Join(dir, subband.Filename(key, slot))); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.ScanOnce(false); err != nil {
		t.Fatal(err)
	}

	item, _ := queue.Get(gdb, key)
	if item == nil || item.State != models.StateReady {
		t.Errorf("item = %+v, want still ready after incremental scan", item)
	}
}

// Full path: scan finds a complete group, a worker claims and converts it,
// and the item lands completed with a durable event.
func TestDaemon_EndToEnd(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(16))
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := &worker.Pool{
		DB: gdb,
		Executor: &worker.CommandExecutor{
			Command: cfg.Executor.Command,
			OutDir:  cfg.Executor.OutDir,
		},
		Count:             1,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
		MaxRetries:        cfg.Queue.MaxRetries,
	}
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		item, err := queue.Get(gdb, key)
		if err != nil {
			t.Fatal(err)
		}
		if item != nil && item.State == models.StateCompleted {
			if item.OutputPath == "" {
				t.Errorf("completed item has no output path")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("item never completed: %+v", item)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	events, err := queue.EventsSince(gdb, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	var sawCompleted bool
	for _, ev := range events {
		if ev.GroupKey == key && ev.Type == models.EventCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("no completed event recorded")
	}
}

// A group fully indexed before the process died, with no queue item yet, must
// be promoted on restart even though the rescan reports every file unchanged.
func TestPromoteBacklog_RecoversUnqueuedGroup(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(16))

	// Index without promoting, as if the process died between the index
	// commit and the promotion loop.
	if _, err := indexer.Scan(gdb, dir, indexer.Options{Full: true}); err != nil {
		t.Fatal(err)
	}

	// A plain rescan sees nothing changed and leaves the group stranded.
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}
	item, err := queue.Get(gdb, key)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatalf("rescan alone promoted: %+v", item)
	}

	if err := d.promoteBacklog(); err != nil {
		t.Fatalf("promoteBacklog: %v", err)
	}
	item, err = queue.Get(gdb, key)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || item.State != models.StateReady {
		t.Fatalf("item = %+v, want ready after backlog sweep", item)
	}
}

// The backlog sweep never resurrects groups whose queue item is terminal.
func TestPromoteBacklog_LeavesTerminalGroups(t *testing.T) {
	gdb := testDB(t)
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	d := &Daemon{DB: gdb, Cfg: cfg}

	key := "2025-10-02T15:41:35"
	writeSlots(t, dir, key, slotRange(16))
	if err := d.ScanOnce(true); err != nil {
		t.Fatal(err)
	}

	claimed, err := queue.Claim(gdb, "w1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: (%+v, %v)", claimed, err)
	}
	if ok, err := queue.Complete(gdb, key, "w1", "/out/done.ms"); err != nil || !ok {
		t.Fatalf("complete: (%v, %v)", ok, err)
	}

	if err := d.promoteBacklog(); err != nil {
		t.Fatalf("promoteBacklog: %v", err)
	}
	item, err := queue.Get(gdb, key)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || item.State != models.StateCompleted {
		t.Errorf("item = %+v, want completed untouched", item)
	}
}
