package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/dsa110/contimg-ingest/internal/config"
	"github.com/dsa110/contimg-ingest/internal/models"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/var/lib/cingest/queue.db")
	if !strings.HasPrefix(dsn, "/var/lib/cingest/queue.db?") {
		t.Errorf("dsn = %q", dsn)
	}
	if !strings.Contains(dsn, "_journal_mode=WAL") || !strings.Contains(dsn, "_busy_timeout=10000") {
		t.Errorf("dsn missing pragmas: %q", dsn)
	}
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		cfg  config.DBConfig
		want string
	}{
		{
			config.DBConfig{Host: "127.0.0.1", Port: 3306, Database: "contimg_ingest"},
			"root@tcp(127.0.0.1:3306)/contimg_ingest?parseTime=true",
		},
		{
			config.DBConfig{Host: "db", Port: 3307, Database: "q", User: "ingest", Password: "s3cret"},
			"ingest:s3cret@tcp(db:3307)/q?parseTime=true",
		},
	}
	for _, tt := range tests {
		if got := MySQLDSN(tt.cfg); got != tt.want {
			t.Errorf("MySQLDSN = %q, want %q", got, tt.want)
		}
	}
}

func TestConnect_UnknownBackend(t *testing.T) {
	_, err := Connect(config.DBConfig{Backend: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("err = %v", err)
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := Connect(config.DBConfig{Backend: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}

	// Schema is usable for basic writes.
	item := models.QueueItem{GroupKey: "2025-10-02T15:41:35", State: models.StatePending}
	if err := gdb.Create(&item).Error; err != nil {
		t.Fatalf("create queue item: %v", err)
	}

	if err := Reset(gdb); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var count int64
	gdb.Model(&models.QueueItem{}).Count(&count)
	if count != 0 {
		t.Errorf("count after reset = %d", count)
	}
}
