// Package indexer discovers sub-band input files and maintains the durable
// file index. The index is append-only: rows flip Present rather than being
// deleted, so the history of every observed file survives re-scans.
package indexer

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/subband"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fingerprintCap bounds how much of each file is hashed. Sub-band files are
// written once and never rewritten in place, so a capped prefix plus the file
// size is a stable identity.
const fingerprintCap = 1 << 20

// Options controls a scan pass.
type Options struct {
	// Full marks the scan as exhaustive: previously-present files under the
	// root that the walk did not see are marked absent. Partial scans
	// (MaxFiles > 0) never infer deletion from absence.
	Full bool
	// MaxFiles caps the number of files visited. Zero means unlimited.
	MaxFiles int
	// ClusterTolerance merges files whose filename timestamps fall within
	// this window into one group. Zero disables clustering.
	ClusterTolerance time.Duration
}

// Result summarizes one scan pass.
type Result struct {
	Scanned int
	New     int
	Updated int
	Skipped int
	Removed int
	Errors  int
	// Touched lists group keys whose membership changed this pass, for the
	// assembler to re-classify.
	Touched []string
}

// Scan walks root for sub-band files and reconciles them against the index.
// Individual unreadable files are recorded with an error annotation and do
// not fail the batch.
func Scan(db *gorm.DB, root string, opts Options) (*Result, error) {
	if root == "" {
		return nil, fmt.Errorf("indexer: root is required")
	}

	existing, err := loadExisting(db)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	touched := make(map[string]bool)
	seen := make(map[string]bool)
	capped := false

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("indexer: walk %s: %v", path, err)
			res.Errors++
			return nil
		}
		if d.IsDir() || !subband.IsSubbandFile(d.Name()) {
			return nil
		}
		if opts.MaxFiles > 0 && res.Scanned >= opts.MaxFiles {
			capped = true
			return fs.SkipAll
		}
		res.Scanned++

		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		seen[abs] = true

		groupKey, touchedKey, err := indexOne(db, abs, d, existing, res, opts.ClusterTolerance)
		if err != nil {
			log.Printf("indexer: %s: %v", abs, err)
			res.Errors++
			return nil
		}
		if touchedKey {
			touched[groupKey] = true
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("indexer: walk %s: %w", root, walkErr)
	}

	// Deletion is inferred only from an exhaustive walk. A capped or partial
	// scan not seeing a file says nothing about whether it is gone.
	if opts.Full && !capped {
		removed, err := reconcileAbsent(db, root, existing, seen, touched)
		if err != nil {
			return nil, err
		}
		res.Removed = removed
	}

	for key := range touched {
		res.Touched = append(res.Touched, key)
	}
	sort.Strings(res.Touched)
	return res, nil
}

// indexOne upserts a single discovered file. It reports the group key and
// whether group membership changed.
func indexOne(db *gorm.DB, abs string, d fs.DirEntry, existing map[string]models.IndexedFile, res *Result, tolerance time.Duration) (string, bool, error) {
	groupKey, slot, ok := subband.ParseFilename(d.Name())
	if !ok {
		return "", false, fmt.Errorf("unparseable sub-band name")
	}
	groupKey, err := subband.NormalizeGroupKey(groupKey)
	if err != nil {
		return "", false, err
	}

	// A known file keeps its recorded group; cluster resolution happens
	// once, on first sight, so groups never reshuffle between scans.
	prev, known := existing[abs]
	if known {
		groupKey = prev.GroupKey
	} else if tolerance > 0 {
		groupKey, err = resolveGroup(db, groupKey, tolerance)
		if err != nil {
			return "", false, err
		}
	}

	info, err := d.Info()
	if err != nil {
		// File vanished or is unreadable mid-scan: record the failure
		// rather than dropping it silently.
		upsertErr := upsert(db, models.IndexedFile{
			Path: abs, GroupKey: groupKey, Slot: slot,
			Present: false, Error: err.Error(),
			IsPlaceholder: subband.IsPlaceholderName(d.Name()),
		})
		if upsertErr != nil {
			return groupKey, false, upsertErr
		}
		res.Errors++
		return groupKey, true, nil
	}

	if known && prev.Present && prev.Size == info.Size() && prev.ModTime.Equal(info.ModTime()) {
		res.Skipped++
		return groupKey, false, nil
	}

	fp, err := Fingerprint(abs, info.Size())
	if err != nil {
		upsertErr := upsert(db, models.IndexedFile{
			Path: abs, GroupKey: groupKey, Slot: slot,
			Present: false, Error: err.Error(),
			IsPlaceholder: subband.IsPlaceholderName(d.Name()),
		})
		if upsertErr != nil {
			return groupKey, false, upsertErr
		}
		res.Errors++
		return groupKey, true, nil
	}

	rec := models.IndexedFile{
		Path:          abs,
		GroupKey:      groupKey,
		Slot:          slot,
		Fingerprint:   fp,
		Size:          info.Size(),
		ModTime:       info.ModTime(),
		Present:       true,
		IsPlaceholder: subband.IsPlaceholderName(d.Name()),
	}
	if err := upsert(db, rec); err != nil {
		return groupKey, false, err
	}

	if known {
		res.Updated++
		// A refreshed-but-unchanged-membership file only matters to the
		// assembler if it was previously absent.
		return groupKey, !prev.Present, nil
	}
	res.New++
	return groupKey, true, nil
}

// MarkRemoved flips a file's Present flag to false. The row is kept.
func MarkRemoved(db *gorm.DB, path string) error {
	result := db.Model(&models.IndexedFile{}).Where("path = ?", path).
		Update("present", false)
	if result.Error != nil {
		return fmt.Errorf("indexer: mark removed %s: %w", path, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("indexer: mark removed %s: not indexed", path)
	}
	return nil
}

// Fingerprint hashes the first fingerprintCap bytes of the file together with
// its size and returns a hex digest.
func Fingerprint(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("indexer: open for fingerprint: %w", err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintCap)); err != nil {
		return "", fmt.Errorf("indexer: fingerprint read: %w", err)
	}
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(size))
	h.Write(sz[:])
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// loadExisting reads the current index into memory so the walk can detect
// unchanged files without a per-file query.
func loadExisting(db *gorm.DB) (map[string]models.IndexedFile, error) {
	var rows []models.IndexedFile
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: load index: %w", err)
	}
	m := make(map[string]models.IndexedFile, len(rows))
	for _, r := range rows {
		m[r.Path] = r
	}
	return m, nil
}

// reconcileAbsent marks previously-present files under root that the walk did
// not see as absent.
func reconcileAbsent(db *gorm.DB, root string, existing map[string]models.IndexedFile, seen map[string]bool, touched map[string]bool) (int, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	prefix := absRoot + string(filepath.Separator)

	removed := 0
	for path, rec := range existing {
		if !rec.Present || seen[path] {
			continue
		}
		if path != absRoot && !strings.HasPrefix(path, prefix) {
			// Outside this scan's root; says nothing about the file.
			continue
		}
		if err := MarkRemoved(db, path); err != nil {
			return removed, err
		}
		removed++
		touched[rec.GroupKey] = true
	}
	return removed, nil
}

func upsert(db *gorm.DB, rec models.IndexedFile) error {
	rec.UpdatedAt = time.Now()
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"group_key", "slot", "fingerprint", "size", "mod_time",
			"present", "is_placeholder", "error", "updated_at",
		}),
	}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("indexer: upsert %s: %w", rec.Path, result.Error)
	}
	return nil
}
