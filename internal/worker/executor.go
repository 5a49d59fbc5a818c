package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dsa110/contimg-ingest/internal/models"
	"gorm.io/gorm"
)

// Executor is the external conversion step. It receives the group key and the
// ordered slot paths (placeholders included) and returns the output location.
// The pipeline treats it as opaque: success or an error, nothing in between.
type Executor interface {
	Execute(ctx context.Context, groupKey string, paths []string) (string, error)
}

// stderrTail bounds how much executor output is kept for the error record.
const stderrTail = 2048

// CommandExecutor shells out to a configured conversion command. The group
// key, output path, and input file list are passed through the environment:
// CINGEST_GROUP_KEY, CINGEST_OUTPUT, and CINGEST_FILES (newline-separated).
type CommandExecutor struct {
	Command string
	OutDir  string
}

// Execute runs the command for one group and returns the conventional output
// location <out_dir>/<group_key>.ms.
func (e *CommandExecutor) Execute(ctx context.Context, groupKey string, paths []string) (string, error) {
	if e.Command == "" {
		return "", fmt.Errorf("worker: executor command is empty")
	}

	output := filepath.Join(e.OutDir, groupKey+".ms")
	cmd := exec.CommandContext(ctx, "sh", "-c", e.Command)
	cmd.Env = append(os.Environ(),
		"CINGEST_GROUP_KEY="+groupKey,
		"CINGEST_OUTPUT="+output,
		"CINGEST_FILES="+strings.Join(paths, "\n"),
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		return "", fmt.Errorf("worker: convert %s: %w: %s", groupKey, err, strings.TrimSpace(tail))
	}
	return output, nil
}

// SlotPaths resolves the ordered input list for a group: one path per slot,
// ascending, preferring a real file over a placeholder when both exist.
func SlotPaths(db *gorm.DB, groupKey string) ([]string, error) {
	var files []models.IndexedFile
	if err := db.Where("group_key = ? AND present = ?", groupKey, true).
		Order("slot ASC, is_placeholder ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("worker: slot paths for %s: %w", groupKey, err)
	}

	var paths []string
	lastSlot := -1
	for _, f := range files {
		if f.Slot == lastSlot {
			continue
		}
		paths = append(paths, f.Path)
		lastSlot = f.Slot
	}
	return paths, nil
}
