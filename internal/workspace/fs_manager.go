package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/swage/internal/log"
)

// scratchPrefix marks directories owned by this manager. Cleanup only
// ever removes directories carrying it, so a shared base directory
// (the system temp dir) stays safe.
const scratchPrefix = "swage-"

// FSManager manages per-run scratch directories on local disk.
type FSManager struct {
	baseDir string
	now     func() time.Time
	logger  *slog.Logger
}

var _ Manager = (*FSManager)(nil)

// NewFSManager creates a filesystem-backed scratch manager rooted at
// baseDir. An empty baseDir falls back to the system temp directory.
func NewFSManager(baseDir string) (*FSManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = os.TempDir()
	}

	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return nil, fmt.Errorf("resolve scratch base directory: %w", err)
	}

	return &FSManager{
		baseDir: abs,
		now:     time.Now,
		logger:  log.WithComponent("workspace"),
	}, nil
}

// With runs fn inside a fresh scratch directory for runID. The
// directory is removed before With returns, on success, error and
// panic alike. A failed removal is logged with the leftover path but
// never fails the run.
func (m *FSManager) With(ctx context.Context, runID string, fn func(Workspace) error) error {
	ws, err := m.create(ctx, runID)
	if err != nil {
		return err
	}

	defer func() {
		if removeErr := os.RemoveAll(ws.Dir); removeErr != nil {
			m.logger.Warn("Scratch directory not removed", "dir", ws.Dir, "error", removeErr)
		}
	}()

	return fn(ws)
}

// create initializes a fresh scratch directory for runID. Every call
// yields a distinct directory, so repeated executions of the same
// selection never see each other's files.
func (m *FSManager) create(ctx context.Context, runID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if err := validateRunID(runID); err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create scratch base directory: %w", err)
	}

	dir, err := os.MkdirTemp(m.baseDir, scratchPrefix+runID+"-")
	if err != nil {
		return Workspace{}, fmt.Errorf("create scratch directory for run %q: %w", runID, err)
	}

	return Workspace{RunID: runID, Dir: dir}, nil
}

// Cleanup removes scratch directories older than olderThan based on
// directory modification time. Directories without the manager's prefix
// are never touched.
func (m *FSManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read scratch base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), scratchPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read scratch entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove scratch directory %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func validateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return fmt.Errorf("runID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("runID %q must not contain path separators", runID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	return nil
}
