package workspace

import (
	"context"
	"path/filepath"
	"time"
)

// Workspace is the scratch directory backing one pipeline execution.
// Steps exchange data through the tracker, not through this directory;
// it only holds files the orchestrator itself materializes for a run
// (serialized hyperparameter blocks, runner scratch space).
type Workspace struct {
	RunID string
	Dir   string
}

// Join builds an absolute path for a file inside the workspace.
func (w Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// CleanupReport summarizes a cleanup sweep.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs scratch directory lifecycle for pipeline executions.
type Manager interface {
	// With creates a fresh workspace for runID, calls fn with it, and
	// removes the directory on every exit path, including panics. A
	// removal failure is logged, never returned: teardown problems must
	// not mask or override the run's own outcome.
	With(ctx context.Context, runID string, fn func(Workspace) error) error

	// Cleanup removes leftover workspaces older than olderThan. Only
	// directories this manager created are touched.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
