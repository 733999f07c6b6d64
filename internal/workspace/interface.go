package workspace

import (
	"context"
	"time"
)

// Workspace is the scratch directory one service run executes in.
type Workspace struct {
	RunID string
	Dir   string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs run workspace lifecycle.
type Manager interface {
	// Create initializes a new workspace for runID.
	Create(ctx context.Context, runID string) (Workspace, error)

	// Open resolves an existing workspace for runID.
	Open(ctx context.Context, runID string) (Workspace, error)

	// Remove deletes runID's workspace. Missing workspaces are not an error.
	Remove(ctx context.Context, runID string) error

	// Cleanup removes stale workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
