// Package store persists veto job runs and per-event outcomes.
package store

import (
	"context"

	"github.com/sells-group/jetveto/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Era    string          `json:"era,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for veto jobs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, summary model.Summary, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Files and events
	RecordEvents(ctx context.Context, runID string, rows []model.EventRow) error
	FinishFile(ctx context.Context, runID string, stats model.FileStats) error
	ListFiles(ctx context.Context, runID string) ([]model.FileStats, error)
	ListEvents(ctx context.Context, runID, file string) ([]model.EventRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
