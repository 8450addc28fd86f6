package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("build not found")

// Build status values.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusDryRun    = "dry_run"
)

// Build is one ledger row: a single attempt to patch a document.
type Build struct {
	RunID        string
	Family       string
	Document     string
	Output       string
	DocumentHash string
	OutputHash   string
	Approved     []int
	Status       string
	ErrorClass   string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Changes      []Change
}

// Change is one applied patch record of a build.
type Change struct {
	Num      int
	Op       string
	Section  string
	Index    int
	Inserted int
	Removed  int
}

// Ledger persists build attempts, successful or not.
type Ledger interface {
	// RecordBuild upserts a build and replaces its change rows.
	RecordBuild(ctx context.Context, b *Build) error

	// ListBuilds returns the most recent builds first, without their changes.
	ListBuilds(ctx context.Context, limit int) ([]Build, error)

	// GetBuild loads one build with its changes.
	GetBuild(ctx context.Context, runID string) (*Build, error)

	Close() error
}
