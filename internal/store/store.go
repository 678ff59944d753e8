package store

import "context"

// Repository defines the persistence operations used by the editing session.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Repository interface {
	LoadFrames(ctx context.Context) ([][]float64, error)
	SaveFrames(ctx context.Context, frames map[int][]float64) error
	ClearFrames(ctx context.Context) error
	RecordCommit(ctx context.Context, c CommitRow) error
	ListCommits(ctx context.Context, limit int) ([]CommitRow, error)
	Ping() error
	Close() error
}

// Verify *DB satisfies Repository at compile time.
var _ Repository = (*DB)(nil)
