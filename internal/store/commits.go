package store

import (
	"context"
	"fmt"
	"time"
)

// CommitRow represents a row in the commits table.
type CommitRow struct {
	ID               string
	Node             int
	Body             int
	RootFrame        int
	Transform        [3]float64
	Frames           int
	Skipped          int
	SolverIterations int
	Unconverged      int
	Partial          bool
	Elapsed          time.Duration
	Error            string
	CreatedAt        time.Time
}

// RecordCommit inserts a finished commit.
func (db *DB) RecordCommit(ctx context.Context, c CommitRow) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO commits (id, node, body, root_frame, transform_x, transform_y, transform_z,
			frames, skipped, solver_iterations, unconverged, partial, elapsed_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Node, c.Body, c.RootFrame, c.Transform[0], c.Transform[1], c.Transform[2],
		c.Frames, c.Skipped,
		c.SolverIterations, c.Unconverged, c.Partial, c.Elapsed.Milliseconds(), c.Error, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: record commit: %w", err)
	}
	return nil
}

// ListCommits returns up to limit commits, newest first. A non-positive
// limit returns all of them.
func (db *DB) ListCommits(ctx context.Context, limit int) ([]CommitRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, node, body, root_frame, transform_x, transform_y, transform_z,
			frames, skipped, solver_iterations,
			unconverged, partial, elapsed_ms, error, created_at
		FROM commits
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list commits: %w", err)
	}
	defer rows.Close()

	var out []CommitRow
	for rows.Next() {
		var (
			c         CommitRow
			elapsedMS int64
		)
		if err := rows.Scan(&c.ID, &c.Node, &c.Body, &c.RootFrame,
			&c.Transform[0], &c.Transform[1], &c.Transform[2], &c.Frames, &c.Skipped,
			&c.SolverIterations, &c.Unconverged, &c.Partial, &elapsedMS, &c.Error, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}
