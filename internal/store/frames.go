package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

const metaSourceKey = "source_checksum"

// LoadFrames returns every stored frame ordered by frame number. Frame
// numbers must be contiguous from 0; a gap is reported as an error.
func (db *DB) LoadFrames(ctx context.Context) ([][]float64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT frame, qpos FROM frames ORDER BY frame`)
	if err != nil {
		return nil, fmt.Errorf("store: load frames: %w", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		var (
			frame int
			raw   string
		)
		if err := rows.Scan(&frame, &raw); err != nil {
			return nil, err
		}
		if frame != len(out) {
			return nil, fmt.Errorf("store: frame %d missing", len(out))
		}
		var q []float64
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("store: decode frame %d: %w", frame, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// FrameCount returns the number of stored frames.
func (db *DB) FrameCount(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count frames: %w", err)
	}
	return n, nil
}

// ReplaceFrames drops all stored frames and writes frames in their place,
// recording source as the checksum of the input they came from.
func (db *DB) ReplaceFrames(ctx context.Context, frames [][]float64, source string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM frames`); err != nil {
		return fmt.Errorf("store: clear frames: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames (frame, qpos) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare frame insert: %w", err)
	}
	defer stmt.Close()
	for i, q := range frames {
		raw, _ := json.Marshal(q)
		if _, err := stmt.ExecContext(ctx, i, string(raw)); err != nil {
			return fmt.Errorf("store: insert frame %d: %w", i, err)
		}
	}
	if err := setMeta(ctx, tx, metaSourceKey, source); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveFrames upserts the given frames in one transaction.
func (db *DB) SaveFrames(ctx context.Context, frames map[int][]float64) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (frame, qpos, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(frame) DO UPDATE SET
			qpos       = excluded.qpos,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("store: prepare frame upsert: %w", err)
	}
	defer stmt.Close()

	keys := make([]int, 0, len(frames))
	for k := range frames {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		raw, _ := json.Marshal(frames[k])
		if _, err := stmt.ExecContext(ctx, k, string(raw)); err != nil {
			return fmt.Errorf("store: upsert frame %d: %w", k, err)
		}
	}
	return tx.Commit()
}

// ClearFrames removes every stored frame and the source checksum.
func (db *DB) ClearFrames(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.ExecContext(ctx, `DELETE FROM frames`)
	_, _ = tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, metaSourceKey)
	return tx.Commit()
}

// SourceChecksum returns the checksum recorded by the last ReplaceFrames,
// or an empty string if none was recorded.
func (db *DB) SourceChecksum(ctx context.Context) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSourceKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: source checksum: %w", err)
	}
	return v, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}
