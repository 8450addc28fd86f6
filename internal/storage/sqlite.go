package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS builds (
			run_id TEXT PRIMARY KEY,
			family TEXT,
			document TEXT,
			output TEXT,
			document_hash TEXT,
			output_hash TEXT,
			approved JSON,
			status TEXT,
			error_class TEXT,
			error TEXT,
			started_at TEXT,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS build_changes (
			run_id TEXT,
			num INTEGER,
			op TEXT,
			section TEXT,
			idx INTEGER,
			inserted INTEGER,
			removed INTEGER,
			PRIMARY KEY (run_id, num)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) RecordBuild(ctx context.Context, b *Build) error {
	if b == nil || b.RunID == "" {
		return fmt.Errorf("build run id is required")
	}
	approved, err := json.Marshal(nonNil(b.Approved))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO builds (run_id, family, document, output, document_hash, output_hash, approved, status, error_class, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			family=excluded.family,
			document=excluded.document,
			output=excluded.output,
			document_hash=excluded.document_hash,
			output_hash=excluded.output_hash,
			approved=excluded.approved,
			status=excluded.status,
			error_class=excluded.error_class,
			error=excluded.error,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at
	`, b.RunID, b.Family, b.Document, b.Output, b.DocumentHash, b.OutputHash, string(approved),
		b.Status, b.ErrorClass, b.Error, formatTime(b.StartedAt), formatTime(b.FinishedAt)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM build_changes WHERE run_id = ?`, b.RunID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO build_changes (run_id, num, op, section, idx, inserted, removed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range b.Changes {
		if _, err := stmt.ExecContext(ctx, b.RunID, c.Num, c.Op, c.Section, c.Index, c.Inserted, c.Removed); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const buildColumns = `run_id, family, document, output, document_hash, output_hash, approved, status, error_class, error, started_at, finished_at`

func (s *SQLiteStore) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetBuild(ctx context.Context, runID string) (*Build, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE run_id = ?`, runID)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT num, op, section, idx, inserted, removed
		FROM build_changes WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Num, &c.Op, &c.Section, &c.Index, &c.Inserted, &c.Removed); err != nil {
			return nil, err
		}
		b.Changes = append(b.Changes, c)
	}
	return b, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(r rowScanner) (*Build, error) {
	var (
		b                 Build
		approved          string
		started, finished string
	)
	if err := r.Scan(&b.RunID, &b.Family, &b.Document, &b.Output, &b.DocumentHash, &b.OutputHash,
		&approved, &b.Status, &b.ErrorClass, &b.Error, &started, &finished); err != nil {
		return nil, err
	}
	if approved != "" {
		if err := json.Unmarshal([]byte(approved), &b.Approved); err != nil {
			return nil, fmt.Errorf("decode approved numbers for %s: %w", b.RunID, err)
		}
	}
	b.StartedAt = parseTime(started)
	b.FinishedAt = parseTime(finished)
	return &b, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(nums []int) []int {
	if nums == nil {
		return []int{}
	}
	return nums
}
