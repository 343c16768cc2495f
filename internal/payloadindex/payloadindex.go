// Package payloadindex stores metadata about every binary/text export
// realized through output redirection: job id, sink path, byte length,
// content-format, and timestamp. It is a read path on top of files the
// job sink already wrote, so it never holds payload bytes itself, only
// facts about where they went.
package payloadindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one realized export
type Record struct {
	ID            int64
	JobID         uint64
	SinkPath      string
	ByteLength    int64
	ContentFormat string
	CreatedAt     time.Time
}

// Index wraps a single-connection SQLite database recording export
// metadata. SQLite is opened with a single connection: this index is
// written from one goroutine (the event loop) and concurrent writers
// would only fight over file locks.
type Index struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path and ensures its
// schema exists.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("payloadindex: create directory: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("payloadindex: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initSchema(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id INTEGER NOT NULL,
			sink_path TEXT NOT NULL,
			byte_length INTEGER NOT NULL,
			content_format TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`)
	return err
}

// Record inserts one export metadata row.
func (idx *Index) Record(ctx context.Context, r Record) (int64, error) {
	res, err := idx.db.ExecContext(ctx,
		`INSERT INTO exports (job_id, sink_path, byte_length, content_format, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.JobID, r.SinkPath, r.ByteLength, r.ContentFormat, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("payloadindex: insert: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit most recent export records, newest first.
func (idx *Index) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, job_id, sink_path, byte_length, content_format, created_at
		 FROM exports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("payloadindex: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.JobID, &r.SinkPath, &r.ByteLength, &r.ContentFormat, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("payloadindex: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
