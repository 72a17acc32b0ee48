// Package audit persists a local, queryable record of every mutating
// memory-manager operation to SQLite, adapted from the same embedded-audit
// pattern the example pack uses for recording API calls.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded memory-manager operation.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Operation string // add, update, delete, bulk_add, add_relationship
	MemoryID  string
	Variant   string
	Success   bool
	Error     string
}

// Filter narrows a Query call.
type Filter struct {
	Operation string
	Variant   string
	Since     *time.Time
	Limit     int
}

// Log is the audit trail, backed by a local SQLite database.
type Log struct {
	db *sql.DB
}

// Open creates (if needed) the parent directory and the audit database at
// path, and ensures its schema exists.
func Open(path string) (*Log, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	l := &Log{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}
	return l, nil
}

func (l *Log) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		operation TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_memory_id ON audit_log(memory_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record appends one entry. A failure to record never aborts the operation
// it describes; callers log the error and continue.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, operation, memory_id, variant, success, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Operation, e.MemoryID, e.Variant, e.Success, e.Error,
	)
	return err
}

// Query returns recorded entries matching filter, most recent first.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := "SELECT id, timestamp, operation, memory_id, variant, success, error FROM audit_log WHERE 1=1"
	var args []any

	if filter.Operation != "" {
		query += " AND operation = ?"
		args = append(args, filter.Operation)
	}
	if filter.Variant != "" {
		query += " AND variant = ?"
		args = append(args, filter.Variant)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errStr sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Operation, &e.MemoryID, &e.Variant, &e.Success, &errStr); err != nil {
			return nil, err
		}
		e.Error = errStr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
