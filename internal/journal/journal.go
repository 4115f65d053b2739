// Package journal persists detected file changes in SQLite.
//
// The journal is an audit trail, not part of the detection path: the daemon
// records every debounced change notification here so that "what changed
// while the application was running" can be answered after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS changes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    path            TEXT NOT NULL,
    detected_at_ns  INTEGER NOT NULL,
    checksum        BLOB NOT NULL,
    prev_checksum   BLOB,
    size            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_path ON changes(path, detected_at_ns);
CREATE INDEX IF NOT EXISTS idx_changes_detected ON changes(detected_at_ns);
`

// Change is one recorded change notification.
type Change struct {
	ID           int64
	Path         string
	DetectedAt   time.Time
	Checksum     []byte
	PrevChecksum []byte
	Size         int64
}

// Journal is a SQLite-backed change log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path and applies the
// schema.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record inserts one change and returns its row ID.
func (j *Journal) Record(c *Change) (int64, error) {
	res, err := j.db.Exec(`
		INSERT INTO changes (path, detected_at_ns, checksum, prev_checksum, size)
		VALUES (?, ?, ?, ?, ?)`,
		c.Path, c.DetectedAt.UnixNano(), c.Checksum, c.PrevChecksum, c.Size,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: record change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: record change: %w", err)
	}
	return id, nil
}

// History returns the most recent changes for path, newest first. limit <= 0
// means no limit.
func (j *Journal) History(path string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(`
		SELECT id, path, detected_at_ns, checksum, prev_checksum, size
		FROM changes WHERE path = ?
		ORDER BY detected_at_ns DESC LIMIT ?`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query history: %w", err)
	}
	return scanChanges(rows)
}

// Recent returns the most recent changes across all paths, newest first.
func (j *Journal) Recent(limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(`
		SELECT id, path, detected_at_ns, checksum, prev_checksum, size
		FROM changes
		ORDER BY detected_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	return scanChanges(rows)
}

// CountForPath returns how many changes are recorded for path.
func (j *Journal) CountForPath(path string) (int64, error) {
	var n int64
	err := j.db.QueryRow(`SELECT COUNT(*) FROM changes WHERE path = ?`, path).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: count changes: %w", err)
	}
	return n, nil
}

func scanChanges(rows *sql.Rows) ([]Change, error) {
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var ns int64
		if err := rows.Scan(&c.ID, &c.Path, &ns, &c.Checksum, &c.PrevChecksum, &c.Size); err != nil {
			return nil, fmt.Errorf("journal: scan change: %w", err)
		}
		c.DetectedAt = time.Unix(0, ns)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate changes: %w", err)
	}
	return changes, nil
}
