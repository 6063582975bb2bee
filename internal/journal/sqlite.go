package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Use modernc.org/sqlite for pure Go SQLite (CGO-free)
)

// SQLiteStore implements Store with a SQLite backend.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	retain int
}

// NewSQLiteStore opens (or creates) a SQLite journal at path, keeping at
// most retain records.
func NewSQLiteStore(path string, retain int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite journal requires a path")
	}
	if retain <= 0 {
		retain = 10000
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path, retain: retain}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time INTEGER NOT NULL,
		kind TEXT NOT NULL,
		allocation_id TEXT,
		component TEXT,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_time ON records(time);
	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (time, kind, allocation_id, component, detail) VALUES (?, ?, ?, ?, ?)`,
		rec.Time.UnixMilli(), string(rec.Kind), rec.AllocationID, rec.Component, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	// Older records beyond the retention limit are pruned opportunistically.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM records WHERE id NOT IN (SELECT id FROM records ORDER BY id DESC LIMIT ?)`,
		s.retain,
	)
	if err != nil {
		return fmt.Errorf("failed to prune records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.retain
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time, kind, allocation_id, component, detail FROM records ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var kind string
		if err := rows.Scan(&rec.ID, &ts, &kind, &rec.AllocationID, &rec.Component, &rec.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Time = time.UnixMilli(ts)
		rec.Kind = Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
