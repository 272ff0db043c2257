package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sha1n/mcp-fileindex-server/internal/domain"
)

// migrations are applied in order; the index of a statement is its schema version minus one.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS changes (
		position   INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL,
		op         TEXT NOT NULL,
		changed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		path     TEXT PRIMARY KEY,
		metadata TEXT NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_position ON records(position)`,
}

const (
	opPut    = "put"
	opDelete = "delete"
)

// SQLiteStore is a file metadata store backed by an append-only SQLite change log.
// Every Put and Remove appends a change; the change's row id is its position.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ domain.Accessor = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the change log database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// WAL keeps readers (index rebuilds) from blocking the write path
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// migrate applies pending schema migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %d: %w", version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
	}

	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put stores or replaces the metadata for path and returns the position of the change.
func (s *SQLiteStore) Put(ctx context.Context, path string, metadata domain.Metadata) (domain.Position, error) {
	if path == "" {
		return 0, errors.New("path cannot be empty")
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshalling metadata: %w", err)
	}

	var pos domain.Position
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := appendChange(ctx, tx, path, opPut)
		if err != nil {
			return err
		}
		pos = p
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (path, metadata, position) VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET metadata = excluded.metadata, position = excluded.position
		`, path, string(data), int64(p))
		if err != nil {
			return fmt.Errorf("upserting record: %w", err)
		}
		return nil
	})
	return pos, err
}

// Remove deletes the record for path and returns the position of the change.
// Removing an unknown path still appends a change.
func (s *SQLiteStore) Remove(ctx context.Context, path string) (domain.Position, error) {
	var pos domain.Position
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := appendChange(ctx, tx, path, opDelete)
		if err != nil {
			return err
		}
		pos = p
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE path = ?", path); err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}
		return nil
	})
	return pos, err
}

// GetLastPosition returns the position of the most recent change, or 0 for an empty log.
func (s *SQLiteStore) GetLastPosition(ctx context.Context) (domain.Position, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) FROM changes").Scan(&last); err != nil {
		return 0, fmt.Errorf("reading last position: %w", err)
	}
	return domain.Position(last), nil
}

// GetRecordsAfter returns live records changed after the given position.
func (s *SQLiteStore) GetRecordsAfter(ctx context.Context, after domain.Position, maxCount int) ([]domain.Record, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, metadata, position FROM records
		WHERE position > ?
		ORDER BY position
		LIMIT ?
	`, int64(after), maxCount)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var (
			path string
			data string
			pos  int64
		)
		if err := rows.Scan(&path, &data, &pos); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		var metadata domain.Metadata
		if err := json.Unmarshal([]byte(data), &metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", path, err)
		}
		records = append(records, domain.Record{
			Path:     path,
			Metadata: metadata,
			Position: domain.Position(pos),
		})
	}

	return records, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func appendChange(ctx context.Context, tx *sql.Tx, path, op string) (domain.Position, error) {
	res, err := tx.ExecContext(ctx, "INSERT INTO changes (path, op) VALUES (?, ?)", path, op)
	if err != nil {
		return 0, fmt.Errorf("appending change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading change position: %w", err)
	}
	return domain.Position(id), nil
}
