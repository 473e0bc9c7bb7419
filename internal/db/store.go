package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DBName is the filename of the single SQLite database file a cache
// directory holds (spec §4.2).
const DBName = "global.db"

// Store wraps the metadata store's single SQLite database: the settings,
// project, and cache tables.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dir/global.db. If an existing
// database has an incompatible schema, it is deleted and recreated, mirroring
// the "it may need to be cleared" recovery path the original cache takes on
// unexpected SQLAlchemy OperationalErrors.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, DBName)
	store, err := openDB(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") ||
			strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "SQL logic error") {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("%w: remove incompatible store: %v", ErrUnavailable, removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return store, nil
}

func openDB(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", ErrUnavailable, err)
	}

	escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
	connStr := "file:" + escapedPath + "?_time_format=sqlite"
	sdb, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrUnavailable, err)
	}

	if _, err := sdb.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("%w: enable WAL mode: %v", ErrUnavailable, err)
	}
	if _, err := sdb.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("%w: enable foreign keys: %v", ErrUnavailable, err)
	}
	if _, err := sdb.Exec(schemaSQL); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("%w: initialize schema: %v", ErrUnavailable, err)
	}

	return &Store{db: sdb}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn within a single transaction, committing on success and
// rolling back if fn returns an error. Every Store operation is implemented
// in terms of WithTx so each is its own transaction (spec §4.2).
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrUnavailable, err)
	}
	return nil
}

// Now returns the current time in UTC with the monotonic reading stripped,
// matching the precision SQLite's datetime functions expect.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
