// Package store persists the library snapshot and processing markers
// in a per-server SQLite database so restarts do not replay old events.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot (
	item_key  TEXT PRIMARY KEY,
	part_keys TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS markers (
	kind     TEXT NOT NULL,
	item_key TEXT NOT NULL,
	marker   INTEGER NOT NULL,
	PRIMARY KEY (kind, item_key)
);
`

// partKeySeparator joins a part key list into a single column. Part
// keys are server paths and never contain a newline.
const partKeySeparator = "\n"

// Store is a SQLite-backed snapshot store. Writes are serialized; the
// engine only writes from the dispatcher and scheduler goroutines.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the database for the given server under
// dataDir. One file is kept per server machine identifier.
func Open(dataDir, machineID string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, machineID+".db")
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	log.Debug().Str("path", path).Msg("Cache database opened")
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSnapshot returns the persisted item -> part keys snapshot.
func (s *Store) LoadSnapshot() (map[string][]string, error) {
	rows, err := s.db.Query("SELECT item_key, part_keys FROM snapshot")
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string][]string)
	for rows.Next() {
		var itemKey, partKeys string
		if err := rows.Scan(&itemKey, &partKeys); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if partKeys == "" {
			snapshot[itemKey] = nil
			continue
		}
		snapshot[itemKey] = strings.Split(partKeys, partKeySeparator)
	}
	return snapshot, rows.Err()
}

// SaveSnapshot replaces the persisted snapshot.
func (s *Store) SaveSnapshot(snapshot map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM snapshot"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO snapshot (item_key, part_keys) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for itemKey, partKeys := range snapshot {
		if _, err := stmt.Exec(itemKey, strings.Join(partKeys, partKeySeparator)); err != nil {
			return fmt.Errorf("failed to insert snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadMarkers returns all persisted markers of one kind.
func (s *Store) LoadMarkers(kind string) (map[string]int64, error) {
	rows, err := s.db.Query("SELECT item_key, marker FROM markers WHERE kind = ?", kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load markers: %w", err)
	}
	defer rows.Close()

	markers := make(map[string]int64)
	for rows.Next() {
		var itemKey string
		var marker int64
		if err := rows.Scan(&itemKey, &marker); err != nil {
			return nil, fmt.Errorf("failed to scan marker row: %w", err)
		}
		markers[itemKey] = marker
	}
	return markers, rows.Err()
}

// SaveMarker upserts one marker.
func (s *Store) SaveMarker(kind string, key string, marker int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO markers (kind, item_key, marker) VALUES (?, ?, ?) "+
			"ON CONFLICT (kind, item_key) DO UPDATE SET marker = excluded.marker",
		kind, key, marker,
	)
	if err != nil {
		return fmt.Errorf("failed to save marker: %w", err)
	}
	return nil
}
