// Package store keeps the archive's metadata in SQLite: one row per stored
// object and one row per deployment. The object bytes themselves live in
// the content-addressed store on disk; this database only makes them
// queryable without walking the filesystem.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found in metadata store")

// timeLayout is RFC 3339 with fixed nanosecond precision. The fraction is
// never omitted, so lexicographic order of the stored strings equals
// chronological order (ORDER BY relies on this).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// File is the metadata row for one stored object.
type File struct {
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	MediaType string    `json:"media_type,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
}

// Deployment records one materialization of a stored object.
type Deployment struct {
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	TargetPath string    `json:"target_path"`
	Method     string    `json:"method"`
	DeployedAt time.Time `json:"deployed_at"`
}

// Stats summarizes the archive metadata.
type Stats struct {
	Files       int64 `json:"files"`
	TotalSize   int64 `json:"total_size"`
	Deployments int64 `json:"deployments"`
}

// Store is the SQLite-backed metadata database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open creates or opens the metadata database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer keeps SQLite happy under concurrent handlers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}
	// NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		hash TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		media_type TEXT NOT NULL DEFAULT '',
		stored_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		hash TEXT NOT NULL REFERENCES files(hash) ON DELETE CASCADE,
		target_path TEXT NOT NULL UNIQUE,
		method TEXT NOT NULL,
		deployed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_hash ON deployments(hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordFile inserts the metadata row for a newly stored object.
func (s *Store) RecordFile(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.StoredAt.IsZero() {
		f.StoredAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO files (hash, size, media_type, stored_at) VALUES (?, ?, ?, ?)`,
		f.Hash, f.Size, f.MediaType, f.StoredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record file %s: %w", f.Hash, err)
	}
	return nil
}

// GetFile returns the metadata row for one object.
func (s *Store) GetFile(hash string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT hash, size, media_type, stored_at FROM files WHERE hash = ?`, hash,
	)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file %s: %w", hash, err)
	}
	return f, nil
}

// ListFiles returns all metadata rows ordered by storage time.
func (s *Store) ListFiles() ([]File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT hash, size, media_type, stored_at FROM files ORDER BY stored_at, hash`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// DeleteFile removes an object's metadata row. Deployments referencing it
// are removed by the foreign key cascade.
func (s *Store) DeleteFile(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM files WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", hash, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: file %s", ErrNotFound, hash)
	}
	return nil
}

// RecordDeployment inserts a deployment row and returns it.
func (s *Store) RecordDeployment(hash, targetPath, method string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &Deployment{
		ID:         uuid.NewString(),
		Hash:       hash,
		TargetPath: targetPath,
		Method:     method,
		DeployedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO deployments (id, hash, target_path, method, deployed_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Hash, d.TargetPath, d.Method, d.DeployedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record deployment of %s: %w", hash, err)
	}
	return d, nil
}

// ListDeployments returns all deployment rows, newest last.
func (s *Store) ListDeployments() ([]Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, hash, target_path, method, deployed_at FROM deployments ORDER BY deployed_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []Deployment
	for rows.Next() {
		var (
			d  Deployment
			at string
		)
		if err := rows.Scan(&d.ID, &d.Hash, &d.TargetPath, &d.Method, &at); err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		d.DeployedAt, err = parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", d.ID, err)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// DeploymentByTarget returns the deployment row for one target path.
func (s *Store) DeploymentByTarget(targetPath string) (*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		d  Deployment
		at string
	)
	err := s.db.QueryRow(
		`SELECT id, hash, target_path, method, deployed_at FROM deployments WHERE target_path = ?`,
		targetPath,
	).Scan(&d.ID, &d.Hash, &d.TargetPath, &d.Method, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: deployment %s", ErrNotFound, targetPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment %s: %w", targetPath, err)
	}
	d.DeployedAt, err = parseTime(at)
	if err != nil {
		return nil, fmt.Errorf("deployment %s: %w", targetPath, err)
	}
	return &d, nil
}

// DeleteDeploymentsByHash removes all deployment rows for one object and
// returns how many were removed.
func (s *Store) DeleteDeploymentsByHash(hash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM deployments WHERE hash = ?`, hash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete deployments of %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Stats returns row counts and the total stored size.
func (s *Store) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files`,
	).Scan(&st.Files, &st.TotalSize); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM deployments`,
	).Scan(&st.Deployments); err != nil {
		return nil, fmt.Errorf("failed to count deployments: %w", err)
	}
	return &st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var (
		f  File
		at string
	)
	if err := row.Scan(&f.Hash, &f.Size, &f.MediaType, &at); err != nil {
		return nil, err
	}
	storedAt, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	f.StoredAt = storedAt
	return &f, nil
}

// parseTime reads a stored timestamp. RFC3339Nano also accepts rows
// written before the fixed-precision layout.
func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}
