// Package catalog persists service registrations in SQLite so a restarted
// gateway can re-register them. Health state is never persisted.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"meshgate/pkg/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one stored registration.
type Entry struct {
	ID        string
	Record    models.ServiceRecord
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store manages service registrations in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (or creates) the catalog database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}

	if _, err := database.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}

	store := &Store{db: database}
	if err := store.Initialize(); err != nil {
		_ = database.Close()
		return nil, err
	}

	return store, nil
}

// Initialize creates the database schema.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(), Schema)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts the registration or replaces the stored one with the same name.
// The entry keeps its ID and creation time across replacements.
func (s *Store) Save(rec models.ServiceRecord) error {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%w: failed to encode metadata: %w", ErrInvalidEntry, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err = s.db.ExecContext(context.Background(),
		`INSERT INTO services (id, name, base_url, health_check_url, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     base_url = excluded.base_url,
		     health_check_url = excluded.health_check_url,
		     metadata = excluded.metadata,
		     updated_at = excluded.updated_at`,
		uuid.NewString(), rec.Name, rec.BaseURL, rec.HealthCheckURL, string(metadata), now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return nil
}

// Delete removes the named registration.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(context.Background(), `DELETE FROM services WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if affected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Get returns the named registration.
func (s *Store) Get(name string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(context.Background(),
		`SELECT id, name, base_url, health_check_url, metadata, created_at, updated_at FROM services WHERE name = ?`,
		name,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns every registration ordered by name.
func (s *Store) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, name, base_url, health_check_url, metadata, created_at, updated_at FROM services ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry    Entry
		metadata sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.Record.Name, &entry.Record.BaseURL, &entry.Record.HealthCheckURL,
		&metadata, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	entry.Record.Metadata = map[string]string{}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Record.Metadata); err != nil {
			return nil, fmt.Errorf("%w: failed to decode metadata: %w", ErrDatabaseError, err)
		}
		if entry.Record.Metadata == nil {
			entry.Record.Metadata = map[string]string{}
		}
	}
	entry.Record.Status = models.StatusUnknown
	entry.Record.RegisteredAt = entry.UpdatedAt
	return &entry, nil
}
