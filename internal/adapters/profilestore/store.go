// Package profilestore persists the local user's display name and email
// under well-known keys, read at startup and written on save.
package profilestore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/timigs/teamsync/internal/domain"
)

const (
	keyDisplayName = "team_name"
	keyEmail       = "team_email"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile db: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init profile db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the saved profile. Missing keys yield empty fields, not errors;
// first launch has nothing saved yet.
func (s *Store) Load() (displayName, email string, err error) {
	displayName, err = s.get(keyDisplayName)
	if err != nil {
		return "", "", err
	}
	email, err = s.get(keyEmail)
	if err != nil {
		return "", "", err
	}
	return displayName, email, nil
}

// Save validates through the domain profile rules before writing.
func (s *Store) Save(displayName, email string) error {
	if _, err := domain.NewProfile(displayName, email); err != nil {
		return err
	}
	if err := s.set(keyDisplayName, displayName); err != nil {
		return err
	}
	return s.set(keyEmail, email)
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
