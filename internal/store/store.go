package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Config contains the configurable items for the report database
type Config struct {
	// Path of the SQLite file; empty disables the store
	Path string `toml:"path"`
}

func NewDefaultConfig() Config {
	return Config{}
}

// Store persists session reports in SQLite
type Store struct {
	db *sql.DB
}

// New opens the database and applies pending migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
