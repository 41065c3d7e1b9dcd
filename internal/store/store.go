// Package store provides SQLite persistence for markets, orders, trades,
// positions, users, sessions, and config. Orders are always written before
// any trade that references them, so trade rows never point at a missing
// order even though the engine, not the database, is the arbiter of
// matching.
package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies any
// pending migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite serializes writers anyway, and the engine
	// holds its own per-market locks above this layer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.db
}
