package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT UNIQUE NOT NULL,
			password_hash TEXT,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'OPEN',
			settlement_value INTEGER,  -- cents, NULL until settled
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			settled_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL REFERENCES markets(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			side TEXT NOT NULL,  -- 'BID' or 'OFFER'
			price INTEGER NOT NULL,  -- cents
			quantity INTEGER NOT NULL,
			remaining_quantity INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL REFERENCES markets(id),
			buy_order_id TEXT NOT NULL REFERENCES orders(id),
			sell_order_id TEXT NOT NULL REFERENCES orders(id),
			buyer_id TEXT NOT NULL REFERENCES users(id),
			seller_id TEXT NOT NULL REFERENCES users(id),
			price INTEGER NOT NULL,  -- cents
			quantity INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL REFERENCES markets(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			net_quantity INTEGER NOT NULL DEFAULT 0,
			total_cost INTEGER NOT NULL DEFAULT 0,  -- cents
			UNIQUE(market_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders(market_id, status);
		CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);
		CREATE INDEX IF NOT EXISTS idx_positions_market_user ON positions(market_id, user_id);

		INSERT OR IGNORE INTO config (key, value) VALUES ('position_limit', '20');
		`,
	},
	{
		Version:     2,
		Description: "Persistent sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}
