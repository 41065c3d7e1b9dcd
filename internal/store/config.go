package store

import (
	"database/sql"
	"strconv"
)

// DefaultPositionLimit is the position limit applied when no value has been
// configured.
const DefaultPositionLimit int64 = 20

// PositionLimit returns the configured global position limit.
func (s *Store) PositionLimit() (int64, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config WHERE key = 'position_limit'").Scan(&value)
	if err == sql.ErrNoRows {
		return DefaultPositionLimit, nil
	}
	if err != nil {
		return 0, err
	}
	limit, err := strconv.ParseInt(value, 10, 64)
	if err != nil || limit <= 0 {
		return DefaultPositionLimit, nil
	}
	return limit, nil
}

// SetPositionLimit updates the global position limit.
func (s *Store) SetPositionLimit(limit int64) error {
	_, err := s.db.Exec(
		`INSERT INTO config (key, value) VALUES ('position_limit', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(limit, 10),
	)
	return err
}
