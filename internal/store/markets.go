package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"outcry/internal/market"
)

var ErrMarketNotFound = errors.New("market not found")

// CreateMarket creates a new OPEN market.
func (s *Store) CreateMarket(question, description string) (*market.Market, error) {
	m := &market.Market{
		ID:          uuid.New().String(),
		Question:    question,
		Description: description,
		Status:      market.StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.Exec(
		"INSERT INTO markets (id, question, description, status, created_at) VALUES (?, ?, ?, ?, ?)",
		m.ID, m.Question, m.Description, m.Status.String(), m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMarket retrieves a market by ID.
func (s *Store) GetMarket(id string) (*market.Market, error) {
	row := s.db.QueryRow(
		"SELECT id, question, COALESCE(description, ''), status, settlement_value, created_at, settled_at FROM markets WHERE id = ?",
		id,
	)
	return scanMarket(row)
}

func scanMarket(row *sql.Row) (*market.Market, error) {
	var m market.Market
	var status string
	var settlement sql.NullInt64
	var settledAt sql.NullTime
	err := row.Scan(&m.ID, &m.Question, &m.Description, &status, &settlement, &m.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	st, ok := market.ParseStatus(status)
	if !ok {
		return nil, errors.New("market has unknown status: " + status)
	}
	m.Status = st
	if settlement.Valid {
		m.SettlementValue = settlement.Int64
	}
	if settledAt.Valid {
		t := settledAt.Time
		m.SettledAt = &t
	}
	return &m, nil
}

// ListMarkets returns all markets, newest first.
func (s *Store) ListMarkets() ([]*market.Market, error) {
	rows, err := s.db.Query(
		"SELECT id, question, COALESCE(description, ''), status, settlement_value, created_at, settled_at FROM markets ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Market
	for rows.Next() {
		var m market.Market
		var status string
		var settlement sql.NullInt64
		var settledAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Question, &m.Description, &status, &settlement, &m.CreatedAt, &settledAt); err != nil {
			return nil, err
		}
		st, ok := market.ParseStatus(status)
		if !ok {
			continue
		}
		m.Status = st
		if settlement.Valid {
			m.SettlementValue = settlement.Int64
		}
		if settledAt.Valid {
			t := settledAt.Time
			m.SettledAt = &t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SettledMarkets returns all settled markets, used by the leaderboard.
func (s *Store) SettledMarkets() ([]*market.Market, error) {
	all, err := s.ListMarkets()
	if err != nil {
		return nil, err
	}
	var out []*market.Market
	for _, m := range all {
		if m.Status == market.StatusSettled {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateMarketStatus sets a market's lifecycle status.
func (s *Store) UpdateMarketStatus(id string, status market.Status) error {
	res, err := s.db.Exec("UPDATE markets SET status = ? WHERE id = ?", status.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// SettleMarket marks a market SETTLED with the given value. The caller is
// responsible for cancelling open orders first.
func (s *Store) SettleMarket(id string, settlementValue int64, settledAt time.Time) error {
	res, err := s.db.Exec(
		"UPDATE markets SET status = 'SETTLED', settlement_value = ?, settled_at = ? WHERE id = ?",
		settlementValue, settledAt, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMarketNotFound
	}
	return nil
}
