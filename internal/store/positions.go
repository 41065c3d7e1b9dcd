package store

import (
	"database/sql"

	"outcry/internal/market"
)

// GetPosition returns a user's position in a market. A user who has never
// traded gets a zeroed position; rows are only created on the first fill.
func (s *Store) GetPosition(marketID, userID string) (*market.Position, error) {
	pos := &market.Position{MarketID: marketID, UserID: userID}
	err := s.db.QueryRow(
		"SELECT net_quantity, total_cost FROM positions WHERE market_id = ? AND user_id = ?",
		marketID, userID,
	).Scan(&pos.NetQuantity, &pos.TotalCost)
	if err == sql.ErrNoRows {
		return pos, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// AllPositions returns every position in a market.
func (s *Store) AllPositions(marketID string) ([]*market.Position, error) {
	rows, err := s.db.Query(
		"SELECT market_id, user_id, net_quantity, total_cost FROM positions WHERE market_id = ?",
		marketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Position
	for rows.Next() {
		var p market.Position
		if err := rows.Scan(&p.MarketID, &p.UserID, &p.NetQuantity, &p.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// upsertPositionDelta applies a signed fill to a position inside a
// transaction, creating the row lazily on first touch.
func (s *Store) upsertPositionDelta(tx *sql.Tx, marketID, userID string, quantityDelta, costDelta int64) error {
	_, err := tx.Exec(
		`INSERT INTO positions (market_id, user_id, net_quantity, total_cost)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(market_id, user_id) DO UPDATE SET
			net_quantity = net_quantity + excluded.net_quantity,
			total_cost = total_cost + excluded.total_cost`,
		marketID, userID, quantityDelta, costDelta,
	)
	return err
}
