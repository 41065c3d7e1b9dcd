package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"outcry/internal/market"
)

var ErrOrderNotFound = errors.New("order not found")

// CreateOrder persists a new OPEN order at its full requested quantity and
// returns it with its insertion sequence set. The order row must exist
// before any trade referencing it is written (trades carry order foreign
// keys).
func (s *Store) CreateOrder(marketID, userID string, side market.Side, price, quantity int64, createdAt time.Time) (*market.Order, error) {
	o := &market.Order{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		Status:    market.OrderOpen,
		CreatedAt: createdAt,
	}
	_, err := s.db.Exec(
		`INSERT INTO orders (id, market_id, user_id, side, price, quantity, remaining_quantity, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'OPEN', ?)`,
		o.ID, o.MarketID, o.UserID, o.Side.String(), o.Price, o.Quantity, o.Remaining, o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	// The implicit rowid is the insertion sequence; it breaks time-priority
	// ties when two orders share a timestamp.
	if err := s.db.QueryRow("SELECT rowid FROM orders WHERE id = ?", o.ID).Scan(&o.Seq); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(id string) (*market.Order, error) {
	row := s.db.QueryRow(
		`SELECT rowid, id, market_id, user_id, side, price, quantity, remaining_quantity, status, created_at
		 FROM orders WHERE id = ?`,
		id,
	)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func scanOrder(scan func(...any) error) (*market.Order, error) {
	var o market.Order
	var side, status string
	if err := scan(&o.Seq, &o.ID, &o.MarketID, &o.UserID, &side, &o.Price, &o.Quantity, &o.Remaining, &status, &o.CreatedAt); err != nil {
		return nil, err
	}
	var ok bool
	if o.Side, ok = market.ParseSide(side); !ok {
		return nil, errors.New("order has unknown side: " + side)
	}
	if o.Status, ok = market.ParseOrderStatus(status); !ok {
		return nil, errors.New("order has unknown status: " + status)
	}
	return &o, nil
}

// OpenOrders returns all OPEN orders for a market in creation sequence, used
// to rebuild the in-memory book at startup.
func (s *Store) OpenOrders(marketID string) ([]*market.Order, error) {
	rows, err := s.db.Query(
		`SELECT rowid, id, market_id, user_id, side, price, quantity, remaining_quantity, status, created_at
		 FROM orders WHERE market_id = ? AND status = 'OPEN' ORDER BY rowid ASC`,
		marketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UserOrders returns a user's orders in a market, newest first.
func (s *Store) UserOrders(marketID, userID string) ([]*market.Order, error) {
	rows, err := s.db.Query(
		`SELECT rowid, id, market_id, user_id, side, price, quantity, remaining_quantity, status, created_at
		 FROM orders WHERE market_id = ? AND user_id = ? ORDER BY rowid DESC`,
		marketID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*market.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderRemaining writes an order's remaining quantity, flipping status
// to FILLED when it reaches zero.
func (s *Store) UpdateOrderRemaining(id string, remaining int64) error {
	status := market.OrderOpen
	if remaining <= 0 {
		status = market.OrderFilled
	}
	return s.updateOrderRemaining(s.db, id, remaining, status)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) updateOrderRemaining(e execer, id string, remaining int64, status market.OrderStatus) error {
	res, err := e.Exec(
		"UPDATE orders SET remaining_quantity = ?, status = ? WHERE id = ?",
		remaining, status.String(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CancelOrder marks an order CANCELLED, freezing its remaining quantity.
func (s *Store) CancelOrder(id string) error {
	res, err := s.db.Exec("UPDATE orders SET status = 'CANCELLED' WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CancelAllOpenOrders cancels every OPEN order in a market (settlement
// cascade).
func (s *Store) CancelAllOpenOrders(marketID string) error {
	_, err := s.db.Exec(
		"UPDATE orders SET status = 'CANCELLED' WHERE market_id = ? AND status = 'OPEN'",
		marketID,
	)
	return err
}
