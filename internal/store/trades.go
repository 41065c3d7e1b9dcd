package store

import (
	"time"

	"github.com/google/uuid"

	"outcry/internal/market"
)

// NewTrade builds an unsaved trade record.
func NewTrade(marketID, buyOrderID, sellOrderID, buyerID, sellerID string, price, quantity int64, at time.Time) *market.Trade {
	return &market.Trade{
		ID:          uuid.New().String(),
		MarketID:    marketID,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Price:       price,
		Quantity:    quantity,
		CreatedAt:   at,
	}
}

// ApplyFill persists one fill atomically: the trade row, both orders'
// remaining quantities, and both parties' position deltas commit together,
// so a reader never sees a trade without its order and position updates.
func (s *Store) ApplyFill(t *market.Trade, buyRemaining, sellRemaining int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO trades (id, market_id, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MarketID, t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID, t.Price, t.Quantity, t.CreatedAt,
	); err != nil {
		return err
	}

	buyStatus := market.OrderOpen
	if buyRemaining <= 0 {
		buyStatus = market.OrderFilled
	}
	if err := s.updateOrderRemaining(tx, t.BuyOrderID, buyRemaining, buyStatus); err != nil {
		return err
	}
	sellStatus := market.OrderOpen
	if sellRemaining <= 0 {
		sellStatus = market.OrderFilled
	}
	if err := s.updateOrderRemaining(tx, t.SellOrderID, sellRemaining, sellStatus); err != nil {
		return err
	}

	// Buyer gains quantity at cost; seller sheds it.
	cost := t.Price * t.Quantity
	if err := s.upsertPositionDelta(tx, t.MarketID, t.BuyerID, t.Quantity, cost); err != nil {
		return err
	}
	if err := s.upsertPositionDelta(tx, t.MarketID, t.SellerID, -t.Quantity, -cost); err != nil {
		return err
	}

	return tx.Commit()
}

// RecentTrades returns the most recent trades for a market, newest first.
func (s *Store) RecentTrades(marketID string, limit int) ([]*market.Trade, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, created_at
		 FROM trades WHERE market_id = ? ORDER BY rowid DESC LIMIT ?`,
		marketID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// AllTrades returns every trade in a market in execution order, used by
// settlement for binary P&L.
func (s *Store) AllTrades(marketID string) ([]*market.Trade, error) {
	rows, err := s.db.Query(
		`SELECT id, market_id, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, created_at
		 FROM trades WHERE market_id = ? ORDER BY rowid ASC`,
		marketID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

type rowScanner interface {
	Next() bool
	Scan(...any) error
	Err() error
}

func scanTrades(rows rowScanner) ([]*market.Trade, error) {
	var out []*market.Trade
	for rows.Next() {
		var t market.Trade
		if err := rows.Scan(&t.ID, &t.MarketID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.Price, &t.Quantity, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
