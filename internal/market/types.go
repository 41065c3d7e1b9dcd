// Package market defines the domain types shared by the book, engine, and
// store: markets, orders, trades, and positions. Prices and settlement
// values are int64 cents; quantities are int64 lots.
package market

import (
	"encoding/json"
	"fmt"
	"time"
)

type Side int

const (
	Bid Side = iota
	Offer
)

func (s Side) String() string {
	if s == Bid {
		return "BID"
	}
	return "OFFER"
}

// ParseSide converts a wire string to a Side.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "BID":
		return Bid, true
	case "OFFER":
		return Offer, true
	}
	return 0, false
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	side, ok := ParseSide(v)
	if !ok {
		return fmt.Errorf("invalid side %q", v)
	}
	*s = side
	return nil
}

type OrderStatus int

const (
	OrderOpen OrderStatus = iota
	OrderFilled
	OrderCancelled
)

func (st OrderStatus) String() string {
	switch st {
	case OrderOpen:
		return "OPEN"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// ParseOrderStatus converts a stored string to an OrderStatus.
func ParseOrderStatus(v string) (OrderStatus, bool) {
	switch v {
	case "OPEN":
		return OrderOpen, true
	case "FILLED":
		return OrderFilled, true
	case "CANCELLED":
		return OrderCancelled, true
	}
	return 0, false
}

func (st OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.String())
}

type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusSettled
)

func (st Status) String() string {
	switch st {
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	case StatusSettled:
		return "SETTLED"
	}
	return "UNKNOWN"
}

// ParseStatus converts a stored string to a market Status.
func ParseStatus(v string) (Status, bool) {
	switch v {
	case "OPEN":
		return StatusOpen, true
	case "CLOSED":
		return StatusClosed, true
	case "SETTLED":
		return StatusSettled, true
	}
	return 0, false
}

func (st Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.String())
}

// Market is a single prediction-market question.
type Market struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status"`
	SettlementValue int64      `json:"settlement_value,omitempty"` // cents, valid once SETTLED
	CreatedAt       time.Time  `json:"created_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

// Order is a limit order. Seq is a per-market monotonic sequence assigned at
// creation and breaks ties when two orders share a timestamp.
type Order struct {
	ID        string      `json:"id"`
	MarketID  string      `json:"market_id"`
	UserID    string      `json:"user_id"`
	Side      Side        `json:"side"`
	Price     int64       `json:"price"` // cents
	Quantity  int64       `json:"quantity"`
	Remaining int64       `json:"remaining_quantity"`
	Status    OrderStatus `json:"status"`
	Seq       int64       `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
}

// Before reports whether o has time priority over other at the same price.
func (o *Order) Before(other *Order) bool {
	if !o.CreatedAt.Equal(other.CreatedAt) {
		return o.CreatedAt.Before(other.CreatedAt)
	}
	return o.Seq < other.Seq
}

// Trade is immutable once created.
type Trade struct {
	ID          string    `json:"id"`
	MarketID    string    `json:"market_id"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	Price       int64     `json:"price"` // cents, always the resting order's price
	Quantity    int64     `json:"quantity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Position is one user's net exposure in one market. NetQuantity is signed
// (positive long, negative short). TotalCost is the signed running sum of
// price*quantity over fills; a flat position with nonzero TotalCost is
// banked realized P&L.
type Position struct {
	MarketID    string `json:"market_id"`
	UserID      string `json:"user_id"`
	NetQuantity int64  `json:"net_quantity"`
	TotalCost   int64  `json:"total_cost"` // cents
}

// AvgPrice returns TotalCost/NetQuantity in cents, or 0 for a flat position.
func (p *Position) AvgPrice() float64 {
	if p.NetQuantity == 0 {
		return 0
	}
	return float64(p.TotalCost) / float64(p.NetQuantity)
}

// UserResult is one user's settlement outcome in a market.
type UserResult struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name,omitempty"`
	NetQuantity int64   `json:"net_quantity"`
	TotalCost   int64   `json:"total_cost"`
	AvgPrice    float64 `json:"avg_price"`
	LinearPnL   int64   `json:"linear_pnl"` // cents
	BinaryPnL   int64   `json:"binary_pnl"` // lots won minus lots lost
}
