// Package book holds the per-market resting order book: OPEN orders sorted
// by price priority then time priority. The book is pure structure: it
// knows nothing about trades or positions, and it is not safe for
// concurrent use on its own. The engine serializes access with a per-market
// lock.
package book

import (
	"outcry/internal/market"
)

// level holds all resting orders at one price, oldest first.
type level struct {
	price  int64
	orders []*market.Order
}

func (l *level) totalQuantity() int64 {
	var total int64
	for _, o := range l.orders {
		total += o.Remaining
	}
	return total
}

// Book is the in-memory order book for a single market. Bids are sorted
// descending by price (best bid first), offers ascending (best offer first);
// within a level, orders are in time priority.
type Book struct {
	MarketID string

	bids   []*level
	offers []*level
	orders map[string]*market.Order
}

func New(marketID string) *Book {
	return &Book{
		MarketID: marketID,
		orders:   make(map[string]*market.Order),
	}
}

// Insert adds a resting order. Orders are keyed by ID; inserting an ID that
// is already present is a no-op.
func (b *Book) Insert(o *market.Order) {
	if _, ok := b.orders[o.ID]; ok {
		return
	}
	b.orders[o.ID] = o

	if o.Side == market.Bid {
		b.bids = insertSorted(b.bids, o, func(levelPrice, orderPrice int64) bool {
			return levelPrice < orderPrice // bids descending
		})
	} else {
		b.offers = insertSorted(b.offers, o, func(levelPrice, orderPrice int64) bool {
			return levelPrice > orderPrice // offers ascending
		})
	}
}

// insertSorted places o into its price level, creating the level at the
// first position where worse(level.price, o.Price) holds. Within a level the
// order goes before the first resting order it has time priority over,
// which keeps rebuilds from persistence correct even when orders arrive out
// of creation sequence.
func insertSorted(levels []*level, o *market.Order, worse func(levelPrice, orderPrice int64) bool) []*level {
	for i, l := range levels {
		if l.price == o.Price {
			for j, resting := range l.orders {
				if o.Before(resting) {
					l.orders = append(l.orders[:j], append([]*market.Order{o}, l.orders[j:]...)...)
					return levels
				}
			}
			l.orders = append(l.orders, o)
			return levels
		}
		if worse(l.price, o.Price) {
			nl := &level{price: o.Price, orders: []*market.Order{o}}
			return append(levels[:i], append([]*level{nl}, levels[i:]...)...)
		}
	}
	return append(levels, &level{price: o.Price, orders: []*market.Order{o}})
}

// Remove takes an order out of the book and returns it, or nil if the order
// is not resting.
func (b *Book) Remove(orderID string) *market.Order {
	o, ok := b.orders[orderID]
	if !ok {
		return nil
	}
	delete(b.orders, orderID)

	if o.Side == market.Bid {
		b.bids = removeFromLevels(b.bids, o)
	} else {
		b.offers = removeFromLevels(b.offers, o)
	}
	return o
}

func removeFromLevels(levels []*level, o *market.Order) []*level {
	for i, l := range levels {
		if l.price != o.Price {
			continue
		}
		for j, resting := range l.orders {
			if resting.ID == o.ID {
				l.orders = append(l.orders[:j], l.orders[j+1:]...)
				break
			}
		}
		if len(l.orders) == 0 {
			return append(levels[:i], levels[i+1:]...)
		}
		return levels
	}
	return levels
}

// Get returns a resting order by ID.
func (b *Book) Get(orderID string) (*market.Order, bool) {
	o, ok := b.orders[orderID]
	return o, ok
}

// Crossing returns the orders an incoming order on the given side at the
// given limit price would match against, in matching priority: best price
// first, oldest first within a price. Orders owned by excludeUser are
// skipped (self-trade prevention).
func (b *Book) Crossing(side market.Side, price int64, excludeUser string) []*market.Order {
	var out []*market.Order
	if side == market.Bid {
		// Incoming bid crosses offers at or below the bid price.
		for _, l := range b.offers {
			if l.price > price {
				break
			}
			for _, o := range l.orders {
				if o.UserID == excludeUser {
					continue
				}
				out = append(out, o)
			}
		}
	} else {
		// Incoming offer crosses bids at or above the offer price.
		for _, l := range b.bids {
			if l.price < price {
				break
			}
			for _, o := range l.orders {
				if o.UserID == excludeUser {
					continue
				}
				out = append(out, o)
			}
		}
	}
	return out
}

// UserCross returns the user's own resting order on the opposite side that
// an order at the given side/price would cross, or nil. A bid crosses the
// user's offers at or below the bid price; an offer crosses the user's bids
// at or above the offer price.
func (b *Book) UserCross(userID string, side market.Side, price int64) *market.Order {
	if side == market.Bid {
		for _, l := range b.offers {
			if l.price > price {
				break
			}
			for _, o := range l.orders {
				if o.UserID == userID {
					return o
				}
			}
		}
	} else {
		for _, l := range b.bids {
			if l.price < price {
				break
			}
			for _, o := range l.orders {
				if o.UserID == userID {
					return o
				}
			}
		}
	}
	return nil
}

// UserExposure sums the user's resting remaining quantity per side.
func (b *Book) UserExposure(userID string) (bidQty, offerQty int64) {
	for _, l := range b.bids {
		for _, o := range l.orders {
			if o.UserID == userID {
				bidQty += o.Remaining
			}
		}
	}
	for _, l := range b.offers {
		for _, o := range l.orders {
			if o.UserID == userID {
				offerQty += o.Remaining
			}
		}
	}
	return bidQty, offerQty
}

// Orders returns all resting orders on one side in priority order.
func (b *Book) Orders(side market.Side) []*market.Order {
	levels := b.bids
	if side == market.Offer {
		levels = b.offers
	}
	var out []*market.Order
	for _, l := range levels {
		out = append(out, l.orders...)
	}
	return out
}

// Drain empties the book and returns every order that was resting, used by
// settlement to cascade-cancel.
func (b *Book) Drain() []*market.Order {
	var out []*market.Order
	for _, l := range b.bids {
		out = append(out, l.orders...)
	}
	for _, l := range b.offers {
		out = append(out, l.orders...)
	}
	b.bids = nil
	b.offers = nil
	b.orders = make(map[string]*market.Order)
	return out
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return len(b.orders)
}

// LevelSnapshot aggregates one price level for rendering.
type LevelSnapshot struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Snapshot is the rendered state of the book.
type Snapshot struct {
	MarketID string          `json:"market_id"`
	Bids     []LevelSnapshot `json:"bids"`
	Offers   []LevelSnapshot `json:"offers"`
}

func (b *Book) Snapshot() Snapshot {
	snap := Snapshot{
		MarketID: b.MarketID,
		Bids:     make([]LevelSnapshot, len(b.bids)),
		Offers:   make([]LevelSnapshot, len(b.offers)),
	}
	for i, l := range b.bids {
		snap.Bids[i] = LevelSnapshot{Price: l.price, Quantity: l.totalQuantity(), Orders: len(l.orders)}
	}
	for i, l := range b.offers {
		snap.Offers[i] = LevelSnapshot{Price: l.price, Quantity: l.totalQuantity(), Orders: len(l.orders)}
	}
	return snap
}

// BestBid returns the highest bid price, or 0 if no bids.
func (b *Book) BestBid() int64 {
	if len(b.bids) == 0 {
		return 0
	}
	return b.bids[0].price
}

// BestOffer returns the lowest offer price, or 0 if no offers.
func (b *Book) BestOffer() int64 {
	if len(b.offers) == 0 {
		return 0
	}
	return b.offers[0].price
}
