// Package engine is the matching and settlement core. It owns the
// per-market order books and serializes every mutating operation on a
// market behind that market's lock, so the multi-step
// check-walk-fill-update sequences never interleave and a resting order can
// never be overfilled by concurrent takers. Operations on different markets
// run in parallel.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"outcry/internal/book"
	"outcry/internal/market"
	"outcry/internal/store"
)

// Engine coordinates admission control, matching, and settlement over the
// durable store and the in-memory books.
type Engine struct {
	store *store.Store
	now   func() time.Time

	mu     sync.Mutex // guards states map only
	states map[string]*marketState
}

// marketState is the serialization point for one market. The lock covers
// both the book and all store writes for that market.
type marketState struct {
	mu     sync.RWMutex
	book   *book.Book
	loaded bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		now:    func() time.Time { return time.Now().UTC() },
		states: make(map[string]*marketState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// state returns the serialization point for a market, creating it on first
// touch. The book itself is loaded lazily under the market lock.
func (e *Engine) state(marketID string) *marketState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.states[marketID]
	if !ok {
		ms = &marketState{book: book.New(marketID)}
		e.states[marketID] = ms
	}
	return ms
}

// ensureLoaded rebuilds the book from the store's OPEN orders. Caller holds
// the market lock for writing.
func (e *Engine) ensureLoaded(ms *marketState) error {
	if ms.loaded {
		return nil
	}
	open, err := e.store.OpenOrders(ms.book.MarketID)
	if err != nil {
		return err
	}
	for _, o := range open {
		ms.book.Insert(o)
	}
	ms.loaded = true
	return nil
}

// PlaceResult is the outcome of a successful order placement.
type PlaceResult struct {
	Trades    []*market.Trade `json:"trades"`
	Order     *market.Order   `json:"order"`
	FilledQty int64           `json:"filled_qty"`
	Resting   bool            `json:"resting"`
}

// PlaceOrder validates, matches, and possibly rests a new limit order.
// Rejections happen before the order row is written, so a rejected order
// leaves no trace.
func (e *Engine) PlaceOrder(marketID, userID string, side market.Side, price, quantity int64) (*PlaceResult, error) {
	ms := e.state(marketID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, err := e.store.GetMarket(marketID)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) {
			return nil, fmt.Errorf("%w: unknown market", ErrMarketNotOpen)
		}
		return nil, err
	}
	if m.Status != market.StatusOpen {
		return nil, fmt.Errorf("%w: market is %s", ErrMarketNotOpen, m.Status)
	}

	if err := e.ensureLoaded(ms); err != nil {
		return nil, err
	}

	if err := e.admit(ms.book, userID, side, price, quantity); err != nil {
		return nil, err
	}

	incoming, err := e.store.CreateOrder(marketID, userID, side, price, quantity, e.now())
	if err != nil {
		return nil, err
	}

	trades, err := e.match(ms.book, incoming)
	if err != nil {
		return nil, err
	}

	resting := incoming.Remaining > 0
	if resting {
		ms.book.Insert(incoming)
	}

	res := &PlaceResult{
		Trades:    trades,
		Order:     incoming,
		FilledQty: incoming.Quantity - incoming.Remaining,
		Resting:   resting,
	}
	return res, nil
}

// match walks the opposite side of the book in price-time priority and
// executes fills at each resting order's price. The incoming order row
// already exists at full quantity; each fill commits atomically.
func (e *Engine) match(b *book.Book, incoming *market.Order) ([]*market.Trade, error) {
	counters := b.Crossing(incoming.Side, incoming.Price, incoming.UserID)

	var trades []*market.Trade
	for _, counter := range counters {
		if incoming.Remaining == 0 {
			break
		}

		fillQty := min(incoming.Remaining, counter.Remaining)
		fillPrice := counter.Price // maker's price, taker gets the improvement

		var buyOrder, sellOrder *market.Order
		if incoming.Side == market.Bid {
			buyOrder, sellOrder = incoming, counter
		} else {
			buyOrder, sellOrder = counter, incoming
		}

		t := store.NewTrade(
			incoming.MarketID,
			buyOrder.ID, sellOrder.ID,
			buyOrder.UserID, sellOrder.UserID,
			fillPrice, fillQty,
			e.now(),
		)

		if err := e.store.ApplyFill(t, buyOrder.Remaining-fillQty, sellOrder.Remaining-fillQty); err != nil {
			return trades, err
		}

		incoming.Remaining -= fillQty
		counter.Remaining -= fillQty
		if counter.Remaining == 0 {
			counter.Status = market.OrderFilled
			b.Remove(counter.ID)
		}
		if incoming.Remaining == 0 {
			incoming.Status = market.OrderFilled
		}

		trades = append(trades, t)
	}
	return trades, nil
}

// CancelOrder cancels a resting order. The remaining quantity is frozen at
// whatever is left; a concurrent match that fully fills the order first wins
// and the cancel reports AlreadyInactive.
func (e *Engine) CancelOrder(orderID, userID string) error {
	o, err := e.store.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return ErrNotFound
		}
		return err
	}
	if o.UserID != userID {
		return ErrNotOwner
	}

	ms := e.state(o.MarketID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := e.ensureLoaded(ms); err != nil {
		return err
	}

	// Re-check under the lock: the order may have filled or been cancelled
	// between the lookup and lock acquisition.
	resting := ms.book.Remove(orderID)
	if resting == nil {
		return ErrAlreadyInactive
	}
	resting.Status = market.OrderCancelled
	return e.store.CancelOrder(orderID)
}

// AggressResult is the outcome of aggressing a specific resting order.
type AggressResult struct {
	Trades       []*market.Trade `json:"trades"`
	FilledQty    int64           `json:"filled_qty"`
	RequestedQty int64           `json:"requested_qty"`
}

// Aggress lifts or hits a specific resting order by synthesizing a crossing
// order at the target's price, capped at the target's remaining size. With
// fillAndKill, any unfilled remainder is discarded instead of resting.
func (e *Engine) Aggress(targetOrderID, userID string, quantity int64, fillAndKill bool) (*AggressResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}

	target, err := e.store.GetOrder(targetOrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if target.UserID == userID {
		return nil, ErrOwnOrder
	}

	ms := e.state(target.MarketID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, err := e.store.GetMarket(target.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != market.StatusOpen {
		return nil, fmt.Errorf("%w: market is %s", ErrMarketNotOpen, m.Status)
	}

	if err := e.ensureLoaded(ms); err != nil {
		return nil, err
	}

	// The target may have traded away or been cancelled before we took the
	// lock; resolve against the live book.
	live, ok := ms.book.Get(targetOrderID)
	if !ok {
		return nil, ErrNotFound
	}

	requested := quantity
	if live.Remaining < quantity {
		quantity = live.Remaining
	}

	side := market.Bid
	if live.Side == market.Bid {
		side = market.Offer
	}
	price := live.Price

	if err := e.admit(ms.book, userID, side, price, quantity); err != nil {
		return nil, err
	}

	incoming, err := e.store.CreateOrder(target.MarketID, userID, side, price, quantity, e.now())
	if err != nil {
		return nil, err
	}

	trades, err := e.match(ms.book, incoming)
	if err != nil {
		return nil, err
	}

	if incoming.Remaining > 0 {
		if fillAndKill {
			incoming.Status = market.OrderCancelled
			if err := e.store.CancelOrder(incoming.ID); err != nil {
				return nil, err
			}
		} else {
			ms.book.Insert(incoming)
		}
	}

	return &AggressResult{
		Trades:       trades,
		FilledQty:    incoming.Quantity - incoming.Remaining,
		RequestedQty: requested,
	}, nil
}

// CloseMarket stops a market from accepting orders without settling it.
// Resting orders stay in the book until settlement cancels them.
func (e *Engine) CloseMarket(marketID string) error {
	ms := e.state(marketID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, err := e.store.GetMarket(marketID)
	if err != nil {
		return err
	}
	if m.Status == market.StatusSettled {
		return ErrAlreadySettled
	}
	return e.store.UpdateMarketStatus(marketID, market.StatusClosed)
}

// OrderBook is a consistent read-only view of one market's resting orders.
type OrderBook struct {
	MarketID string         `json:"market_id"`
	Bids     []market.Order `json:"bids"`
	Offers   []market.Order `json:"offers"`
	Levels   book.Snapshot  `json:"levels"`
}

// GetOrderBook returns the resting orders in priority order. The returned
// orders are copies; no partially applied fill is ever visible.
func (e *Engine) GetOrderBook(marketID string) (*OrderBook, error) {
	ms := e.state(marketID)
	ms.mu.Lock()
	if err := e.ensureLoaded(ms); err != nil {
		ms.mu.Unlock()
		return nil, err
	}
	// Downgrade not needed: copying under the write lock is cheap at this
	// scale and keeps the load-then-read path simple.
	ob := &OrderBook{
		MarketID: marketID,
		Levels:   ms.book.Snapshot(),
	}
	for _, o := range ms.book.Orders(market.Bid) {
		ob.Bids = append(ob.Bids, *o)
	}
	for _, o := range ms.book.Orders(market.Offer) {
		ob.Offers = append(ob.Offers, *o)
	}
	ms.mu.Unlock()
	return ob, nil
}

// GetPosition returns a user's current position in a market.
func (e *Engine) GetPosition(marketID, userID string) (*market.Position, error) {
	ms := e.state(marketID)
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return e.store.GetPosition(marketID, userID)
}
