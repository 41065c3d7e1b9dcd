package engine

import (
	"fmt"

	"outcry/internal/book"
	"outcry/internal/market"
)

// admit runs the pre-trade checks in order: input validity, anti-spoofing,
// position limit. Market status is checked by the caller before this. All
// checks run before the order row is created, so a rejection leaves no
// partial state. Caller holds the market lock.
func (e *Engine) admit(b *book.Book, userID string, side market.Side, price, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}

	if err := e.checkSpoofing(b, userID, side, price); err != nil {
		return err
	}
	return e.checkPositionLimit(b, userID, side, quantity)
}

// checkSpoofing rejects an order that would cross the user's own resting
// orders: a bid at P against any own offer at or below P, an offer at P
// against any own bid at or above P.
func (e *Engine) checkSpoofing(b *book.Book, userID string, side market.Side, price int64) error {
	cross := b.UserCross(userID, side, price)
	if cross == nil {
		return nil
	}
	if side == market.Bid {
		return fmt.Errorf("%w: cannot bid at %d with your own offer resting at %d",
			ErrSpoofingDetected, price, cross.Price)
	}
	return fmt.Errorf("%w: cannot offer at %d with your own bid resting at %d",
		ErrSpoofingDetected, price, cross.Price)
}

// checkPositionLimit rejects an order whose worst-case exposure would breach
// the configured limit. Worst case assumes every same-side resting order
// fills along with the new one: for a bid the long bound is
// position + resting bids + quantity; for an offer the short bound is
// position - resting offers - quantity.
func (e *Engine) checkPositionLimit(b *book.Book, userID string, side market.Side, quantity int64) error {
	limit, err := e.store.PositionLimit()
	if err != nil {
		return err
	}
	pos, err := e.store.GetPosition(b.MarketID, userID)
	if err != nil {
		return err
	}
	bidQty, offerQty := b.UserExposure(userID)

	if side == market.Bid {
		worst := pos.NetQuantity + bidQty + quantity
		if worst > limit {
			maxBuy := limit - pos.NetQuantity - bidQty
			if maxBuy < 0 {
				maxBuy = 0
			}
			return fmt.Errorf("%w: limit %d, position %d, open bids %d (max buy %d)",
				ErrPositionLimit, limit, pos.NetQuantity, bidQty, maxBuy)
		}
	} else {
		worst := pos.NetQuantity - offerQty - quantity
		if worst < -limit {
			maxSell := limit + pos.NetQuantity - offerQty
			if maxSell < 0 {
				maxSell = 0
			}
			return fmt.Errorf("%w: limit %d, position %d, open offers %d (max sell %d)",
				ErrPositionLimit, limit, pos.NetQuantity, offerQty, maxSell)
		}
	}
	return nil
}
