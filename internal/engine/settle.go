package engine

import (
	"errors"
	"sort"

	"outcry/internal/market"
	"outcry/internal/store"
)

// SettlementReport is the outcome of settling one market.
type SettlementReport struct {
	Market  *market.Market       `json:"market"`
	Results []*market.UserResult `json:"results"`
}

// SettleMarket finalizes a market: every resting order is cancelled so it
// carries no future-fill risk, the market is marked SETTLED, and per-user
// P&L is computed from positions and the full trade history. Irreversible;
// a second call reports AlreadySettled with state unchanged.
func (e *Engine) SettleMarket(marketID string, settlementValue int64) (*SettlementReport, error) {
	ms := e.state(marketID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, err := e.store.GetMarket(marketID)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if m.Status == market.StatusSettled {
		return nil, ErrAlreadySettled
	}

	if err := e.ensureLoaded(ms); err != nil {
		return nil, err
	}

	for _, o := range ms.book.Drain() {
		o.Status = market.OrderCancelled
	}
	if err := e.store.CancelAllOpenOrders(marketID); err != nil {
		return nil, err
	}

	now := e.now()
	if err := e.store.SettleMarket(marketID, settlementValue, now); err != nil {
		return nil, err
	}
	m.Status = market.StatusSettled
	m.SettlementValue = settlementValue
	m.SettledAt = &now

	results, err := e.computeResults(marketID, settlementValue)
	if err != nil {
		return nil, err
	}
	return &SettlementReport{Market: m, Results: results}, nil
}

// Results recomputes the settlement report for an already settled market.
func (e *Engine) Results(marketID string) (*SettlementReport, error) {
	ms := e.state(marketID)
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, err := e.store.GetMarket(marketID)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if m.Status != market.StatusSettled {
		return nil, ErrNotFound
	}
	results, err := e.computeResults(marketID, m.SettlementValue)
	if err != nil {
		return nil, err
	}
	return &SettlementReport{Market: m, Results: results}, nil
}

// computeResults builds per-user results from final positions and the full
// trade list, winners first.
func (e *Engine) computeResults(marketID string, settlementValue int64) ([]*market.UserResult, error) {
	positions, err := e.store.AllPositions(marketID)
	if err != nil {
		return nil, err
	}
	trades, err := e.store.AllTrades(marketID)
	if err != nil {
		return nil, err
	}

	binary := binaryPnL(trades, settlementValue)

	var results []*market.UserResult
	for _, pos := range positions {
		r := &market.UserResult{
			UserID:      pos.UserID,
			NetQuantity: pos.NetQuantity,
			TotalCost:   pos.TotalCost,
			AvgPrice:    pos.AvgPrice(),
			LinearPnL:   linearPnL(pos.NetQuantity, pos.TotalCost, settlementValue),
			BinaryPnL:   binary[pos.UserID],
		}
		if u, err := e.store.GetUserByID(pos.UserID); err == nil {
			r.DisplayName = u.DisplayName
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].LinearPnL != results[j].LinearPnL {
			return results[i].LinearPnL > results[j].LinearPnL
		}
		return results[i].UserID < results[j].UserID
	})
	return results, nil
}

// linearPnL is the dollar P&L in cents. For a non-flat position it equals
// net * (settlement - avg price); expanding avg price gives
// net*settlement - total_cost, which also covers the flat case (-total_cost,
// the banked round-trip profit) and stays exact in integers.
func linearPnL(netQuantity, totalCost, settlementValue int64) int64 {
	return netQuantity*settlementValue - totalCost
}

// binaryPnL counts lots won minus lots lost per user across all trades.
// The buyer wins a lot only when settlement is strictly above the trade
// price, the seller only when it is strictly below; a trade exactly at
// settlement loses for both sides.
func binaryPnL(trades []*market.Trade, settlementValue int64) map[string]int64 {
	out := make(map[string]int64)
	for _, t := range trades {
		if settlementValue > t.Price {
			out[t.BuyerID] += t.Quantity
		} else {
			out[t.BuyerID] -= t.Quantity
		}
		if settlementValue < t.Price {
			out[t.SellerID] += t.Quantity
		} else {
			out[t.SellerID] -= t.Quantity
		}
	}
	return out
}

// LeaderboardEntry aggregates a user's results across all settled markets.
type LeaderboardEntry struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name,omitempty"`
	TotalLinearPnL int64  `json:"total_linear_pnl"`
	TotalBinaryPnL int64  `json:"total_binary_pnl"`
	MarketsTraded  int    `json:"markets_traded"`
}

// Leaderboard totals linear and binary P&L per user over every settled
// market, sorted by linear P&L descending.
func (e *Engine) Leaderboard() ([]*LeaderboardEntry, error) {
	settled, err := e.store.SettledMarkets()
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*LeaderboardEntry)
	for _, m := range settled {
		results, err := e.computeResults(m.ID, m.SettlementValue)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			entry, ok := totals[r.UserID]
			if !ok {
				entry = &LeaderboardEntry{UserID: r.UserID, DisplayName: r.DisplayName}
				totals[r.UserID] = entry
			}
			entry.TotalLinearPnL += r.LinearPnL
			entry.TotalBinaryPnL += r.BinaryPnL
			entry.MarketsTraded++
		}
	}

	entries := make([]*LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalLinearPnL != entries[j].TotalLinearPnL {
			return entries[i].TotalLinearPnL > entries[j].TotalLinearPnL
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}
