package engine

import (
	"errors"
)

// Rejection sentinels. Handlers match with errors.Is and render the wrapped
// message; none of these are fatal. Storage errors are returned unwrapped
// and should be treated as fatal by the caller.
var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrMarketNotOpen    = errors.New("market is not open for trading")
	ErrSpoofingDetected = errors.New("order would cross your own resting order")
	ErrPositionLimit    = errors.New("position limit exceeded")
	ErrNotFound         = errors.New("order not found")
	ErrNotOwner         = errors.New("order belongs to another user")
	ErrAlreadyInactive  = errors.New("order already filled or cancelled")
	ErrOwnOrder         = errors.New("cannot aggress your own order")
	ErrAlreadySettled   = errors.New("market already settled")
)

// Kind maps a rejection to its stable wire identifier, or "" for errors
// outside the taxonomy.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return "INVALID_ORDER"
	case errors.Is(err, ErrMarketNotOpen):
		return "MARKET_NOT_OPEN"
	case errors.Is(err, ErrSpoofingDetected):
		return "SPOOFING_DETECTED"
	case errors.Is(err, ErrPositionLimit):
		return "POSITION_LIMIT_EXCEEDED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrAlreadyInactive):
		return "ALREADY_INACTIVE"
	case errors.Is(err, ErrOwnOrder):
		return "OWN_ORDER"
	case errors.Is(err, ErrAlreadySettled):
		return "ALREADY_SETTLED"
	}
	return ""
}
