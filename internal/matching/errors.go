package matching

import "errors"

var (
	// ErrValidation wraps malformed-order rejections: quantity or price
	// out of range, missing criteria, bad expiry. Rejected before any
	// reservation, so no side effects.
	ErrValidation = errors.New("invalid order")

	ErrOrderNotFound = errors.New("order not found")
	ErrOrderNotOpen  = errors.New("order is not open")
	ErrNotOrderOwner = errors.New("order belongs to a different account")
)
