package ledger

import "errors"

var (
	ErrInsufficientFunds     = errors.New("insufficient available funds")
	ErrInsufficientInventory = errors.New("insufficient available certificate inventory")
	ErrInsufficientReserved  = errors.New("release or transfer exceeds reserved amount")
	ErrAccountNotFound       = errors.New("account not found")
	ErrHoldingNotFound       = errors.New("holding not found")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
)
