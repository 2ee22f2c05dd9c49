package settlement

import "errors"

var (
	// ErrConcurrentModification is a serialization conflict while applying
	// the atomic ledger update. Retried transparently up to the configured
	// bound.
	ErrConcurrentModification = errors.New("concurrent modification during settlement")

	// ErrSettlementRetryExhausted is returned once the retry bound is hit;
	// every attempt was fully rolled back.
	ErrSettlementRetryExhausted = errors.New("settlement retries exhausted")
)
