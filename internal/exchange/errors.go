package exchange

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every rejection of a malformed or out-of-range
// request. All but ErrLimitExceeded happen before the ledger is locked.
var ErrValidation = errors.New("invalid trade request")

var (
	ErrInvalidQuantity  = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrUnknownCoin      = fmt.Errorf("%w: unknown coin", ErrValidation)
	ErrPriceUnavailable = fmt.Errorf("%w: coin has no current price", ErrValidation)
	// ErrLimitExceeded is raised inside the critical section when the new
	// balance or holding would not fit the ledger columns.
	ErrLimitExceeded = fmt.Errorf("%w: ledger limit exceeded", ErrValidation)
)

// Rejections raised inside the critical section. None of them leave a trace
// in the ledger.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientHolding = errors.New("insufficient holding")
	ErrNoSuchHolding       = errors.New("coin not held")
)

// ErrMissingLedgerState means an authenticated user has no cash balance row.
// It points at an account provisioning bug and is never repaired silently.
var ErrMissingLedgerState = errors.New("missing ledger state")

// ErrConflict marks a storage failure that rolled back cleanly and may
// succeed when the whole operation runs again (serialization failure,
// detected deadlock).
var ErrConflict = errors.New("ledger conflict")
