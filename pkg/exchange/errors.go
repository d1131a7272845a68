package exchange

import "errors"

var (
	// ErrInvalidOrder rejects non-positive price or quantity (or a notional
	// that overflows int64) before any state is read.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInsufficientBalance means the trader does not hold enough of the
	// asset it would give up for the full requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance means the engine is not authorized to move
	// enough of the trader's give-asset for the full requested amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrSettlementFailed means a ledger transfer was rejected mid-match.
	// The whole placeOrder call is rolled back; book and ledgers are left
	// exactly as they were before the call.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrOrderNotFound is returned when removing or cancelling an order
	// that is not resting in the book.
	ErrOrderNotFound = errors.New("order not found")
)
