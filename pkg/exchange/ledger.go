package exchange

import "github.com/ethereum/go-ethereum/common"

// AssetLedger is the narrow capability the engine consumes from each of the
// two asset ledgers of a pair. Balances and allowances are non-negative;
// amounts are integer asset units.
//
// The ledgers themselves live outside the engine. The in-process
// implementation is pkg/ledger.Token.
type AssetLedger interface {
	// BalanceOf returns the account's current balance.
	BalanceOf(account common.Address) int64

	// AllowanceOf returns how much of owner's balance the spender is still
	// authorized to move on its behalf.
	AllowanceOf(owner, spender common.Address) int64

	// Begin opens an exclusive settlement session bound to the given
	// spender. The session holds the ledger until Commit or Discard; the
	// engine begins its two sessions in a global ledger order so sessions
	// never deadlock across pairs.
	Begin(spender common.Address) LedgerTx
}

// LedgerTx is one ledger's view inside an atomic unit of work. Transfers
// stage against the session; reads observe earlier uncommitted transfers of
// the same session, so a multi-fill sweep can exhaust funds mid-pass.
// Commit applies all staged effects, Discard drops them. Either way the
// session releases the ledger.
type LedgerTx interface {
	BalanceOf(account common.Address) int64
	AllowanceOf(owner common.Address) int64

	// TransferFrom moves amount from owner to recipient using the
	// allowance owner granted the session's spender. Fails if the owner's
	// effective balance or remaining allowance is insufficient; on failure
	// nothing is staged.
	TransferFrom(owner, recipient common.Address, amount int64) error

	Commit()
	Discard()
}
