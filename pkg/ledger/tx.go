package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openclob/tokenex/pkg/exchange"
)

// Tx is one token's view inside an atomic unit of work. It is created by
// Token.Begin, which takes the token's lock; every transfer stages a delta
// instead of touching the maps, and reads fold staged deltas in. Commit
// applies everything at once, Discard drops it. Both release the token.
//
// Because reads see the session's own staged transfers, a sweep that
// settles several fills against the same owner fails exactly when that
// owner's funds or allowance run out mid-pass.
type Tx struct {
	token   *Token
	spender common.Address

	balDelta   map[common.Address]int64
	allowDelta map[common.Address]int64 // owner -> consumed allowance (for this spender)
	done       bool
}

func (tx *Tx) BalanceOf(account common.Address) int64 {
	return tx.token.balances[account] + tx.balDelta[account]
}

func (tx *Tx) AllowanceOf(owner common.Address) int64 {
	return tx.token.allowances[owner][tx.spender] - tx.allowDelta[owner]
}

// TransferFrom stages an authorized pull from owner to recipient. On
// failure nothing is staged.
func (tx *Tx) TransferFrom(owner, recipient common.Address, amount int64) error {
	if tx.done {
		panic("ledger: transfer on finished session")
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}
	if have := tx.BalanceOf(owner); have < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", have, amount)
	}
	if have := tx.AllowanceOf(owner); have < amount {
		return fmt.Errorf("insufficient allowance: have %d, need %d", have, amount)
	}
	tx.balDelta[owner] -= amount
	tx.balDelta[recipient] += amount
	tx.allowDelta[owner] += amount
	return nil
}

// Commit applies all staged deltas and releases the token.
func (tx *Tx) Commit() {
	if tx.done {
		panic("ledger: commit on finished session")
	}
	for account, delta := range tx.balDelta {
		if delta == 0 {
			continue
		}
		tx.token.balances[account] += delta
	}
	for owner, consumed := range tx.allowDelta {
		if consumed == 0 {
			continue
		}
		tx.token.allowances[owner][tx.spender] -= consumed
	}
	tx.done = true
	tx.token.mu.Unlock()
}

// Discard drops all staged deltas and releases the token.
func (tx *Tx) Discard() {
	if tx.done {
		panic("ledger: discard on finished session")
	}
	tx.done = true
	tx.token.mu.Unlock()
}

var _ exchange.LedgerTx = (*Tx)(nil)
