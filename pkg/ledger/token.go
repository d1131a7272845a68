// Package ledger provides the in-process asset ledgers the exchange
// settles against: token balances plus spender allowances, with an
// exclusive session type for atomic multi-transfer settlement.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openclob/tokenex/pkg/exchange"
)

// Token is one asset ledger. It tracks balances per account and
// authorized-transfer allowances per owner/spender pair.
type Token struct {
	name   string
	symbol string

	mu          sync.RWMutex
	totalSupply int64
	balances    map[common.Address]int64
	allowances  map[common.Address]map[common.Address]int64 // owner -> spender -> amount
}

func NewToken(name, symbol string) *Token {
	return &Token{
		name:       name,
		symbol:     symbol,
		balances:   make(map[common.Address]int64),
		allowances: make(map[common.Address]map[common.Address]int64),
	}
}

func (t *Token) Name() string   { return t.name }
func (t *Token) Symbol() string { return t.symbol }

// TotalSupply returns the sum of all balances.
func (t *Token) TotalSupply() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply
}

// Mint credits newly issued units to an account.
func (t *Token) Mint(to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances[to] += amount
	t.totalSupply += amount
	return nil
}

// Transfer moves amount from one account to another.
func (t *Token) Transfer(from, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if have := t.balances[from]; have < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", have, amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}

// Approve grants (or overwrites) the spender's allowance over the owner's
// balance. Amount zero revokes.
func (t *Token) Approve(owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("allowance cannot be negative: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	grants, ok := t.allowances[owner]
	if !ok {
		grants = make(map[common.Address]int64)
		t.allowances[owner] = grants
	}
	if amount == 0 {
		delete(grants, spender)
		return nil
	}
	grants[spender] = amount
	return nil
}

// BalanceOf returns an account's balance.
func (t *Token) BalanceOf(account common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

// AllowanceOf returns the spender's remaining allowance over the owner's
// balance.
func (t *Token) AllowanceOf(owner, spender common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// TransferFrom is the authorized pull: the spender moves amount from owner
// to recipient, consuming allowance. Fails if either balance or remaining
// allowance is insufficient at call time.
func (t *Token) TransferFrom(spender, owner, recipient common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if have := t.balances[owner]; have < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", have, amount)
	}
	if have := t.allowances[owner][spender]; have < amount {
		return fmt.Errorf("insufficient allowance: have %d, need %d", have, amount)
	}
	t.balances[owner] -= amount
	t.balances[recipient] += amount
	t.allowances[owner][spender] -= amount
	return nil
}

// Begin opens an exclusive settlement session bound to spender. The token
// is locked until the session commits or discards.
func (t *Token) Begin(spender common.Address) exchange.LedgerTx {
	t.mu.Lock()
	return &Tx{
		token:      t,
		spender:    spender,
		balDelta:   make(map[common.Address]int64),
		allowDelta: make(map[common.Address]int64),
	}
}

var _ exchange.AssetLedger = (*Token)(nil)
