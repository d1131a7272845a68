package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Exchange manages the engines for all registered trading pairs.
// Each pair's book and ledgers form an independent unit of mutual
// exclusion; the registry itself only guards the symbol map.
type Exchange struct {
	mu      sync.RWMutex
	engines map[string]*Engine // symbol -> engine

	// ledgerRank fixes a global acquisition order over every ledger seen
	// at registration, so pairs that share ledgers in swapped roles (A-B
	// alongside B-A) cannot lock them in opposite orders.
	ledgerRank map[AssetLedger]int

	log *zap.SugaredLogger
}

func NewExchange(log *zap.SugaredLogger) *Exchange {
	return &Exchange{
		engines:    make(map[string]*Engine),
		ledgerRank: make(map[AssetLedger]int),
		log:        log,
	}
}

// Register creates and registers the engine for a pair.
// Returns an error if the symbol is already taken.
func (x *Exchange) Register(pair Pair, base, quote AssetLedger, operator common.Address) (*Engine, error) {
	if pair.Symbol == "" {
		return nil, fmt.Errorf("cannot register pair with empty symbol")
	}
	if base == quote {
		return nil, fmt.Errorf("pair %s: base and quote ledger must differ", pair.Symbol)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.engines[pair.Symbol]; exists {
		return nil, fmt.Errorf("pair %s already registered", pair.Symbol)
	}

	eng := NewEngine(pair, base, quote, operator, x.log)
	eng.beginQuoteFirst = x.rank(quote) < x.rank(base)
	x.engines[pair.Symbol] = eng
	x.log.Infow("pair_registered",
		"symbol", pair.Symbol, "base", pair.BaseAsset, "quote", pair.QuoteAsset,
		"operator", operator.Hex())
	return eng, nil
}

// rank returns the ledger's position in the global acquisition order,
// assigning one on first sight. Callers hold x.mu.
func (x *Exchange) rank(l AssetLedger) int {
	r, ok := x.ledgerRank[l]
	if !ok {
		r = len(x.ledgerRank)
		x.ledgerRank[l] = r
	}
	return r
}

// Engine retrieves the engine for a symbol.
func (x *Exchange) Engine(symbol string) (*Engine, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	eng, exists := x.engines[symbol]
	if !exists {
		return nil, fmt.Errorf("pair %s not found", symbol)
	}
	return eng, nil
}

// Pairs returns all registered pairs.
func (x *Exchange) Pairs() []Pair {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pairs := make([]Pair, 0, len(x.engines))
	for _, eng := range x.engines {
		pairs = append(pairs, eng.Pair())
	}
	return pairs
}

// Count returns the number of registered pairs.
func (x *Exchange) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.engines)
}
