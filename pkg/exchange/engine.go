package exchange

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclob/tokenex/pkg/util"
)

// Engine is the matching and settlement engine for one trading pair.
//
// A placeOrder call runs to completion as one atomic unit of work: validate,
// match against the opposite book side in price-time priority, settle every
// fill through both asset ledgers, rest any remainder. Either all of it
// becomes visible or none of it does. The engine's mutex is the pair-level
// unit of mutual exclusion; the ledger sessions it opens extend that
// exclusion to the two ledgers for the span of the call.
type Engine struct {
	mu sync.Mutex

	pair     Pair
	base     AssetLedger
	quote    AssetLedger
	operator common.Address

	book    *Book
	settler *Settlement
	nextID  uint64

	// beginQuoteFirst flips session acquisition order. The registry sets it
	// so every engine locks shared ledgers in one global order.
	beginQuoteFirst bool

	log *zap.SugaredLogger

	// Clock stamps orders and trades. Defaults to the wall clock;
	// overridable like OnTrade.
	Clock util.Clock

	// OnTrade, if set, is invoked for every trade after the call committed.
	// Runs under the engine lock; must not call back into the engine.
	OnTrade func(Trade)
}

func NewEngine(pair Pair, base, quote AssetLedger, operator common.Address, log *zap.SugaredLogger) *Engine {
	return &Engine{
		pair:     pair,
		base:     base,
		quote:    quote,
		operator: operator,
		book:     NewBook(),
		settler:  NewSettlement(operator, log),
		Clock:    util.RealClock{},
		log:      log,
	}
}

// Pair returns the market this engine serves.
func (e *Engine) Pair() Pair { return e.pair }

// Operator returns the spender address traders must grant allowances to.
func (e *Engine) Operator() common.Address { return e.operator }

// crosses reports whether an incoming order at limit is marketable against
// a resting order at makerPrice.
func crosses(side Side, limit, makerPrice int64) bool {
	if side == Buy {
		return makerPrice <= limit
	}
	return makerPrice >= limit
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// PlaceOrder validates, matches and settles a new order.
//
// It returns the resting order's id, or NoOrder if the order filled
// completely, together with the trades produced. On any error nothing
// changed: pre-trade failures reject before mutation, and a settlement
// failure rolls back every fill and book mutation of the call.
func (e *Engine) PlaceOrder(trader common.Address, side Side, price, quantity int64) (OrderID, []Trade, error) {
	if price <= 0 || quantity <= 0 {
		return NoOrder, nil, fmt.Errorf("%w: price=%d quantity=%d", ErrInvalidOrder, price, quantity)
	}
	if price > math.MaxInt64/quantity {
		return NoOrder, nil, fmt.Errorf("%w: notional overflows at price=%d quantity=%d", ErrInvalidOrder, price, quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pre-trade checks cover the full requested amount of the give-asset,
	// at the limit price for buys.
	give, need := e.quote, price*quantity
	if side == Sell {
		give, need = e.base, quantity
	}
	if have := give.BalanceOf(trader); have < need {
		return NoOrder, nil, fmt.Errorf("%w: %s %s: have %d, need %d",
			ErrInsufficientBalance, side, e.pair.Symbol, have, need)
	}
	if have := give.AllowanceOf(trader, e.operator); have < need {
		return NoOrder, nil, fmt.Errorf("%w: %s %s: have %d, need %d",
			ErrInsufficientAllowance, side, e.pair.Symbol, have, need)
	}

	incoming := &Order{
		ID:        OrderID(e.nextID + 1),
		Trader:    trader,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: e.Clock.Now().UnixMilli(),
	}

	// Sessions open in the registry's global ledger order so engines that
	// share ledgers in swapped roles never lock them in opposite orders.
	var baseTx, quoteTx LedgerTx
	if e.beginQuoteFirst {
		quoteTx = e.quote.Begin(e.operator)
		baseTx = e.base.Begin(e.operator)
	} else {
		baseTx = e.base.Begin(e.operator)
		quoteTx = e.quote.Begin(e.operator)
	}

	var (
		trades  []Trade
		journal []Order // maker snapshots, for book rollback
	)

	for incoming.Remaining > 0 {
		best, ok := e.book.PeekBest(side.Opposite())
		if !ok || !crosses(side, price, best.Price) {
			break
		}

		maker, err := e.book.Remove(best.ID)
		if err != nil {
			panic(fmt.Sprintf("engine: best order %d vanished: %v", best.ID, err))
		}
		journal = append(journal, *maker)

		fill := min64(incoming.Remaining, maker.Remaining)
		trade := Trade{
			ID:        uuid.NewString(),
			Symbol:    e.pair.Symbol,
			Price:     maker.Price, // maker-price execution
			Quantity:  fill,
			Timestamp: e.Clock.Now().UnixMilli(),
		}
		if side == Buy {
			trade.BuyOrderID, trade.Buyer = incoming.ID, incoming.Trader
			trade.SellOrderID, trade.Seller = maker.ID, maker.Trader
		} else {
			trade.SellOrderID, trade.Seller = incoming.ID, incoming.Trader
			trade.BuyOrderID, trade.Buyer = maker.ID, maker.Trader
		}

		incoming.Remaining -= fill
		maker.Remaining -= fill
		if maker.Remaining > 0 {
			// Original id keeps the maker at the front of its price level.
			e.book.Insert(maker)
		}

		if err := e.settler.Execute(baseTx, quoteTx, trade); err != nil {
			quoteTx.Discard()
			baseTx.Discard()
			e.restoreBook(journal)
			e.log.Warnw("place_order_rolled_back",
				"pair", e.pair.Symbol, "trader", trader.Hex(),
				"fills_undone", len(trades)+1, "err", err)
			return NoOrder, nil, err
		}
		trades = append(trades, trade)
	}

	quoteTx.Commit()
	baseTx.Commit()
	e.nextID++

	rested := NoOrder
	if incoming.Remaining > 0 {
		e.book.Insert(incoming)
		rested = incoming.ID
	}

	e.log.Infow("order_placed",
		"pair", e.pair.Symbol, "trader", trader.Hex(), "side", side.String(),
		"price", price, "quantity", quantity,
		"trades", len(trades), "rested", rested != NoOrder)

	if e.OnTrade != nil {
		for _, t := range trades {
			e.OnTrade(t)
		}
	}
	return rested, trades, nil
}

// restoreBook undoes the match loop's mutations: every journaled maker is
// put back exactly as it was, in reverse order of consumption.
func (e *Engine) restoreBook(journal []Order) {
	for i := len(journal) - 1; i >= 0; i-- {
		snap := journal[i]
		// A partially filled maker was re-inserted; drop the mutated copy.
		// A fully consumed maker is simply gone.
		if _, ok := e.book.Get(snap.ID); ok {
			if _, err := e.book.Remove(snap.ID); err != nil {
				panic(fmt.Sprintf("engine: rollback remove %d: %v", snap.ID, err))
			}
		}
		restored := snap
		e.book.Insert(&restored)
	}
}

// Cancel removes a resting order. Only the order's own trader may cancel
// it; a foreign or unknown id reports ErrOrderNotFound either way.
func (e *Engine) Cancel(trader common.Address, id OrderID) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(id)
	if !ok || o.Trader != trader {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	removed, err := e.book.Remove(id)
	if err != nil {
		return nil, err
	}
	e.log.Infow("order_cancelled",
		"pair", e.pair.Symbol, "trader", trader.Hex(), "id", id, "remaining", removed.Remaining)
	return removed, nil
}

// ==============================
// Read-only book state
// ==============================

// BestBid returns the highest bid level.
func (e *Engine) BestBid() (PriceLevel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BestBid()
}

// BestAsk returns the lowest ask level.
func (e *Engine) BestAsk() (PriceLevel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BestAsk()
}

// Depth returns resting quantity at one price on a side.
func (e *Engine) Depth(side Side, price int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Depth(side, price)
}

// Levels returns the full aggregated book, bids then asks, best first.
func (e *Engine) Levels() (bids, asks []PriceLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BidLevels(), e.book.AskLevels()
}

// OpenOrders returns the trader's resting orders, oldest first.
func (e *Engine) OpenOrders(trader common.Address) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Order
	for _, side := range []Side{Buy, Sell} {
		for _, level := range e.book.levels(side) {
			for _, o := range level {
				if o.Trader == trader {
					out = append(out, *o)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
