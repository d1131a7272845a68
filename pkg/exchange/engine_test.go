package exchange_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openclob/tokenex/pkg/exchange"
	"github.com/openclob/tokenex/pkg/ledger"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000Ec0De")
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol    = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

func newTestEngine(t *testing.T) (*exchange.Engine, *ledger.Token, *ledger.Token) {
	t.Helper()
	base := ledger.NewToken("Base Token", "BT")
	quote := ledger.NewToken("Quote Token", "QT")
	pair := exchange.Pair{Symbol: "BT-QT", BaseAsset: "BT", QuoteAsset: "QT"}
	eng := exchange.NewEngine(pair, base, quote, operator, zap.NewNop().Sugar())
	return eng, base, quote
}

// fund mints and grants the operator a matching allowance
func fund(t *testing.T, tok *ledger.Token, addr common.Address, amount int64) {
	t.Helper()
	if err := tok.Mint(addr, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Approve(addr, operator, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

// TestPlaceOrderRests tests that an uncrossed order rests without moving funds
func TestPlaceOrderRests(t *testing.T) {
	eng, base, quote := newTestEngine(t)
	fund(t, quote, alice, 1000)

	id, trades, err := eng.PlaceOrder(alice, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if id == exchange.NoOrder {
		t.Fatal("expected a resting order id")
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if bid, ok := eng.BestBid(); !ok || bid.Price != 100 || bid.Quantity != 10 {
		t.Fatalf("best bid: got %+v ok=%v", bid, ok)
	}
	if got := quote.BalanceOf(alice); got != 1000 {
		t.Errorf("quote balance moved on rest: got %d, want 1000", got)
	}
	if got := base.BalanceOf(alice); got != 0 {
		t.Errorf("base balance moved on rest: got %d, want 0", got)
	}
}

// TestPlaceOrderSweep tests a large buy sweeping two ask levels at maker
// prices and resting its remainder.
func TestPlaceOrderSweep(t *testing.T) {
	eng, base, quote := newTestEngine(t)
	fund(t, base, alice, 100)
	fund(t, base, bob, 500)
	fund(t, quote, carol, 110000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 100); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	if _, _, err := eng.PlaceOrder(bob, exchange.Sell, 105, 500); err != nil {
		t.Fatalf("bob sell: %v", err)
	}

	id, trades, err := eng.PlaceOrder(carol, exchange.Buy, 110, 1000)
	if err != nil {
		t.Fatalf("carol buy: %v", err)
	}

	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Price != 100 || trades[0].Quantity != 100 {
		t.Errorf("first fill: got %d@%d, want 100@100", trades[0].Quantity, trades[0].Price)
	}
	if trades[1].Price != 105 || trades[1].Quantity != 500 {
		t.Errorf("second fill: got %d@%d, want 500@105", trades[1].Quantity, trades[1].Price)
	}

	if id == exchange.NoOrder {
		t.Fatal("expected remainder to rest")
	}
	if bid, ok := eng.BestBid(); !ok || bid.Price != 110 || bid.Quantity != 400 {
		t.Fatalf("rested remainder: got %+v ok=%v, want 400@110", bid, ok)
	}
	if _, ok := eng.BestAsk(); ok {
		t.Fatal("ask side should be empty")
	}

	// Settlement: carol paid 100*100 + 500*105 = 62500 and received 600 BT.
	if got := base.BalanceOf(carol); got != 600 {
		t.Errorf("carol base: got %d, want 600", got)
	}
	if got := quote.BalanceOf(carol); got != 110000-62500 {
		t.Errorf("carol quote: got %d, want %d", got, 110000-62500)
	}
	if got := quote.BalanceOf(alice); got != 10000 {
		t.Errorf("alice quote: got %d, want 10000", got)
	}
	if got := quote.BalanceOf(bob); got != 52500 {
		t.Errorf("bob quote: got %d, want 52500", got)
	}
	if got := base.BalanceOf(alice); got != 0 {
		t.Errorf("alice base: got %d, want 0", got)
	}
	if got := base.BalanceOf(bob); got != 0 {
		t.Errorf("bob base: got %d, want 0", got)
	}

	// Conservation across both ledgers.
	if total := base.BalanceOf(alice) + base.BalanceOf(bob) + base.BalanceOf(carol); total != 600 {
		t.Errorf("base supply leaked: got %d, want 600", total)
	}
	if total := quote.BalanceOf(alice) + quote.BalanceOf(bob) + quote.BalanceOf(carol); total != 110000 {
		t.Errorf("quote supply leaked: got %d, want 110000", total)
	}
}

// TestIncomingSellTakesRestingBuy tests the sell-taker direction: a resting
// buy of 1000 is hit by two sells of 100 and 500, shrinking to 900 then 400.
func TestIncomingSellTakesRestingBuy(t *testing.T) {
	eng, base, quote := newTestEngine(t)
	fund(t, quote, carol, 100000)
	fund(t, base, alice, 100)
	fund(t, base, bob, 500)

	restID, _, err := eng.PlaceOrder(carol, exchange.Buy, 100, 1000)
	if err != nil {
		t.Fatalf("carol buy: %v", err)
	}

	id, trades, err := eng.PlaceOrder(alice, exchange.Sell, 100, 100)
	if err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	if id != exchange.NoOrder {
		t.Fatal("alice's sell should fill completely")
	}
	if len(trades) != 1 || trades[0].Price != 100 || trades[0].Quantity != 100 {
		t.Fatalf("first fill: got %+v, want 100@100", trades)
	}
	if trades[0].Buyer != carol || trades[0].Seller != alice {
		t.Errorf("first fill parties: buyer=%s seller=%s", trades[0].Buyer.Hex(), trades[0].Seller.Hex())
	}
	if trades[0].BuyOrderID != restID {
		t.Errorf("buy order id: got %d, want %d", trades[0].BuyOrderID, restID)
	}
	if got := eng.Depth(exchange.Buy, 100); got != 900 {
		t.Fatalf("depth after first fill: got %d, want 900", got)
	}
	if got := base.BalanceOf(carol); got != 100 {
		t.Errorf("carol base: got %d, want 100", got)
	}
	if got := quote.BalanceOf(alice); got != 10000 {
		t.Errorf("alice quote: got %d, want 10000", got)
	}

	_, trades, err = eng.PlaceOrder(bob, exchange.Sell, 100, 500)
	if err != nil {
		t.Fatalf("bob sell: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 500 {
		t.Fatalf("second fill: got %+v, want 500@100", trades)
	}
	if trades[0].Buyer != carol || trades[0].Seller != bob {
		t.Errorf("second fill parties: buyer=%s seller=%s", trades[0].Buyer.Hex(), trades[0].Seller.Hex())
	}
	if got := eng.Depth(exchange.Buy, 100); got != 400 {
		t.Fatalf("depth after second fill: got %d, want 400", got)
	}
	if bid, ok := eng.BestBid(); !ok || bid.Price != 100 || bid.Quantity != 400 {
		t.Fatalf("resting remainder: got %+v ok=%v, want 400@100", bid, ok)
	}

	if got := base.BalanceOf(carol); got != 600 {
		t.Errorf("carol base: got %d, want 600", got)
	}
	if got := quote.BalanceOf(carol); got != 100000-60000 {
		t.Errorf("carol quote: got %d, want %d", got, 100000-60000)
	}
	if got := quote.BalanceOf(bob); got != 50000 {
		t.Errorf("bob quote: got %d, want 50000", got)
	}
	if got := base.BalanceOf(alice) + base.BalanceOf(bob); got != 0 {
		t.Errorf("seller base remaining: got %d, want 0", got)
	}
}

// TestMakerPriceExecution tests that fills execute at the resting price
func TestMakerPriceExecution(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, quote, bob, 1100)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	_, trades, err := eng.PlaceOrder(bob, exchange.Buy, 110, 10)
	if err != nil {
		t.Fatalf("bob buy: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 100 {
		t.Fatalf("expected one fill at maker price 100, got %+v", trades)
	}
	// Bob pays the maker price, not his limit.
	if got := quote.BalanceOf(bob); got != 1100-1000 {
		t.Errorf("bob quote: got %d, want 100", got)
	}
}

// TestEqualPriceFIFO tests time priority between makers at one price
func TestEqualPriceFIFO(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, b, bob, 10)
	fund(t, quote, carol, 1000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	if _, _, err := eng.PlaceOrder(bob, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("bob sell: %v", err)
	}

	_, trades, err := eng.PlaceOrder(carol, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("carol buy: %v", err)
	}
	if len(trades) != 1 || trades[0].Seller != alice {
		t.Fatalf("expected first-in maker to fill, got %+v", trades)
	}
	// Alice sold out; bob's order is untouched.
	if got := eng.Depth(exchange.Sell, 100); got != 10 {
		t.Errorf("resting depth: got %d, want 10", got)
	}
}

// TestPartialMakerKeepsPriority tests that a partially filled maker stays
// in front of later arrivals at its price.
func TestPartialMakerKeepsPriority(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, b, bob, 10)
	fund(t, quote, carol, 2000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	// Partial fill leaves alice with 6 remaining.
	if _, _, err := eng.PlaceOrder(carol, exchange.Buy, 100, 4); err != nil {
		t.Fatalf("carol buy 4: %v", err)
	}
	if _, _, err := eng.PlaceOrder(bob, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("bob sell: %v", err)
	}

	_, trades, err := eng.PlaceOrder(carol, exchange.Buy, 100, 6)
	if err != nil {
		t.Fatalf("carol buy 6: %v", err)
	}
	if len(trades) != 1 || trades[0].Seller != alice || trades[0].Quantity != 6 {
		t.Fatalf("expected alice's remainder to fill first, got %+v", trades)
	}
}

// TestPlaceOrderValidation tests rejection of malformed orders
func TestPlaceOrderValidation(t *testing.T) {
	eng, _, quote := newTestEngine(t)
	fund(t, quote, alice, 1000)

	tests := []struct {
		name     string
		price    int64
		quantity int64
	}{
		{"zero price", 0, 10},
		{"zero quantity", 100, 0},
		{"negative price", -5, 10},
		{"negative quantity", 100, -1},
		{"notional overflow", 1 << 62, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := eng.PlaceOrder(alice, exchange.Buy, tt.price, tt.quantity)
			if !errors.Is(err, exchange.ErrInvalidOrder) {
				t.Fatalf("got %v, want ErrInvalidOrder", err)
			}
		})
	}
	if _, ok := eng.BestBid(); ok {
		t.Fatal("rejected orders must not rest")
	}
}

// TestPreTradeChecks tests the full-notional balance and allowance gates
func TestPreTradeChecks(t *testing.T) {
	eng, b, quote := newTestEngine(t)

	// Buy needs price*quantity of the quote asset.
	if err := quote.Mint(alice, 999); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := quote.Approve(alice, operator, 10000); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, _, err := eng.PlaceOrder(alice, exchange.Buy, 100, 10)
	if !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Fatalf("short balance: got %v, want ErrInsufficientBalance", err)
	}

	// Enough balance, allowance short of the notional.
	if err := quote.Mint(alice, 1); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := quote.Approve(alice, operator, 999); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, _, err = eng.PlaceOrder(alice, exchange.Buy, 100, 10)
	if !errors.Is(err, exchange.ErrInsufficientAllowance) {
		t.Fatalf("short allowance: got %v, want ErrInsufficientAllowance", err)
	}

	// Sell needs the base quantity, not the notional.
	fund(t, b, bob, 9)
	_, _, err = eng.PlaceOrder(bob, exchange.Sell, 100, 10)
	if !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Fatalf("short base: got %v, want ErrInsufficientBalance", err)
	}

	if _, ok := eng.BestBid(); ok {
		t.Fatal("rejected orders must not rest")
	}
	if _, ok := eng.BestAsk(); ok {
		t.Fatal("rejected orders must not rest")
	}
}

// TestSettlementRollback tests that a failing transfer undoes the whole call
func TestSettlementRollback(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, quote, bob, 1000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	// Alice revokes the operator's allowance after resting.
	if err := b.Approve(alice, operator, 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	id, trades, err := eng.PlaceOrder(bob, exchange.Buy, 100, 10)
	if !errors.Is(err, exchange.ErrSettlementFailed) {
		t.Fatalf("got %v, want ErrSettlementFailed", err)
	}
	if id != exchange.NoOrder || len(trades) != 0 {
		t.Fatalf("failed call leaked results: id=%d trades=%d", id, len(trades))
	}

	// The maker is back untouched and no funds moved.
	if ask, ok := eng.BestAsk(); !ok || ask.Price != 100 || ask.Quantity != 10 {
		t.Fatalf("maker not restored: got %+v ok=%v", ask, ok)
	}
	if got := quote.BalanceOf(bob); got != 1000 {
		t.Errorf("bob quote: got %d, want 1000", got)
	}
	if got := b.BalanceOf(alice); got != 10 {
		t.Errorf("alice base: got %d, want 10", got)
	}

	// Alice re-approves; the retry succeeds.
	if err := b.Approve(alice, operator, 10); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	_, trades, err = eng.PlaceOrder(bob, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 10 {
		t.Fatalf("retry fills: got %+v", trades)
	}
}

// TestSettlementRollbackMultiFill tests that an aborted sweep undoes fills
// that had already settled within the same call.
func TestSettlementRollbackMultiFill(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, b, bob, 10)
	fund(t, quote, carol, 3000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("alice sell: %v", err)
	}
	if _, _, err := eng.PlaceOrder(bob, exchange.Sell, 101, 10); err != nil {
		t.Fatalf("bob sell: %v", err)
	}
	// Bob revokes; the second fill of carol's sweep must fail.
	if err := b.Approve(bob, operator, 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, _, err := eng.PlaceOrder(carol, exchange.Buy, 101, 20)
	if !errors.Is(err, exchange.ErrSettlementFailed) {
		t.Fatalf("got %v, want ErrSettlementFailed", err)
	}

	// Both makers restored, first fill's settlement undone.
	if got := eng.Depth(exchange.Sell, 100); got != 10 {
		t.Errorf("alice depth: got %d, want 10", got)
	}
	if got := eng.Depth(exchange.Sell, 101); got != 10 {
		t.Errorf("bob depth: got %d, want 10", got)
	}
	if got := b.BalanceOf(alice); got != 10 {
		t.Errorf("alice base: got %d, want 10", got)
	}
	if got := b.BalanceOf(carol); got != 0 {
		t.Errorf("carol base: got %d, want 0", got)
	}
	if got := quote.BalanceOf(carol); got != 3000 {
		t.Errorf("carol quote: got %d, want 3000", got)
	}
	if got := quote.BalanceOf(alice); got != 0 {
		t.Errorf("alice quote: got %d, want 0", got)
	}
}

// TestSelfTrade tests that one trader may take their own resting order
func TestSelfTrade(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, quote, alice, 1000)

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("sell: %v", err)
	}
	_, trades, err := eng.PlaceOrder(alice, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected one fill, got %d", len(trades))
	}
	// Both legs net out.
	if got := b.BalanceOf(alice); got != 10 {
		t.Errorf("base: got %d, want 10", got)
	}
	if got := quote.BalanceOf(alice); got != 1000 {
		t.Errorf("quote: got %d, want 1000", got)
	}
}

// TestCancel tests owner-only cancellation
func TestCancel(t *testing.T) {
	eng, _, quote := newTestEngine(t)
	fund(t, quote, alice, 1000)

	id, _, err := eng.PlaceOrder(alice, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Foreign trader cannot cancel, and learns nothing.
	if _, err := eng.Cancel(bob, id); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("foreign cancel: got %v, want ErrOrderNotFound", err)
	}
	if _, ok := eng.BestBid(); !ok {
		t.Fatal("foreign cancel must not remove the order")
	}

	removed, err := eng.Cancel(alice, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if removed.Remaining != 10 {
		t.Errorf("remaining: got %d, want 10", removed.Remaining)
	}
	if _, ok := eng.BestBid(); ok {
		t.Fatal("order still resting after cancel")
	}

	if _, err := eng.Cancel(alice, id); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("double cancel: got %v, want ErrOrderNotFound", err)
	}
	if _, err := eng.Cancel(alice, 9999); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("unknown id: got %v, want ErrOrderNotFound", err)
	}
}

// TestOnTradeCallback tests that committed trades reach the callback
func TestOnTradeCallback(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, quote, bob, 1000)

	var seen []exchange.Trade
	eng.OnTrade = func(tr exchange.Trade) { seen = append(seen, tr) }

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, _, err := eng.PlaceOrder(bob, exchange.Buy, 100, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(seen))
	}
	if seen[0].Buyer != bob || seen[0].Seller != alice {
		t.Errorf("trade parties: got buyer=%s seller=%s", seen[0].Buyer.Hex(), seen[0].Seller.Hex())
	}
	if seen[0].ID == "" {
		t.Error("trade id missing")
	}
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// TestPinnedClock tests that order and trade timestamps come from the
// engine's clock.
func TestPinnedClock(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, b, alice, 10)
	fund(t, quote, bob, 1000)

	pinned := time.UnixMilli(1700000000000)
	eng.Clock = fixedClock{now: pinned}

	if _, _, err := eng.PlaceOrder(alice, exchange.Sell, 100, 10); err != nil {
		t.Fatalf("sell: %v", err)
	}
	orders := eng.OpenOrders(alice)
	if len(orders) != 1 || orders[0].CreatedAt != pinned.UnixMilli() {
		t.Fatalf("created at: got %+v, want ts %d", orders, pinned.UnixMilli())
	}

	_, trades, err := eng.PlaceOrder(bob, exchange.Buy, 100, 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(trades) != 1 || trades[0].Timestamp != pinned.UnixMilli() {
		t.Fatalf("trade timestamp: got %+v, want %d", trades, pinned.UnixMilli())
	}
}

// TestOpenOrders tests the per-trader open order listing
func TestOpenOrders(t *testing.T) {
	eng, b, quote := newTestEngine(t)
	fund(t, quote, alice, 10000)
	fund(t, b, alice, 100)
	fund(t, quote, bob, 10000)

	id1, _, _ := eng.PlaceOrder(alice, exchange.Buy, 90, 5)
	id2, _, _ := eng.PlaceOrder(alice, exchange.Sell, 120, 5)
	eng.PlaceOrder(bob, exchange.Buy, 80, 5)

	orders := eng.OpenOrders(alice)
	if len(orders) != 2 {
		t.Fatalf("open orders: got %d, want 2", len(orders))
	}
	if orders[0].ID != id1 || orders[1].ID != id2 {
		t.Errorf("ordering: got %d,%d want %d,%d", orders[0].ID, orders[1].ID, id1, id2)
	}
}
