package exchange

import (
	"github.com/ethereum/go-ethereum/common"
)

// Side of an order. Buy gives quote asset for base; Sell the reverse.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the book side an incoming order matches against.
func (s Side) Opposite() Side { return -s }

// OrderID is a per-pair monotonically increasing sequence number.
// The sequence doubles as the time-priority tie-break among equal prices.
// 0 is never assigned; it is the "fully filled, nothing rests" sentinel.
type OrderID uint64

// NoOrder is returned by PlaceOrder when the incoming order filled
// completely and nothing was added to the book.
const NoOrder OrderID = 0

// Order is a resting or incoming trading intent. Everything except
// Remaining is immutable after creation. Remaining only decreases and the
// order leaves the book exactly when it reaches zero.
type Order struct {
	ID        OrderID
	Trader    common.Address
	Side      Side
	Price     int64 // quote units per base unit
	Quantity  int64 // requested base quantity
	Remaining int64
	CreatedAt int64 // Unix milliseconds
}

// Pair identifies one tradable market: base asset priced in quote asset.
type Pair struct {
	Symbol     string // "BT-QT"
	BaseAsset  string // "BT"
	QuoteAsset string // "QT"
}

// Trade records one match. Price is always the maker's (resting order's)
// price. Immutable once created.
type Trade struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	BuyOrderID  OrderID        `json:"buyOrderId"`
	SellOrderID OrderID        `json:"sellOrderId"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	Price       int64          `json:"price"`
	Quantity    int64          `json:"quantity"`
	Timestamp   int64          `json:"timestamp"` // Unix milliseconds
}

// Notional returns the quote amount moved by the trade.
func (t Trade) Notional() int64 { return t.Price * t.Quantity }

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}
