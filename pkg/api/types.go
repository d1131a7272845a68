package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// PairInfo describes one registered trading pair.
type PairInfo struct {
	Symbol     string `json:"symbol"`     // e.g., "BT-QT"
	BaseAsset  string `json:"baseAsset"`  // e.g., "BT"
	QuoteAsset string `json:"quoteAsset"` // e.g., "QT"
	Operator   string `json:"operator"`   // spender address for allowances
}

// BookSnapshot is the aggregated book state of one pair.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // sorted high to low
	Asks      []PriceLevel `json:"asks"`      // sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is a [price, quantity] tuple.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// BestQuote carries the top of book; a missing side is null.
type BestQuote struct {
	Symbol string      `json:"symbol"`
	Bid    *PriceLevel `json:"bid"`
	Ask    *PriceLevel `json:"ask"`
}

// TradeInfo is one executed trade.
type TradeInfo struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	Timestamp   int64  `json:"timestamp"`
}

// AssetBalance is one account's standing on one asset ledger.
type AssetBalance struct {
	Asset     string `json:"asset"`
	Balance   int64  `json:"balance"`
	Allowance int64  `json:"allowance"` // granted to the exchange operator
}

// AccountInfo aggregates an account across all asset ledgers.
type AccountInfo struct {
	Address  string         `json:"address"`
	Balances []AssetBalance `json:"balances"`
}

// OrderInfo is a resting order.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Remaining int64  `json:"remaining"`
	CreatedAt int64  `json:"createdAt"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Symbol   string `json:"symbol"`
	Trader   string `json:"trader"` // 0x address
	Side     string `json:"side"`   // "buy" or "sell"
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// PlaceOrderResponse reports the outcome of an order submission.
// OrderID is 0 when the order filled completely and nothing rests.
type PlaceOrderResponse struct {
	OrderID uint64      `json:"orderId"`
	Rested  bool        `json:"rested"`
	Trades  []TradeInfo `json:"trades"`
}

// CancelOrderResponse reports a successful cancellation.
type CancelOrderResponse struct {
	OrderID   uint64 `json:"orderId"`
	Remaining int64  `json:"remaining"` // unfilled quantity released
}

// FaucetRequest mints dev funds onto an asset ledger.
type FaucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// ApproveRequest grants the exchange operator an allowance.
type ApproveRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:BT-QT", "book:BT-QT"]
}

// TradeUpdate is broadcast on the trades:{symbol} channel.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// BookUpdate is broadcast on the book:{symbol} channel after each order.
type BookUpdate struct {
	Type      string       `json:"type"` // "book"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}
