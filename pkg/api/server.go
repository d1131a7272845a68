package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openclob/tokenex/pkg/exchange"
	"github.com/openclob/tokenex/pkg/ledger"
	"github.com/openclob/tokenex/pkg/storage"
)

// Server handles REST API and WebSocket connections
type Server struct {
	exch     *exchange.Exchange
	ledgers  map[string]*ledger.Token // asset symbol -> ledger
	trades   *storage.TradeStore
	router   *mux.Router
	hub      *Hub
	metrics  *Metrics
	registry *prometheus.Registry
	log      *zap.SugaredLogger

	corsOrigins []string
}

// NewServer creates a new API server
func NewServer(exch *exchange.Exchange, ledgers map[string]*ledger.Token, trades *storage.TradeStore, corsOrigins []string, log *zap.SugaredLogger) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		exch:        exch,
		ledgers:     ledgers,
		trades:      trades,
		router:      mux.NewRouter(),
		hub:         NewHub(log),
		metrics:     NewMetrics(reg),
		registry:    reg,
		log:         log,
		corsOrigins: corsOrigins,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{symbol}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{symbol}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/pairs/{symbol}/book/best", s.handleGetBest).Methods("GET")
	api.HandleFunc("/pairs/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")

	// Order submission and cancellation
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{symbol}/{id}", s.handleCancelOrder).Methods("DELETE")

	// Dev ledger endpoints (in-process token ledgers)
	api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	api.HandleFunc("/approve", s.handleApprove).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Observability
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.exch.Pairs()

	response := make([]PairInfo, 0, len(pairs))
	for _, p := range pairs {
		eng, err := s.exch.Engine(p.Symbol)
		if err != nil {
			continue
		}
		response = append(response, pairInfo(p, eng))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, pairInfo(eng.Pair(), eng))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	bids, asks := eng.Levels()
	respondJSON(w, BookSnapshot{
		Symbol:    eng.Pair().Symbol,
		Bids:      toAPILevels(bids),
		Asks:      toAPILevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	quote := BestQuote{Symbol: eng.Pair().Symbol}
	if bid, ok := eng.BestBid(); ok {
		quote.Bid = &PriceLevel{Price: bid.Price, Quantity: bid.Quantity}
	}
	if ask, ok := eng.BestAsk(); ok {
		quote.Ask = &PriceLevel{Price: ask.Price, Quantity: ask.Quantity}
	}
	respondJSON(w, quote)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.trades.RecentTrades(eng.Pair().Symbol, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = toTradeInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}

	// Report the allowance granted to each pair's operator; all pairs
	// share one operator in this process.
	var operator common.Address
	for _, p := range s.exch.Pairs() {
		if eng, err := s.exch.Engine(p.Symbol); err == nil {
			operator = eng.Operator()
			break
		}
	}

	balances := make([]AssetBalance, 0, len(s.ledgers))
	for asset, tok := range s.ledgers {
		balances = append(balances, AssetBalance{
			Asset:     asset,
			Balance:   tok.BalanceOf(addr),
			Allowance: tok.AllowanceOf(addr, operator),
		})
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Balances: balances})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}

	response := make([]OrderInfo, 0)
	for _, p := range s.exch.Pairs() {
		eng, err := s.exch.Engine(p.Symbol)
		if err != nil {
			continue
		}
		for _, o := range eng.OpenOrders(addr) {
			response = append(response, OrderInfo{
				ID:        uint64(o.ID),
				Symbol:    p.Symbol,
				Side:      o.Side.String(),
				Price:     o.Price,
				Quantity:  o.Quantity,
				Remaining: o.Remaining,
				CreatedAt: o.CreatedAt,
			})
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	eng, err := s.exch.Engine(req.Symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "pair not found", err.Error())
		return
	}
	if !common.IsHexAddress(req.Trader) {
		respondError(w, http.StatusBadRequest, "invalid trader address", req.Trader)
		return
	}
	var side exchange.Side
	switch req.Side {
	case "buy":
		side = exchange.Buy
	case "sell":
		side = exchange.Sell
	default:
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}

	trader := common.HexToAddress(req.Trader)
	orderID, trades, err := eng.PlaceOrder(trader, side, req.Price, req.Quantity)
	if err != nil {
		s.metrics.orderRejected(req.Symbol, rejectReason(err))
		respondEngineError(w, err)
		return
	}

	s.metrics.orderAccepted(req.Symbol, req.Side)
	response := PlaceOrderResponse{
		OrderID: uint64(orderID),
		Rested:  orderID != exchange.NoOrder,
		Trades:  make([]TradeInfo, len(trades)),
	}
	for i, t := range trades {
		response.Trades[i] = toTradeInfo(t)
		s.metrics.tradeExecuted(t.Symbol, t.Quantity)
	}

	s.broadcastBook(eng)
	respondJSON(w, response)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	traderStr := r.URL.Query().Get("trader")
	if !common.IsHexAddress(traderStr) {
		respondError(w, http.StatusBadRequest, "invalid trader address", traderStr)
		return
	}

	removed, err := eng.Cancel(common.HexToAddress(traderStr), exchange.OrderID(id))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.broadcastBook(eng)
	respondJSON(w, CancelOrderResponse{OrderID: uint64(removed.ID), Remaining: removed.Remaining})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	tok, ok := s.ledgers[req.Asset]
	if !ok {
		respondError(w, http.StatusNotFound, "asset not found", req.Asset)
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "invalid address", req.Address)
		return
	}
	if err := tok.Mint(common.HexToAddress(req.Address), req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "mint failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	tok, ok := s.ledgers[req.Asset]
	if !ok {
		respondError(w, http.StatusNotFound, "asset not found", req.Asset)
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", req.Owner)
		return
	}

	// The grant goes to the exchange operator shared by all pairs.
	var operator common.Address
	for _, p := range s.exch.Pairs() {
		if eng, err := s.exch.Engine(p.Symbol); err == nil {
			operator = eng.Operator()
			break
		}
	}

	if err := tok.Approve(common.HexToAddress(req.Owner), operator, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "approve failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastTrade publishes a trade to subscribed WebSocket clients.
// Wired to the engine's OnTrade callback in cmd/exchanged.
func (s *Server) BroadcastTrade(t exchange.Trade) {
	s.hub.BroadcastToChannel("trades:"+t.Symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    t.Symbol,
		Price:     t.Price,
		Quantity:  t.Quantity,
		Timestamp: t.Timestamp,
	})
}

func (s *Server) broadcastBook(eng *exchange.Engine) {
	bids, asks := eng.Levels()
	s.hub.BroadcastToChannel("book:"+eng.Pair().Symbol, BookUpdate{
		Type:      "book",
		Symbol:    eng.Pair().Symbol,
		Bids:      toAPILevels(bids),
		Asks:      toAPILevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*exchange.Engine, bool) {
	symbol := mux.Vars(r)["symbol"]
	eng, err := s.exch.Engine(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "pair not found", err.Error())
		return nil, false
	}
	return eng, true
}

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := mux.Vars(r)[name]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pairInfo(p exchange.Pair, eng *exchange.Engine) PairInfo {
	return PairInfo{
		Symbol:     p.Symbol,
		BaseAsset:  p.BaseAsset,
		QuoteAsset: p.QuoteAsset,
		Operator:   eng.Operator().Hex(),
	}
}

func toAPILevels(levels []exchange.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

func toTradeInfo(t exchange.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Price:       t.Price,
		Quantity:    t.Quantity,
		BuyOrderID:  uint64(t.BuyOrderID),
		SellOrderID: uint64(t.SellOrderID),
		Timestamp:   t.Timestamp,
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, exchange.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, exchange.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, exchange.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, exchange.ErrSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, exchange.ErrOrderNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrInsufficientAllowance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrSettlementFailed):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	}
	respondError(w, status, rejectReason(err), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
