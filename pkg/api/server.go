package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hyperlicked-labs/clobvault/pkg/coordinator"
	clobcrypto "github.com/hyperlicked-labs/clobvault/pkg/crypto"
	"github.com/hyperlicked-labs/clobvault/pkg/engine"
	"github.com/hyperlicked-labs/clobvault/pkg/errs"
	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/vault"
)

// Server is the REST + WebSocket boundary in front of the coordinator.
// It holds no domain state of its own; every handler is a thin
// marshal/unmarshal wrapper around coordinator/engine/vault/pair calls.
type Server struct {
	coord  *coordinator.Coordinator
	engine *engine.Engine
	vault  *vault.Vault
	pairs  *pair.Registry
	bus    *events.Bus

	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(coord *coordinator.Coordinator, eng *engine.Engine, v *vault.Vault, pairs *pair.Registry, bus *events.Bus, logger *zap.Logger) *Server {
	s := &Server{
		coord:  coord,
		engine: eng,
		vault:  v,
		pairs:  pairs,
		bus:    bus,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders/batch", s.handleExecuteTradeBatch).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/admin/pairs", s.handleAddPair).Methods("POST")
	api.HandleFunc("/admin/pairs/remove", s.handleRemovePair).Methods("POST")
	api.HandleFunc("/admin/fee-rates", s.handleSetFeeRates).Methods("POST")
	api.HandleFunc("/admin/fees/withdraw", s.handleWithdrawFees).Methods("POST")

	api.HandleFunc("/balances/{user}/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/locked", s.handleGetLockedAmount).Methods("GET")
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{pairId}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/best", s.handleGetBestPrices).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/best-order", s.handleGetBestOrder).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/orders", s.handleGetOrdersPaginated).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub's broadcast loop, the event-bus pump, and the HTTP
// server. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.pumpEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	handler := c.Handler(s.router)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// pumpEvents drains the event bus and rebroadcasts every event to
// WebSocket subscribers of its pair-scoped channel, or of the "events"
// channel for an event that carries no pair. This is the
// non-blocking consumer side of §5's "deferred after lock release" rule:
// it polls rather than blocking the write path.
func (s *Server) pumpEvents() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		for {
			ev, ok := s.bus.Next()
			if !ok {
				break
			}
			s.broadcastEvent(ev)
		}
	}
}

func (s *Server) broadcastEvent(ev events.Event) {
	channel := "events"
	if pairID, ok := pairIDOf(ev.Data); ok {
		channel = "pair:" + hexutil.Encode(pairID[:])
	}
	s.hub.BroadcastToChannel(channel, WSMessage{Type: string(ev.Type), Data: ev.Data})
}

func pairIDOf(data interface{}) (pair.ID, bool) {
	switch d := data.(type) {
	case events.OrderPlacedData:
		return d.PairID, true
	case events.TradeExecutedData:
		return d.PairID, true
	case events.OrderCancelledData:
		return d.PairID, true
	case events.PairChangedData:
		return d.PairID, true
	default:
		return pair.ID{}, false
	}
}

// ==============================
// write handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid request body"))
		return
	}
	amount, err := parseUint256(req.Amount)
	if err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid amount"))
		return
	}
	err = s.coord.Deposit(common.HexToAddress(req.User), common.HexToAddress(req.Asset), amount, req.Decimals)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid request body"))
		return
	}
	amount, err := parseUint256(req.Amount)
	if err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid amount"))
		return
	}
	if err := s.coord.Withdraw(common.HexToAddress(req.User), common.HexToAddress(req.Asset), amount); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecuteTradeBatch(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTradeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid request body"))
		return
	}

	results := make([]TradeResult, len(req.Requests))
	for i, sr := range req.Requests {
		tr, sig, err := toTradeRequest(sr)
		if err != nil {
			results[i] = TradeResult{Error: string(errs.InvalidSignature), Message: err.Error()}
			continue
		}
		orderID, err := s.coord.ExecuteTrade(tr, sig)
		if err != nil {
			kind, _ := errs.KindOf(err)
			results[i] = TradeResult{Error: string(kind), Message: err.Error()}
			continue
		}
		results[i] = TradeResult{OrderID: fmt.Sprintf("%d", orderID)}
	}
	respondJSON(w, http.StatusOK, results)
}

func toTradeRequest(sr SignedTradeRequest) (*clobcrypto.TradeRequest, []byte, error) {
	amount, ok := new(big.Int).SetString(sr.Amount, 10)
	if !ok {
		return nil, nil, fmt.Errorf("invalid amount")
	}
	price := big.NewInt(0)
	if sr.Price != "" {
		price, ok = new(big.Int).SetString(sr.Price, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid price")
		}
	}
	deadline := big.NewInt(0)
	if sr.Deadline != "" {
		deadline, ok = new(big.Int).SetString(sr.Deadline, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid deadline")
		}
	}
	sig, err := hexutil.Decode(sr.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid signature encoding")
	}
	return &clobcrypto.TradeRequest{
		User:          common.HexToAddress(sr.User),
		Base:          common.HexToAddress(sr.Base),
		Quote:         common.HexToAddress(sr.Quote),
		Side:          sr.Side,
		Price:         price,
		Amount:        amount,
		PreApprovalID: sr.PreApprovalID,
		Deadline:      deadline,
	}, sig, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.UnknownOrder, "invalid request body"))
		return
	}
	orderID, ok := new(big.Int).SetString(req.OrderID, 10)
	if !ok {
		respondError(w, errs.New(errs.UnknownOrder, "invalid order id"))
		return
	}
	deadline := big.NewInt(0)
	if req.Deadline != "" {
		deadline, ok = new(big.Int).SetString(req.Deadline, 10)
		if !ok {
			respondError(w, errs.New(errs.InvalidSignature, "invalid deadline"))
			return
		}
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		respondError(w, errs.New(errs.InvalidSignature, "invalid signature encoding"))
		return
	}
	cr := &clobcrypto.CancelRequest{
		User:          common.HexToAddress(req.User),
		OrderID:       orderID,
		PreApprovalID: req.PreApprovalID,
		Deadline:      deadline,
	}
	if err := s.coord.CancelOrder(cr, sig); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ==============================
// admin handlers
// ==============================

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	var req AddPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.InvalidPair, "invalid request body"))
		return
	}
	minAmount, err := parseUint256(req.MinAmount)
	if err != nil {
		respondError(w, errs.New(errs.AmountBelowMinimum, "invalid minAmount"))
		return
	}
	id, err := s.coord.AddPair(common.HexToAddress(req.Caller), common.HexToAddress(req.Base), common.HexToAddress(req.Quote), minAmount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"pairId": hexutil.Encode(id[:])})
}

func (s *Server) handleRemovePair(w http.ResponseWriter, r *http.Request) {
	var req RemovePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.InvalidPair, "invalid request body"))
		return
	}
	id, err := parsePairID(req.PairID)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := s.coord.RemovePair(common.HexToAddress(req.Caller), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleSetFeeRates(w http.ResponseWriter, r *http.Request) {
	var req SetFeeRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.NotAuthorized, "invalid request body"))
		return
	}
	if err := s.coord.SetFeeRates(common.HexToAddress(req.Caller), req.MakerBps, req.TakerBps); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req WithdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errs.New(errs.NotAuthorized, "invalid request body"))
		return
	}
	total, err := s.coord.WithdrawFees(common.HexToAddress(req.Caller), common.HexToAddress(req.Asset))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"total": total.Dec()})
}

// ==============================
// read handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := common.HexToAddress(vars["user"])
	asset := common.HexToAddress(vars["asset"])
	respondJSON(w, http.StatusOK, BalanceResponse{
		User:   user.Hex(),
		Asset:  asset.Hex(),
		Amount: s.vault.GetBalance(user, asset).Dec(),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	order, ok := s.engine.GetOrder(id)
	if !ok {
		respondError(w, errs.New(errs.UnknownOrder, "order %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleGetLockedAmount(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, LockedAmountResponse{
		OrderID: fmt.Sprintf("%d", id),
		Amount:  s.engine.GetLockedAmount(id).Dec(),
	})
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagingParams(r)
	pairs, _ := s.pairs.ListPaginated(offset, limit)
	out := make([]PairResponse, len(pairs))
	for i, p := range pairs {
		out[i] = toPairResponse(p)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	id, err := parsePairID(mux.Vars(r)["pairId"])
	if err != nil {
		respondError(w, err)
		return
	}
	p, ok := s.pairs.Get(id)
	if !ok {
		respondError(w, errs.New(errs.InvalidPair, "pair not registered"))
		return
	}
	respondJSON(w, http.StatusOK, toPairResponse(p))
}

func (s *Server) handleGetBestPrices(w http.ResponseWriter, r *http.Request) {
	id, err := parsePairID(mux.Vars(r)["pairId"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"bestBuy":  s.engine.BestBuy(id).Dec(),
		"bestSell": s.engine.BestSell(id).Dec(),
	})
}

// handleGetBestOrder implements get_best_order: the single resting order
// at the front of the FIFO queue at the best price on the requested side.
func (s *Server) handleGetBestOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parsePairID(mux.Vars(r)["pairId"])
	if err != nil {
		respondError(w, err)
		return
	}
	side := orderstore.Buy
	if r.URL.Query().Get("side") == "sell" {
		side = orderstore.Sell
	}

	order, ok := s.engine.BestOrder(id, side)
	if !ok {
		respondError(w, errs.New(errs.UnknownOrder, "no resting orders on that side"))
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleGetOrdersPaginated(w http.ResponseWriter, r *http.Request) {
	id, err := parsePairID(mux.Vars(r)["pairId"])
	if err != nil {
		respondError(w, err)
		return
	}
	side := orderstore.Buy
	if r.URL.Query().Get("side") == "sell" {
		side = orderstore.Sell
	}

	_, limit := pagingParams(r)

	var startPrice *uint256.Int
	if v := r.URL.Query().Get("start_price"); v != "" {
		startPrice, err = parseUint256(v)
		if err != nil {
			respondError(w, errs.New(errs.AmountBelowMinimum, "invalid start_price"))
			return
		}
	}

	orders, next, total := s.engine.GetOrdersPaginated(id, side, startPrice, limit)
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	nextStartPrice := "0"
	if next != nil {
		nextStartPrice = next.Dec()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders":         out,
		"nextStartPrice": nextStartPrice,
		"totalCount":     total,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// helpers
// ==============================

func pagingParams(r *http.Request) (offset, limit int) {
	limit = 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &limit); err != nil || n != 1 {
			limit = 100
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &offset); err != nil || n != 1 {
			offset = 0
		}
	}
	return offset, limit
}

func parseUint256(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func parsePairID(s string) (pair.ID, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return pair.ID{}, errs.New(errs.InvalidPair, "malformed pair id")
	}
	var id pair.ID
	copy(id[:], b)
	return id, nil
}

func parseOrderID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, errs.New(errs.UnknownOrder, "malformed order id")
	}
	return id, nil
}

func toPairResponse(p pair.Pair) PairResponse {
	return PairResponse{
		PairID:        hexutil.Encode(p.ID[:]),
		Base:          p.Base.Hex(),
		Quote:         p.Quote.Hex(),
		BaseDecimals:  p.BaseDecimals,
		QuoteDecimals: p.QuoteDecimals,
		MinAmount:     p.MinAmount.Dec(),
		Active:        p.Active,
	}
}

func toOrderResponse(o orderstore.Order) OrderResponse {
	side := "buy"
	if o.Side == orderstore.Sell {
		side = "sell"
	}
	return OrderResponse{
		ID:        fmt.Sprintf("%d", o.ID),
		User:      o.User.Hex(),
		PairID:    hexutil.Encode(o.PairID[:]),
		Side:      side,
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Remaining: o.Remaining.Dec(),
		Active:    o.Active,
		CreatedAt: o.CreatedAt,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	kind, _ := errs.KindOf(err)
	switch kind {
	case errs.NotAuthorized, errs.InvalidSignature, errs.ReplayedApprovalID:
		status = http.StatusUnauthorized
	case errs.UnknownOrder, errs.InvalidPair:
		status = http.StatusNotFound
	case errs.Internal, errs.Overflow:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, ErrorResponse{Error: string(kind), Message: err.Error()})
}
